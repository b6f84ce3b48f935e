// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"math"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// leakSampleCount is how many trailing memory samples the detector
// inspects per service. With the resource monitor's one-minute cadence
// this is a six-minute trend.
const leakSampleCount = 6

// LeakDetector scans memory samples for sustained growth.
//
// # Description
//
// For each service with memory samples, the detector takes the last
// six readings and computes the relative growth from the first to the
// last. Growth above the configured threshold raises a memoryLeak
// warning. Services with fewer than six samples are skipped, so a
// freshly started daemon stays quiet until it has a real trend.
type LeakDetector struct {
	store     *MetricsStore
	alerts    *AlertManager
	threshold float64
	logger    *logging.Logger
}

// NewLeakDetector builds a detector. threshold is the growth rate in
// percent above which an alert is raised.
func NewLeakDetector(store *MetricsStore, alerts *AlertManager, threshold float64, logger *logging.Logger) *LeakDetector {
	if logger == nil {
		logger = logging.Default()
	}
	return &LeakDetector{
		store:     store,
		alerts:    alerts,
		threshold: threshold,
		logger:    logger,
	}
}

// Scan inspects every service with memory samples and returns the
// number of leak alerts raised.
func (d *LeakDetector) Scan() int {
	raised := 0
	for _, subject := range d.store.Subjects(MetricMemory) {
		if d.scanSubject(subject) {
			raised++
		}
	}
	return raised
}

// scanSubject evaluates one service's memory trend.
func (d *LeakDetector) scanSubject(subject string) bool {
	samples := d.store.GetRecent(MetricMemory, subject, leakSampleCount)
	if len(samples) < leakSampleCount {
		return false
	}

	first := samples[0].Value
	last := samples[len(samples)-1].Value
	if first <= 0 {
		// A zero baseline has no meaningful growth rate.
		return false
	}

	growth := (last - first) / first * 100
	if growth <= d.threshold {
		return false
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	d.logger.Warn("memory growth above threshold",
		"service", subject,
		"growth_pct", fmt.Sprintf("%.1f", growth),
		"threshold_pct", d.threshold)
	d.alerts.CreateAlert(AlertMemoryLeak, SeverityWarning, subject,
		fmt.Sprintf("possible memory leak in %s: %.1f%% growth over last %d samples", subject, growth, len(samples)),
		map[string]any{
			"growthRate": math.Round(growth*10) / 10,
			"threshold":  d.threshold,
			"samples":    values,
		})
	return true
}
