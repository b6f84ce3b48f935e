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
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
)

// ============================================================================
// Resource Monitor
// ============================================================================
//
// # Description
//
// Samples host memory, CPU, disk, and load each tick and records them
// in the metrics store. Events are level-triggered, not edge-per-tick:
// a resource crossing into warning or critical emits once, and again
// only when it crosses another boundary (including back to normal).
// Sitting at 96% disk for an hour is one event, not sixty.

// resource level tracked between ticks. The empty Severity means
// "within thresholds".
const levelOK = Severity("")

// ResourceMonitorConfig wires a ResourceMonitor.
type ResourceMonitorConfig struct {
	Provider   sysinfo.Provider
	Thresholds config.ThresholdConfig

	// DiskPath is the filesystem checked for usage. Default "/".
	DiskPath string

	Interval time.Duration
	Events   chan<- Event
	Store    *MetricsStore
	Logger   *logging.Logger
	Now      func() time.Time
}

// ResourceMonitor watches host-level resources.
type ResourceMonitor struct {
	provider   sysinfo.Provider
	thresholds config.ThresholdConfig
	diskPath   string
	interval   time.Duration
	events     chan<- Event
	store      *MetricsStore
	logger     *logging.Logger
	now        func() time.Time
	cores      int

	mu     sync.Mutex
	levels map[string]Severity
	tasks  taskSet
}

// NewResourceMonitor builds a ResourceMonitor.
func NewResourceMonitor(cfg ResourceMonitorConfig) *ResourceMonitor {
	if cfg.Provider == nil {
		cfg.Provider = sysinfo.NewOSProvider()
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cores := runtime.NumCPU()
	if cores < 1 {
		cores = 1
	}
	return &ResourceMonitor{
		provider:   cfg.Provider,
		thresholds: cfg.Thresholds,
		diskPath:   cfg.DiskPath,
		interval:   cfg.Interval,
		events:     cfg.Events,
		store:      cfg.Store,
		logger:     cfg.Logger,
		now:        cfg.Now,
		cores:      cores,
		levels:     make(map[string]Severity),
	}
}

// Name implements Monitor.
func (m *ResourceMonitor) Name() string { return "resource" }

// Start implements Monitor.
func (m *ResourceMonitor) Start(sched schedule.Scheduler) {
	m.tasks.add(sched.Every("resource", m.interval, func(ctx context.Context) {
		m.check(ctx)
		monitorTicks.WithLabelValues(m.Name()).Inc()
	}))
}

// Stop implements Monitor.
func (m *ResourceMonitor) Stop() { m.tasks.Stop() }

// check samples every resource once.
func (m *ResourceMonitor) check(ctx context.Context) {
	if mem, err := m.provider.Memory(ctx); err != nil {
		m.logger.Warn("memory sample failed", "error", err)
	} else {
		m.record("memory", mem.UsedPercent)
		m.evaluate(ctx, "memory", mem.UsedPercent,
			m.thresholds.MemoryWarnPercent, m.thresholds.MemoryCriticalPercent,
			map[string]any{
				"usedPercent": mem.UsedPercent,
				"availableKB": mem.AvailableKB,
			})
	}

	if cpu, err := m.provider.CPU(ctx); err != nil {
		m.logger.Warn("cpu sample failed", "error", err)
	} else {
		m.record("cpu", cpu.UsedPercent)
		m.evaluate(ctx, "cpu", cpu.UsedPercent,
			m.thresholds.CPUWarnPercent, m.thresholds.CPUCriticalPercent,
			map[string]any{"usedPercent": cpu.UsedPercent})
	}

	if disk, err := m.provider.Disk(ctx, m.diskPath); err != nil {
		m.logger.Warn("disk sample failed", "path", m.diskPath, "error", err)
	} else {
		m.record("disk", disk.UsedPercent)
		m.evaluate(ctx, "disk", disk.UsedPercent,
			m.thresholds.DiskWarnPercent, m.thresholds.DiskCriticalPercent,
			map[string]any{
				"usedPercent": disk.UsedPercent,
				"freeBytes":   disk.FreeBytes,
				"path":        m.diskPath,
			})
	}

	if load, err := m.provider.LoadAverage(ctx); err != nil {
		m.logger.Warn("load sample failed", "error", err)
	} else {
		perCore := load.Load1 / float64(m.cores)
		m.record("load", perCore)
		level := levelOK
		if m.thresholds.LoadPerCore > 0 && perCore > m.thresholds.LoadPerCore {
			level = SeverityWarning
		}
		m.crossing(ctx, "load", level, fmt.Sprintf("%.2f per core", perCore), map[string]any{
			"load1":   load.Load1,
			"cores":   m.cores,
			"perCore": perCore,
		})
	}
}

func (m *ResourceMonitor) record(resource string, value float64) {
	if m.store != nil {
		m.store.Record(MetricHost, resource, value)
	}
}

// evaluate classifies value against warn/critical percents and reports
// any boundary crossing.
func (m *ResourceMonitor) evaluate(ctx context.Context, resource string, value, warn, critical float64, data map[string]any) {
	level := levelOK
	switch {
	case critical > 0 && value >= critical:
		level = SeverityCritical
	case warn > 0 && value >= warn:
		level = SeverityWarning
	}
	data["warnPercent"] = warn
	data["criticalPercent"] = critical
	m.crossing(ctx, resource, level, fmt.Sprintf("%.1f%%", value), data)
}

// crossing emits an event when the resource's level changed since the
// previous tick. display is the human-readable current value.
func (m *ResourceMonitor) crossing(ctx context.Context, resource string, level Severity, display string, data map[string]any) {
	m.mu.Lock()
	prev, seen := m.levels[resource]
	if seen && prev == level {
		m.mu.Unlock()
		return
	}
	if !seen && level == levelOK {
		// First sample and everything is fine; nothing to announce.
		m.levels[resource] = level
		m.mu.Unlock()
		return
	}
	m.levels[resource] = level
	m.mu.Unlock()

	healthy := level == levelOK
	severity := level
	message := fmt.Sprintf("%s at %s exceeds %s threshold", resource, display, level)
	if healthy {
		severity = SeverityInfo
		message = fmt.Sprintf("%s back within thresholds (%s)", resource, display)
		m.logger.Info("resource recovered", "resource", resource, "value", display)
	} else {
		m.logger.Warn("resource threshold crossed",
			"resource", resource,
			"level", string(level),
			"value", display)
	}

	emit(ctx, m.events, Event{
		Kind:      EventResourceThreshold,
		Subject:   resource,
		Healthy:   healthy,
		Severity:  severity,
		Message:   message,
		Data:      data,
		Timestamp: m.now(),
	})
}
