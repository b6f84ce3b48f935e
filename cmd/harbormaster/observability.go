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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Watch Daemon
// =============================================================================

var (
	// monitorTicks counts completed monitor passes.
	// Labels: monitor (service, resource, log, database, network, certificate)
	monitorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harbormaster",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Completed monitor passes by monitor name",
	}, []string{"monitor"})

	// probeLatency measures individual health probe durations.
	// Labels: service, probe (http, process, port)
	probeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harbormaster",
		Subsystem: "monitor",
		Name:      "probe_latency_seconds",
		Help:      "Health probe latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"service", "probe"})

	// serviceHealthy reports the last observed health of each service.
	// Labels: service
	serviceHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harbormaster",
		Subsystem: "monitor",
		Name:      "service_healthy",
		Help:      "1 when the service passed its last check, 0 otherwise",
	}, []string{"service"})

	// serviceUptimeScore exports the rolling uptime heuristic.
	// Labels: service
	serviceUptimeScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harbormaster",
		Subsystem: "monitor",
		Name:      "service_uptime_score",
		Help:      "Rolling uptime score between 0 and 100",
	}, []string{"service"})

	// eventsTotal counts events entering the dispatch loop.
	// Labels: kind (event kind, e.g. service.statusChange)
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harbormaster",
		Subsystem: "monitor",
		Name:      "events_total",
		Help:      "Events dispatched to the orchestrator by kind",
	}, []string{"kind"})

	// alertsTotal counts raised alerts.
	// Labels: type (service, resource, database, network, ssl, memoryLeak),
	// severity (info, warning, critical)
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harbormaster",
		Subsystem: "alerts",
		Name:      "created_total",
		Help:      "Alerts created by type and severity",
	}, []string{"type", "severity"})

	// alertDispatchFailures counts sink delivery failures.
	// Labels: sink (webhook, email)
	alertDispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harbormaster",
		Subsystem: "alerts",
		Name:      "dispatch_failures_total",
		Help:      "Alert deliveries that a sink rejected or timed out",
	}, []string{"sink"})

	// restartsTotal counts recovery outcomes.
	// Labels: service, outcome (success, failed, exhausted)
	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harbormaster",
		Subsystem: "recovery",
		Name:      "restarts_total",
		Help:      "Service restart attempts by outcome",
	}, []string{"service", "outcome"})
)

// observeServiceHealth updates the per-service gauges after a check.
func observeServiceHealth(service string, healthy bool, uptime float64) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	serviceHealthy.WithLabelValues(service).Set(v)
	serviceUptimeScore.WithLabelValues(service).Set(uptime)
}

// observeProbe records one probe's latency.
func observeProbe(service, probe string, seconds float64) {
	probeLatency.WithLabelValues(service, probe).Observe(seconds)
}
