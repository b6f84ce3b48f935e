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
	"sync/atomic"
	"time"
)

// =============================================================================
// Alert and Incident Types
// =============================================================================

// AlertType categorizes what subsystem an alert is about.
type AlertType string

const (
	AlertService    AlertType = "service"
	AlertResource   AlertType = "resource"
	AlertDatabase   AlertType = "database"
	AlertNetwork    AlertType = "network"
	AlertSSL        AlertType = "ssl"
	AlertMemoryLeak AlertType = "memoryLeak"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single notification. Identical alerts raised twice are two
// distinct entries; the manager never deduplicates.
type Alert struct {
	ID        uint64         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Incident records one recovery action and how it went.
type Incident struct {
	ID        uint64    `json:"id"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Incident outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// lastIssuedID backs nextID. Package scope so alerts and incidents
// share one sequence.
var lastIssuedID atomic.Uint64

// nextID returns the current time in milliseconds, bumped past the
// previously issued value when two calls land in the same millisecond.
// IDs stay millisecond-scale and strictly increase.
func nextID(now time.Time) uint64 {
	ms := uint64(now.UnixMilli())
	for {
		last := lastIssuedID.Load()
		id := ms
		if id <= last {
			id = last + 1
		}
		if lastIssuedID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// =============================================================================
// Service Health States
// =============================================================================

// HealthState is the recovery state machine position for one service.
type HealthState string

const (
	StateHealthy    HealthState = "HEALTHY"
	StateUnhealthy  HealthState = "UNHEALTHY"
	StateRecovering HealthState = "RECOVERING"
	StateExhausted  HealthState = "RECOVERY_EXHAUSTED"
)

// ServiceHealth is the snapshot entry for one monitored service.
type ServiceHealth struct {
	Name        string        `json:"name"`
	State       HealthState   `json:"state"`
	Healthy     bool          `json:"healthy"`
	Uptime      float64       `json:"uptime"`
	Detail      string        `json:"detail,omitempty"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"lastChecked"`
	Failures    int           `json:"consecutiveFailures"`
}

// Observation is the snapshot entry for a non-service subsystem
// (resources, database, network, certificates, logs).
type Observation struct {
	Kind      EventKind      `json:"kind"`
	Subject   string         `json:"subject"`
	Healthy   bool           `json:"healthy"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusSnapshot is the full picture the status API serves.
type StatusSnapshot struct {
	Services    map[string]ServiceHealth `json:"services"`
	Subsystems  map[string]Observation   `json:"subsystems"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// =============================================================================
// Metric Samples
// =============================================================================

// MetricSample is one timestamped measurement.
type MetricSample struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Metric types recorded by the monitors.
const (
	MetricMemory  = "memory"  // process memory percent per service
	MetricCPU     = "cpu"     // process cpu percent per service
	MetricLatency = "latency" // health endpoint latency in ms
	MetricHost    = "host"    // host-level resources, subject names which
)

// Aggregate summarizes samples over a trailing window.
type Aggregate struct {
	Type  string  `json:"type"`
	Hours int     `json:"hours"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P99   float64 `json:"p99"`
}
