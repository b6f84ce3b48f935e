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
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Service Monitor
// ============================================================================
//
// # Description
//
// One scheduled task per service. A tick probes the health endpoint,
// the process table, and (when configured) the TCP port; the combined
// verdict is the AND of whatever is configured, so a dead process
// marks the service unhealthy even while its port still answers.
//
// Every failed check emits an event so the recovery manager can walk
// its restart budget one attempt per observation; healthy checks emit
// only on the unhealthy-to-healthy transition. The Changed flag marks
// transitions so the orchestrator alerts once per outage, not once per
// tick. The rolling uptime score moves +0.1 per healthy check (capped
// at 100) and -10 per failed check (floored at 0), so a single outage
// is visible in the score for hours.
//
// # Thread Safety
//
// Per-service tasks run concurrently on the scheduler; the status map
// is guarded by a mutex. Health() returns copies.

// ServiceMonitorConfig wires a ServiceMonitor.
type ServiceMonitorConfig struct {
	Fleet []fleet.ServiceDefinition

	// Interval is the default check cadence for services that do not
	// override it.
	Interval time.Duration

	// Probes. Nil fields get production defaults.
	HTTP    *probe.HTTPProber
	Process *probe.ProcessProber
	Port    *probe.PortProber

	Events chan<- Event
	Store  *MetricsStore
	Logger *logging.Logger
	Now    func() time.Time
}

// serviceRecord is the mutable per-service check state.
type serviceRecord struct {
	known    bool // first check completed
	healthy  bool
	uptime   float64
	failures int
	detail   string
	latency  time.Duration
	checked  time.Time
}

// ServiceMonitor owns the per-service health checks.
type ServiceMonitor struct {
	fleet    []fleet.ServiceDefinition
	interval time.Duration
	http     *probe.HTTPProber
	process  *probe.ProcessProber
	port     *probe.PortProber
	events   chan<- Event
	store    *MetricsStore
	logger   *logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	status map[string]*serviceRecord
	tasks  taskSet
}

// NewServiceMonitor builds a ServiceMonitor.
func NewServiceMonitor(cfg ServiceMonitorConfig) *ServiceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = fleet.DefaultCheckInterval
	}
	if cfg.HTTP == nil {
		cfg.HTTP = probe.NewHTTPProber(fleet.DefaultProbeTimeout)
	}
	if cfg.Process == nil {
		cfg.Process = probe.NewProcessProber(nil)
	}
	if cfg.Port == nil {
		cfg.Port = probe.NewPortProber(fleet.DefaultProbeTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ServiceMonitor{
		fleet:    cfg.Fleet,
		interval: cfg.Interval,
		http:     cfg.HTTP,
		process:  cfg.Process,
		port:     cfg.Port,
		events:   cfg.Events,
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      cfg.Now,
		status:   make(map[string]*serviceRecord),
	}
}

// Name implements Monitor.
func (m *ServiceMonitor) Name() string { return "service" }

// Start registers one task per service. Per-service intervals override
// the monitor default.
func (m *ServiceMonitor) Start(sched schedule.Scheduler) {
	for _, svc := range m.fleet {
		svc := svc
		interval := svc.CheckInterval
		if interval <= 0 {
			interval = m.interval
		}
		m.tasks.add(sched.Every("service:"+svc.Name, interval, func(ctx context.Context) {
			m.checkService(ctx, svc)
			monitorTicks.WithLabelValues(m.Name()).Inc()
		}))
	}
}

// Stop implements Monitor.
func (m *ServiceMonitor) Stop() { m.tasks.Stop() }

// checkService runs one full check for one service. The tick is
// bounded at three probe budgets so a wedged probe cannot hold its
// task slot indefinitely.
func (m *ServiceMonitor) checkService(ctx context.Context, svc fleet.ServiceDefinition) {
	ctx, cancel := context.WithTimeout(ctx, 3*svc.ProbeTimeout())
	defer cancel()

	healthy := true
	var details []string
	var latency time.Duration

	if svc.HealthURL != "" {
		res, err := m.http.Probe(ctx, svc.HealthURL)
		if err != nil {
			healthy = false
			details = append(details, fmt.Sprintf("endpoint: %v", err))
		} else {
			latency = res.Latency
			observeProbe(svc.Name, "http", res.Latency.Seconds())
			if m.store != nil {
				m.store.Record(MetricLatency, svc.Name, float64(res.Latency.Milliseconds()))
			}
			switch {
			case !res.Healthy:
				healthy = false
				details = append(details, "endpoint: "+res.Detail)
			case svc.MinVersion != "":
				if v := versionFromBody(res.Body); v != "" && semverBelow(v, svc.MinVersion) {
					healthy = false
					details = append(details, fmt.Sprintf("version %s below minimum %s", v, svc.MinVersion))
				}
			}
		}
	}

	if svc.ProcessPattern != "" {
		res, err := m.process.Probe(ctx, svc.ProcessPattern)
		if err != nil {
			healthy = false
			details = append(details, fmt.Sprintf("process: %v", err))
		} else {
			observeProbe(svc.Name, "process", res.Latency.Seconds())
			if !res.Healthy {
				healthy = false
				details = append(details, "process: "+res.Detail)
			}
			if m.store != nil && res.Matches > 0 {
				if res.MemPercent > 0 {
					m.store.Record(MetricMemory, svc.Name, res.MemPercent)
				}
				if res.CPUPercent > 0 {
					m.store.Record(MetricCPU, svc.Name, res.CPUPercent)
				}
			}
		}
	}

	if svc.Port > 0 {
		addr := net.JoinHostPort("localhost", strconv.Itoa(svc.Port))
		res, err := m.port.Probe(ctx, addr)
		if err != nil {
			healthy = false
			details = append(details, fmt.Sprintf("port: %v", err))
		} else {
			observeProbe(svc.Name, "port", res.Latency.Seconds())
			if !res.Healthy {
				healthy = false
				details = append(details, "port: "+res.Detail)
			}
		}
	}

	detail := strings.Join(details, "; ")
	now := m.now()

	m.mu.Lock()
	rec, ok := m.status[svc.Name]
	if !ok {
		// Optimistic start: a service is presumed healthy until a
		// check says otherwise.
		rec = &serviceRecord{healthy: true, uptime: 100}
		m.status[svc.Name] = rec
	}
	prevHealthy := rec.healthy
	first := !rec.known
	rec.known = true
	if healthy {
		rec.uptime = math.Min(100, rec.uptime+0.1)
		rec.failures = 0
	} else {
		rec.uptime = math.Max(0, rec.uptime-10)
		rec.failures++
	}
	rec.healthy = healthy
	rec.detail = detail
	rec.latency = latency
	rec.checked = now
	uptime := rec.uptime
	failures := rec.failures
	m.mu.Unlock()

	observeServiceHealth(svc.Name, healthy, uptime)

	changed := healthy != prevHealthy || (first && !healthy)
	if healthy && !changed {
		// Steady healthy state makes no noise. Failed checks always
		// emit: the recovery manager spends one restart attempt per
		// observed failure, not one per outage.
		return
	}

	severity := SeverityInfo
	message := fmt.Sprintf("%s recovered", svc.Name)
	if !healthy {
		severity = SeverityCritical
		message = fmt.Sprintf("%s is unhealthy: %s", svc.Name, detail)
		if changed {
			m.logger.Warn("service check failed",
				"service", svc.Name,
				"detail", detail,
				"consecutive_failures", failures)
		}
	} else {
		m.logger.Info("service recovered", "service", svc.Name)
	}

	emit(ctx, m.events, Event{
		Kind:     EventServiceStatusChange,
		Subject:  svc.Name,
		Healthy:  healthy,
		Changed:  changed,
		Severity: severity,
		Message:  message,
		Data: map[string]any{
			"uptime":              uptime,
			"consecutiveFailures": failures,
			"detail":              detail,
		},
		Timestamp: now,
	})
}

// Health returns a copy of every checked service's state, sorted by
// name. The State field is filled in by the orchestrator, which owns
// the recovery view.
func (m *ServiceMonitor) Health() []ServiceHealth {
	m.mu.Lock()
	out := make([]ServiceHealth, 0, len(m.status))
	for name, rec := range m.status {
		out = append(out, ServiceHealth{
			Name:        name,
			Healthy:     rec.healthy,
			Uptime:      rec.uptime,
			Detail:      rec.detail,
			Latency:     rec.latency,
			LastChecked: rec.checked,
			Failures:    rec.failures,
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// versionFromBody pulls a "version" field out of a health payload.
// Returns "" when the body is not JSON or carries no version.
func versionFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Version)
}

// semverBelow reports whether have sorts before want. Both sides
// tolerate a missing "v" prefix; unparseable versions never fail the
// gate.
func semverBelow(have, want string) bool {
	h, w := canonicalVersion(have), canonicalVersion(want)
	if !semver.IsValid(h) || !semver.IsValid(w) {
		return false
	}
	return semver.Compare(h, w) < 0
}

func canonicalVersion(v string) string {
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
