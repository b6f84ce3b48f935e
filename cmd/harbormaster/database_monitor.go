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
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Database Monitor
// ============================================================================
//
// # Description
//
// Checks the vector database with its native client rather than a bare
// HTTP probe: the readiness endpoint proves the process answers, the
// schema read proves the API actually serves data. Round-trip latency
// lands in the metrics store under the "database" subject.
//
// Connection events are edge-triggered like service status changes: a
// database that stays down emits one connectionError event, and a
// recovery emits one healthy event.

// DatabaseMonitorConfig wires a DatabaseMonitor.
type DatabaseMonitorConfig struct {
	// Host is the weaviate host:port.
	Host string
	// Scheme is http or https.
	Scheme string

	Interval time.Duration
	Events   chan<- Event
	Store    *MetricsStore
	Logger   *logging.Logger
	Now      func() time.Time
}

// DatabaseMonitor watches the vector database.
type DatabaseMonitor struct {
	client   *weaviate.Client
	host     string
	interval time.Duration
	events   chan<- Event
	store    *MetricsStore
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	healthy bool
	tasks   taskSet
}

// NewDatabaseMonitor builds a DatabaseMonitor. Client construction
// fails only on malformed configuration, never on an unreachable
// database.
func NewDatabaseMonitor(cfg DatabaseMonitorConfig) (*DatabaseMonitor, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &DatabaseMonitor{
		client:   client,
		host:     cfg.Host,
		interval: cfg.Interval,
		events:   cfg.Events,
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      cfg.Now,
		healthy:  true, // optimistic until the first check says otherwise
	}, nil
}

// Name implements Monitor.
func (m *DatabaseMonitor) Name() string { return "database" }

// Start implements Monitor.
func (m *DatabaseMonitor) Start(sched schedule.Scheduler) {
	m.tasks.add(sched.Every("database", m.interval, func(ctx context.Context) {
		m.check(ctx)
		monitorTicks.WithLabelValues(m.Name()).Inc()
	}))
}

// Stop implements Monitor.
func (m *DatabaseMonitor) Stop() { m.tasks.Stop() }

// check runs one readiness-plus-schema round trip.
func (m *DatabaseMonitor) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ctx, span := otel.Tracer("harbormaster").Start(ctx, "database.check")
	defer span.End()

	start := time.Now()
	healthy, detail, classes := m.probe(ctx)
	latency := time.Since(start)

	if healthy {
		span.SetStatus(codes.Ok, "ready")
	} else {
		span.SetStatus(codes.Error, detail)
	}

	observeProbe("database", "http", latency.Seconds())
	if m.store != nil {
		m.store.Record(MetricLatency, "database", float64(latency.Milliseconds()))
	}

	m.mu.Lock()
	changed := m.healthy != healthy
	m.healthy = healthy
	m.mu.Unlock()

	if !changed {
		return
	}

	if healthy {
		m.logger.Info("database reachable", "host", m.host, "classes", classes)
		emit(ctx, m.events, Event{
			Kind:      EventDatabaseConnection,
			Subject:   "weaviate",
			Healthy:   true,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("database connection restored (%d classes)", classes),
			Data:      map[string]any{"host": m.host, "classes": classes, "latencyMs": latency.Milliseconds()},
			Timestamp: m.now(),
		})
		return
	}

	m.logger.Error("database check failed", "host", m.host, "detail", detail)
	emit(ctx, m.events, Event{
		Kind:      EventDatabaseConnection,
		Subject:   "weaviate",
		Healthy:   false,
		Severity:  SeverityCritical,
		Message:   "database connection error: " + detail,
		Data:      map[string]any{"host": m.host, "detail": detail},
		Timestamp: m.now(),
	})
}

// probe checks readiness then reads the schema. Returns the verdict, a
// failure detail, and the schema class count.
func (m *DatabaseMonitor) probe(ctx context.Context) (bool, string, int) {
	ready, err := m.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return false, fmt.Sprintf("readiness check failed: %v", err), 0
	}
	if !ready {
		return false, "database reports not ready", 0
	}

	schema, err := m.client.Schema().Getter().Do(ctx)
	if err != nil {
		return false, fmt.Sprintf("schema read failed: %v", err), 0
	}
	return true, "", len(schema.Classes)
}
