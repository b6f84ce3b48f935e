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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
)

type fakeSummarizer struct {
	text string
	err  error
	seen *DailyReport
}

func (s *fakeSummarizer) Summarize(ctx context.Context, report *DailyReport) (string, error) {
	s.seen = report
	return s.text, s.err
}

type reportHarness struct {
	builder  *ReportBuilder
	alerts   *AlertManager
	recovery *RecoveryManager
	store    *MetricsStore
	clock    *manualClock
}

func newReportHarness(t *testing.T, summarizer ReportSummarizer) *reportHarness {
	t.Helper()
	clock := newManualClock()

	store, err := NewMetricsStore(MetricsStoreConfig{
		Logger: quietLogger(t),
		Now:    clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	alerts := NewAlertManager(AlertManagerConfig{Logger: quietLogger(t), Now: clock.Now})
	recovery := NewRecoveryManager(RecoveryManagerConfig{
		Enabled:  true,
		Executor: &fakeExecutor{},
		Alerts:   alerts,
		Logger:   quietLogger(t),
		Now:      clock.Now,
	})

	builder := NewReportBuilder(ReportBuilderConfig{
		Alerts:   alerts,
		Recovery: recovery,
		Store:    store,
		Services: func() []ServiceHealth {
			return []ServiceHealth{
				{Name: "forecast", State: StateHealthy, Healthy: true, Uptime: 99.8},
				{Name: "weaviate", State: StateRecovering, Healthy: false, Uptime: 87.2},
			}
		},
		Sysinfo:    sysinfo.NewFake(),
		Summarizer: summarizer,
		Logger:     quietLogger(t),
		Now:        clock.Now,
	})
	return &reportHarness{builder: builder, alerts: alerts, recovery: recovery, store: store, clock: clock}
}

func TestReportBuilder_Build(t *testing.T) {
	h := newReportHarness(t, nil)
	h.alerts.CreateAlert(AlertService, SeverityWarning, "forecast", "slow responses", nil)
	h.alerts.CreateAlert(AlertService, SeverityWarning, "weaviate", "down", nil)
	h.alerts.CreateAlert(AlertResource, SeverityCritical, "disk", "disk usage critical", nil)
	h.recovery.RecordIncident("restart", "weaviate", OutcomeSuccess)
	h.store.Record(MetricHost, "cpu", 30)
	h.store.Record(MetricHost, "cpu", 50)
	h.store.Record(MetricLatency, "forecast", 120)

	report := h.builder.Build(context.Background())

	_, err := uuid.Parse(report.ID)
	assert.NoError(t, err, "report IDs are UUIDs")
	assert.Equal(t, "2025-06-01", report.Date)
	assert.Equal(t, h.clock.Now(), report.GeneratedAt)
	assert.Equal(t, "testhost", report.Host)

	require.Len(t, report.Services, 2)
	assert.Equal(t, "forecast", report.Services[0].Name)

	assert.Equal(t, 3, report.Alerts.Total)
	assert.Equal(t, 2, report.Alerts.BySeverity[SeverityWarning])
	assert.Equal(t, 1, report.Alerts.BySeverity[SeverityCritical])
	assert.Equal(t, 2, report.Alerts.ByType[AlertService])
	assert.Equal(t, 1, report.Alerts.ByType[AlertResource])

	require.Len(t, report.Incidents, 1)
	assert.Equal(t, "restart", report.Incidents[0].Action)

	cpu, ok := report.Resources["cpu"]
	require.True(t, ok)
	assert.Equal(t, 2, cpu.Count)
	assert.Equal(t, 40.0, cpu.Mean)
	latency, ok := report.Resources["latency"]
	require.True(t, ok)
	assert.Equal(t, 120.0, latency.Max)

	assert.Empty(t, report.Summary, "no summarizer configured")
}

func TestReportBuilder_WindowExcludesOldEntries(t *testing.T) {
	h := newReportHarness(t, nil)

	h.alerts.CreateAlert(AlertService, SeverityWarning, "forecast", "stale", nil)
	h.recovery.RecordIncident("restart", "forecast", OutcomeSuccess)
	h.clock.Advance(25 * time.Hour)
	h.alerts.CreateAlert(AlertService, SeverityWarning, "weaviate", "fresh", nil)
	h.recovery.RecordIncident("restart", "weaviate", OutcomeSuccess)

	report := h.builder.Build(context.Background())

	assert.Equal(t, 1, report.Alerts.Total, "day-old alerts fall outside the window")
	require.Len(t, report.Incidents, 1)
	assert.Equal(t, "weaviate", report.Incidents[0].Subject)
}

func TestReportBuilder_SummarizerText(t *testing.T) {
	summarizer := &fakeSummarizer{text: "All services nominal."}
	h := newReportHarness(t, summarizer)

	report := h.builder.Build(context.Background())

	assert.Equal(t, "All services nominal.", report.Summary)
	require.NotNil(t, summarizer.seen)
	assert.Equal(t, report.ID, summarizer.seen.ID, "summarizer sees the assembled report")
}

func TestReportBuilder_SummarizerFailureTolerated(t *testing.T) {
	h := newReportHarness(t, &fakeSummarizer{err: assert.AnError})
	h.alerts.CreateAlert(AlertService, SeverityWarning, "forecast", "down", nil)

	report := h.builder.Build(context.Background())

	assert.Empty(t, report.Summary)
	assert.Equal(t, 1, report.Alerts.Total, "report ships without prose")
}

func TestReportBuilder_MinimalWiring(t *testing.T) {
	builder := NewReportBuilder(ReportBuilderConfig{Logger: quietLogger(t)})

	report := builder.Build(context.Background())

	require.NotNil(t, report)
	assert.NotEmpty(t, report.ID)
	assert.Empty(t, report.Host)
	assert.Zero(t, report.Alerts.Total)
	assert.Empty(t, report.Resources)
}
