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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
)

// reportWindowHours is the trailing window the daily report covers.
const reportWindowHours = 24

// DailyReport is the once-a-day fleet summary shipped to the alert
// sinks and, when configured, the archive bucket.
type DailyReport struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"` // YYYY-MM-DD
	GeneratedAt time.Time `json:"generatedAt"`
	Host        string    `json:"host,omitempty"`

	Services  []ServiceHealth      `json:"services"`
	Alerts    ReportAlertSummary   `json:"alerts"`
	Incidents []Incident           `json:"incidents"`
	Resources map[string]Aggregate `json:"resources"`

	// Summary is an optional model-written narrative of the day.
	Summary string `json:"summary,omitempty"`
}

// ReportAlertSummary counts the day's alerts.
type ReportAlertSummary struct {
	Total      int               `json:"total"`
	BySeverity map[Severity]int  `json:"bySeverity"`
	ByType     map[AlertType]int `json:"byType"`
}

// ReportSummarizer turns a report into a short prose summary.
type ReportSummarizer interface {
	Summarize(ctx context.Context, report *DailyReport) (string, error)
}

// ReportBuilderConfig wires a ReportBuilder.
type ReportBuilderConfig struct {
	Alerts   *AlertManager
	Recovery *RecoveryManager
	Store    *MetricsStore

	// Services supplies the current merged health view.
	Services func() []ServiceHealth

	// Sysinfo supplies the hostname for the report header. Optional.
	Sysinfo sysinfo.Provider

	// Summarizer writes the optional narrative. Optional; failures are
	// logged and the report ships without a summary.
	Summarizer ReportSummarizer

	Logger *logging.Logger
	Now    func() time.Time
}

// ReportBuilder assembles DailyReports from the live components.
type ReportBuilder struct {
	alerts     *AlertManager
	recovery   *RecoveryManager
	store      *MetricsStore
	services   func() []ServiceHealth
	sys        sysinfo.Provider
	summarizer ReportSummarizer
	logger     *logging.Logger
	now        func() time.Time
}

// NewReportBuilder builds a ReportBuilder.
func NewReportBuilder(cfg ReportBuilderConfig) *ReportBuilder {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ReportBuilder{
		alerts:     cfg.Alerts,
		recovery:   cfg.Recovery,
		store:      cfg.Store,
		services:   cfg.Services,
		sys:        cfg.Sysinfo,
		summarizer: cfg.Summarizer,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Build assembles the report for the trailing 24 hours.
func (b *ReportBuilder) Build(ctx context.Context) *DailyReport {
	now := b.now()
	cutoff := now.Add(-reportWindowHours * time.Hour)

	report := &DailyReport{
		ID:          uuid.New().String(),
		Date:        now.Format("2006-01-02"),
		GeneratedAt: now,
		Resources:   make(map[string]Aggregate),
	}

	if b.sys != nil {
		if host, err := b.sys.Hostname(ctx); err == nil {
			report.Host = host
		}
	}

	if b.services != nil {
		report.Services = b.services()
	}

	if b.alerts != nil {
		summary := ReportAlertSummary{
			BySeverity: make(map[Severity]int),
			ByType:     make(map[AlertType]int),
		}
		for _, alert := range b.alerts.Alerts(0) {
			if alert.Timestamp.Before(cutoff) {
				continue
			}
			summary.Total++
			summary.BySeverity[alert.Severity]++
			summary.ByType[alert.Type]++
		}
		report.Alerts = summary
	}

	if b.recovery != nil {
		for _, incident := range b.recovery.Incidents(0) {
			if incident.Timestamp.Before(cutoff) {
				continue
			}
			report.Incidents = append(report.Incidents, incident)
		}
	}

	if b.store != nil {
		for _, subject := range []string{"cpu", "memory", "disk", "load"} {
			agg := b.store.GetAggregatedSubject(MetricHost, subject, reportWindowHours)
			if agg.Count > 0 {
				report.Resources[subject] = agg
			}
		}
		if agg := b.store.GetAggregated(MetricLatency, reportWindowHours); agg.Count > 0 {
			report.Resources["latency"] = agg
		}
	}

	if b.summarizer != nil {
		text, err := b.summarizer.Summarize(ctx, report)
		if err != nil {
			// The report is still useful without prose.
			b.logger.Warn("report summary generation failed", "error", err)
		} else {
			report.Summary = text
		}
	}

	return report
}
