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
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/archive"
	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/util"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// =============================================================================
// Alert Manager
// =============================================================================

// AlertSink delivers alerts and reports to an external destination.
//
// # Description
//
// Sinks are external collaborators: the webhook poster and the email
// spool implement this. Delivery failures are logged by the manager
// and never remove the alert from the buffer.
type AlertSink interface {
	Name() string
	SendAlert(ctx context.Context, alert Alert) error
	SendReport(ctx context.Context, report *DailyReport) error
}

// AlertManagerConfig configures an AlertManager.
type AlertManagerConfig struct {
	// Capacity bounds the in-memory alert buffer. Zero means 100.
	Capacity int

	// Sinks receive every alert and report. May be empty.
	Sinks []AlertSink

	// Archive mirrors alerts to the on-disk history. Nil disables.
	Archive *archive.Store

	Logger *logging.Logger

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// AlertManager owns the bounded most-recent-first alert buffer and
// fans alerts out to live subscribers, the archive, and the sinks.
//
// # Description
//
// CreateAlert never deduplicates: raising the same payload twice
// produces two buffer entries with distinct IDs. The buffer evicts the
// oldest entry beyond capacity. Sink and archive writes run on
// background goroutines so a slow webhook cannot stall the event
// dispatch path.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type AlertManager struct {
	buffer *util.RingBuffer[Alert]
	sinks  []AlertSink
	archiv *archive.Store
	logger *logging.Logger
	now    func() time.Time

	subMu   sync.Mutex
	subs    map[uint64]chan Alert
	nextSub uint64
}

// NewAlertManager builds an AlertManager.
func NewAlertManager(cfg AlertManagerConfig) *AlertManager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AlertManager{
		buffer: util.NewRingBuffer[Alert](cfg.Capacity),
		sinks:  cfg.Sinks,
		archiv: cfg.Archive,
		logger: cfg.Logger,
		now:    cfg.Now,
		subs:   make(map[uint64]chan Alert),
	}
}

// CreateAlert assigns an ID and timestamp, stores the alert, and fans
// it out. Returns the stored alert.
func (m *AlertManager) CreateAlert(alertType AlertType, severity Severity, subject, message string, data map[string]any) Alert {
	now := m.now()
	alert := Alert{
		ID:        nextID(now),
		Type:      alertType,
		Severity:  severity,
		Subject:   subject,
		Message:   message,
		Data:      data,
		Timestamp: now,
	}

	m.buffer.Push(alert)
	alertsTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	m.logger.Info("alert raised",
		"id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"subject", alert.Subject,
		"message", alert.Message,
	)

	m.publish(alert)

	if m.archiv != nil {
		util.SafeGo(func() { m.archiveAlert(alert) }, m.logPanic)
	}
	if len(m.sinks) > 0 {
		util.SafeGo(func() { m.dispatchAlert(alert) }, m.logPanic)
	}
	return alert
}

// Alerts returns up to n alerts, most recent first. n <= 0 returns
// the whole buffer.
func (m *AlertManager) Alerts(n int) []Alert {
	return m.buffer.NewestFirst(n)
}

// SendReport dispatches the daily report to every sink. Dispatch
// failures are logged and never propagate.
func (m *AlertManager) SendReport(ctx context.Context, report *DailyReport) {
	for _, sink := range m.sinks {
		if err := sink.SendReport(ctx, report); err != nil {
			m.logger.Error("report dispatch failed", "sink", sink.Name(), "error", err)
		}
	}
}

// Subscribe registers a live alert feed. The returned channel drops
// alerts when the subscriber lags; it is closed by Unsubscribe.
func (m *AlertManager) Subscribe() (uint64, <-chan Alert) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSub++
	id := m.nextSub
	ch := make(chan Alert, 16)
	m.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a live feed and closes its channel.
func (m *AlertManager) Unsubscribe(id uint64) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *AlertManager) publish(alert Alert) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- alert:
		default:
			// Slow subscriber; it catches up from the buffer.
		}
	}
}

func (m *AlertManager) dispatchAlert(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sink := range m.sinks {
		if err := sink.SendAlert(ctx, alert); err != nil {
			alertDispatchFailures.WithLabelValues(sink.Name()).Inc()
			m.logger.Error("alert dispatch failed",
				"sink", sink.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
}

func (m *AlertManager) archiveAlert(alert Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Warn("alert archive encode failed", "alert_id", alert.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.archiv.Put(ctx, archive.KindAlert, alert.ID, data); err != nil {
		m.logger.Warn("alert archive write failed", "alert_id", alert.ID, "error", err)
	}
}

func (m *AlertManager) logPanic(r util.PanicReport) {
	m.logger.Error("alert background task panicked", "panic", r.PanicValue)
}
