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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
)

// =============================================================================
// Webhook Sink
// =============================================================================

// webhookEnvelope is the POST body. Kind tells the receiver which
// payload field is set.
type webhookEnvelope struct {
	Kind   string       `json:"kind"` // "alert" or "report"
	Alert  *Alert       `json:"alert,omitempty"`
	Report *DailyReport `json:"report,omitempty"`
}

// WebhookSink POSTs alerts and reports as JSON to a configured URL.
//
// # Description
//
// Posts are rate-limited so an alert storm cannot hammer the receiver;
// over-limit posts fail immediately and the manager logs them (the
// alert stays in the buffer either way). The bearer token lives in
// locked memory for the life of the sink.
type WebhookSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	secret  *config.Secret
}

// NewWebhookSink builds the sink from config. The caller has already
// checked that a URL is configured.
func NewWebhookSink(cfg config.WebhookConfig) (*WebhookSink, error) {
	secret, err := cfg.Token()
	if err != nil {
		return nil, fmt.Errorf("resolve webhook token: %w", err)
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		secret:  secret,
	}, nil
}

// Name implements AlertSink.
func (s *WebhookSink) Name() string { return "webhook" }

// SendAlert implements AlertSink.
func (s *WebhookSink) SendAlert(ctx context.Context, alert Alert) error {
	return s.post(ctx, webhookEnvelope{Kind: "alert", Alert: &alert})
}

// SendReport implements AlertSink.
func (s *WebhookSink) SendReport(ctx context.Context, report *DailyReport) error {
	return s.post(ctx, webhookEnvelope{Kind: "report", Report: report})
}

func (s *WebhookSink) post(ctx context.Context, envelope webhookEnvelope) error {
	if !s.limiter.Allow() {
		return fmt.Errorf("webhook rate limit exceeded, dropping %s post", envelope.Kind)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret.IsSet() {
		req.Header.Set("Authorization", "Bearer "+s.secret.Reveal())
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close destroys the held token.
func (s *WebhookSink) Close() {
	s.secret.Destroy()
}

var _ AlertSink = (*WebhookSink)(nil)

// =============================================================================
// Email Spool Sink
// =============================================================================

// spoolEnvelope is what the external mailer reads from the outbox.
type spoolEnvelope struct {
	Kind     string       `json:"kind"`
	Subject  string       `json:"subject"`
	Alert    *Alert       `json:"alert,omitempty"`
	Report   *DailyReport `json:"report,omitempty"`
	QueuedAt time.Time    `json:"queuedAt"`
}

// EmailSpoolSink writes JSON envelopes into an outbox directory. The
// mail transport is an external collaborator that drains the
// directory; this process never speaks SMTP.
type EmailSpoolSink struct {
	dir string
}

// NewEmailSpoolSink creates the outbox directory if needed.
func NewEmailSpoolSink(dir string) (*EmailSpoolSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}
	return &EmailSpoolSink{dir: dir}, nil
}

// Name implements AlertSink.
func (s *EmailSpoolSink) Name() string { return "email-spool" }

// SendAlert implements AlertSink.
func (s *EmailSpoolSink) SendAlert(_ context.Context, alert Alert) error {
	envelope := spoolEnvelope{
		Kind:     "alert",
		Subject:  fmt.Sprintf("[harbormaster] %s %s: %s", alert.Severity, alert.Type, alert.Subject),
		Alert:    &alert,
		QueuedAt: time.Now(),
	}
	return s.write(fmt.Sprintf("alert-%d.json", alert.ID), envelope)
}

// SendReport implements AlertSink.
func (s *EmailSpoolSink) SendReport(_ context.Context, report *DailyReport) error {
	envelope := spoolEnvelope{
		Kind:     "report",
		Subject:  fmt.Sprintf("[harbormaster] daily report %s", report.Date),
		Report:   report,
		QueuedAt: time.Now(),
	}
	return s.write(fmt.Sprintf("report-%s.json", report.Date), envelope)
}

// write lands the envelope atomically so the mailer never reads a
// half-written file.
func (s *EmailSpoolSink) write(name string, envelope spoolEnvelope) error {
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spool envelope: %w", err)
	}
	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish spool file: %w", err)
	}
	return nil
}

var _ AlertSink = (*EmailSpoolSink)(nil)
