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
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Certificate Monitor
// ============================================================================
//
// # Description
//
// Performs a TLS handshake against each configured https endpoint once
// per interval (daily by default) and inspects the leaf certificate's
// expiry. Chain verification is deliberately skipped: a self-signed
// internal certificate still has an expiry worth watching, and trust
// decisions belong to the services, not the monitor.

// certLevel classifies one endpoint's certificate state.
type certLevel int

const (
	certOK certLevel = iota
	certExpiring
	certExpired
)

// CertificateMonitorConfig wires a CertificateMonitor.
type CertificateMonitorConfig struct {
	// Endpoints are https URLs whose certificates are checked.
	Endpoints []string

	// WarnDays is the alert horizon before expiry.
	WarnDays int

	Interval time.Duration
	Events   chan<- Event
	Logger   *logging.Logger
	Now      func() time.Time
}

// CertificateMonitor watches TLS certificate expiry.
type CertificateMonitor struct {
	endpoints []string
	warnDays  int
	interval  time.Duration
	events    chan<- Event
	logger    *logging.Logger
	now       func() time.Time

	// dial is swapped in tests to avoid real TLS listeners.
	dial func(ctx context.Context, addr string) (*tls.Conn, error)

	mu     sync.Mutex
	levels map[string]certLevel
	tasks  taskSet
}

// NewCertificateMonitor builds a CertificateMonitor.
func NewCertificateMonitor(cfg CertificateMonitorConfig) *CertificateMonitor {
	if cfg.WarnDays <= 0 {
		cfg.WarnDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &CertificateMonitor{
		endpoints: cfg.Endpoints,
		warnDays:  cfg.WarnDays,
		interval:  cfg.Interval,
		events:    cfg.Events,
		logger:    cfg.Logger,
		now:       cfg.Now,
		levels:    make(map[string]certLevel),
	}
	m.dial = m.tlsDial
	return m
}

// Name implements Monitor.
func (m *CertificateMonitor) Name() string { return "certificate" }

// Start implements Monitor.
func (m *CertificateMonitor) Start(sched schedule.Scheduler) {
	if len(m.endpoints) == 0 {
		return
	}
	m.tasks.add(sched.Every("certificate", m.interval, func(ctx context.Context) {
		for _, endpoint := range m.endpoints {
			m.checkEndpoint(ctx, endpoint)
		}
		monitorTicks.WithLabelValues(m.Name()).Inc()
	}))
}

// Stop implements Monitor.
func (m *CertificateMonitor) Stop() { m.tasks.Stop() }

// checkEndpoint inspects one endpoint's leaf certificate.
func (m *CertificateMonitor) checkEndpoint(ctx context.Context, endpoint string) {
	addr, err := hostPortFromURL(endpoint)
	if err != nil {
		m.logger.Warn("bad certificate endpoint", "endpoint", endpoint, "error", err)
		return
	}

	conn, err := m.dial(ctx, addr)
	if err != nil {
		// Reachability problems are the service/network monitors' beat.
		m.logger.Warn("certificate handshake failed", "endpoint", endpoint, "error", err)
		return
	}
	certs := conn.ConnectionState().PeerCertificates
	conn.Close()
	if len(certs) == 0 {
		m.logger.Warn("no peer certificate", "endpoint", endpoint)
		return
	}

	leaf := certs[0]
	now := m.now()
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	level := certOK
	switch {
	case !now.Before(leaf.NotAfter):
		level = certExpired
	case daysLeft <= float64(m.warnDays):
		level = certExpiring
	}

	m.mu.Lock()
	prev, seen := m.levels[endpoint]
	changed := (!seen && level != certOK) || (seen && prev != level)
	m.levels[endpoint] = level
	m.mu.Unlock()

	if !changed {
		return
	}

	data := map[string]any{
		"endpoint": endpoint,
		"notAfter": leaf.NotAfter,
		"daysLeft": int(daysLeft),
		"issuer":   leaf.Issuer.CommonName,
		"subject":  leaf.Subject.CommonName,
	}

	switch level {
	case certExpired:
		m.logger.Error("certificate expired", "endpoint", endpoint, "not_after", leaf.NotAfter)
		emit(ctx, m.events, Event{
			Kind:      EventCertExpiring,
			Subject:   endpoint,
			Healthy:   false,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("certificate for %s expired on %s", endpoint, leaf.NotAfter.Format("2006-01-02")),
			Data:      data,
			Timestamp: now,
		})
	case certExpiring:
		m.logger.Warn("certificate expiring",
			"endpoint", endpoint,
			"days_left", int(daysLeft))
		emit(ctx, m.events, Event{
			Kind:      EventCertExpiring,
			Subject:   endpoint,
			Healthy:   false,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("certificate for %s expires in %d days", endpoint, int(daysLeft)),
			Data:      data,
			Timestamp: now,
		})
	default:
		emit(ctx, m.events, Event{
			Kind:      EventCertExpiring,
			Subject:   endpoint,
			Healthy:   true,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("certificate for %s renewed (%d days left)", endpoint, int(daysLeft)),
			Data:      data,
			Timestamp: now,
		})
	}
}

// tlsDial performs the production handshake.
func (m *CertificateMonitor) tlsDial(ctx context.Context, addr string) (*tls.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config: &tls.Config{
			// Expiry inspection, not trust evaluation.
			InsecureSkipVerify: true,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}

// hostPortFromURL extracts the dial address from an https URL,
// defaulting the port to 443.
func hostPortFromURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", endpoint)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(host, port), nil
}
