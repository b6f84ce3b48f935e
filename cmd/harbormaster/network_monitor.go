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
	"net"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Network Monitor
// ============================================================================
//
// # Description
//
// Verifies reachability of upstream targets: DNS resolution for named
// hosts, then a TCP dial. A target that flips reachability emits one
// connectivity event; steady state is silent.

// NetworkMonitorConfig wires a NetworkMonitor.
type NetworkMonitorConfig struct {
	// Targets are host:port pairs to dial.
	Targets []string

	Interval time.Duration
	Port     *probe.PortProber
	Events   chan<- Event
	Logger   *logging.Logger
	Now      func() time.Time
}

// NetworkMonitor dials upstream targets on a timer.
type NetworkMonitor struct {
	targets  []string
	interval time.Duration
	port     *probe.PortProber
	resolver *net.Resolver
	events   chan<- Event
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	reachable map[string]bool
	tasks     taskSet
}

// NewNetworkMonitor builds a NetworkMonitor.
func NewNetworkMonitor(cfg NetworkMonitorConfig) *NetworkMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
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
	return &NetworkMonitor{
		targets:   cfg.Targets,
		interval:  cfg.Interval,
		port:      cfg.Port,
		resolver:  net.DefaultResolver,
		events:    cfg.Events,
		logger:    cfg.Logger,
		now:       cfg.Now,
		reachable: make(map[string]bool),
	}
}

// Name implements Monitor.
func (m *NetworkMonitor) Name() string { return "network" }

// Start implements Monitor.
func (m *NetworkMonitor) Start(sched schedule.Scheduler) {
	if len(m.targets) == 0 {
		return
	}
	m.tasks.add(sched.Every("network", m.interval, func(ctx context.Context) {
		for _, target := range m.targets {
			m.checkTarget(ctx, target)
		}
		monitorTicks.WithLabelValues(m.Name()).Inc()
	}))
}

// Stop implements Monitor.
func (m *NetworkMonitor) Stop() { m.tasks.Stop() }

// checkTarget resolves and dials one target.
func (m *NetworkMonitor) checkTarget(ctx context.Context, target string) {
	ok, detail := m.reach(ctx, target)

	m.mu.Lock()
	prev, seen := m.reachable[target]
	changed := (seen && prev != ok) || (!seen && !ok)
	m.reachable[target] = ok
	m.mu.Unlock()

	if !changed {
		return
	}

	if ok {
		m.logger.Info("target reachable again", "target", target)
		emit(ctx, m.events, Event{
			Kind:      EventNetworkConnectivity,
			Subject:   target,
			Healthy:   true,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("%s reachable again", target),
			Data:      map[string]any{"target": target},
			Timestamp: m.now(),
		})
		return
	}

	m.logger.Warn("target unreachable", "target", target, "detail", detail)
	emit(ctx, m.events, Event{
		Kind:      EventNetworkConnectivity,
		Subject:   target,
		Healthy:   false,
		Severity:  SeverityWarning,
		Message:   fmt.Sprintf("%s unreachable: %s", target, detail),
		Data:      map[string]any{"target": target, "detail": detail},
		Timestamp: m.now(),
	})
}

// reach checks DNS (for named hosts) and then dials.
func (m *NetworkMonitor) reach(ctx context.Context, target string) (bool, string) {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return false, fmt.Sprintf("bad target: %v", err)
	}

	if net.ParseIP(host) == nil && host != "localhost" {
		dnsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		addrs, err := m.resolver.LookupHost(dnsCtx, host)
		cancel()
		if err != nil {
			return false, fmt.Sprintf("DNS lookup failed: %v", err)
		}
		if len(addrs) == 0 {
			return false, "DNS lookup returned no addresses"
		}
	}

	res, err := m.port.Probe(ctx, target)
	if err != nil {
		return false, err.Error()
	}
	if !res.Healthy {
		return false, res.Detail
	}
	return true, ""
}
