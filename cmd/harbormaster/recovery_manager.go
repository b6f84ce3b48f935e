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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/archive"
	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/util"
	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/restart"
)

// ============================================================================
// Recovery Manager
// ============================================================================
//
// # Description
//
// The recovery manager owns the health state machine of each service
// and decides when a restart is attempted. Restart budgeting is
// delegated to pkg/restart: at most MaxRestarts attempts inside a
// rolling window, one restart in flight per service. When the budget
// is exhausted the service is parked in RECOVERY_EXHAUSTED and a
// single critical alert asks for manual intervention; once the window
// rolls over, the next unhealthy report starts a fresh cycle.
//
// State transitions happen only on the orchestrator's dispatch
// goroutine, with the exception of the restart outcome, which arrives
// from the worker goroutine that ran the command. The mutex covers
// both.

// RecoveryManagerConfig configures a RecoveryManager.
type RecoveryManagerConfig struct {
	// Enabled globally toggles restarts. When false the manager still
	// tracks health states but never launches a restart.
	Enabled bool

	// MaxRestarts per service per window. Zero uses the pkg/restart
	// default of 3.
	MaxRestarts int

	// Window is the rolling budget window. Zero uses the default of
	// five minutes.
	Window time.Duration

	// Executor performs the restarts. Required when Enabled.
	Executor RestartExecutor

	// Alerts receives the exhaustion alert. Required.
	Alerts *AlertManager

	// Archive mirrors incidents to disk. Optional.
	Archive *archive.Store

	// IncidentCap bounds the in-memory incident history. Zero means 100.
	IncidentCap int

	// Logger defaults to logging.Default().
	Logger *logging.Logger

	// Now is the clock, for tests.
	Now func() time.Time
}

// RecoveryManager reacts to health reports from the monitors.
type RecoveryManager struct {
	enabled  bool
	executor RestartExecutor
	policy   *restart.Policy
	alerts   *AlertManager
	archiv   *archive.Store
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	states    map[string]HealthState
	notified  map[string]bool // exhaustion alert sent for the current window
	incidents *util.RingBuffer[Incident]
}

// NewRecoveryManager builds a RecoveryManager.
func NewRecoveryManager(cfg RecoveryManagerConfig) *RecoveryManager {
	if cfg.IncidentCap <= 0 {
		cfg.IncidentCap = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RecoveryManager{
		enabled:  cfg.Enabled,
		executor: cfg.Executor,
		policy: restart.NewPolicy(restart.Config{
			MaxRestarts: cfg.MaxRestarts,
			Window:      cfg.Window,
			Now:         cfg.Now,
		}),
		alerts:    cfg.Alerts,
		archiv:    cfg.Archive,
		logger:    cfg.Logger,
		now:       cfg.Now,
		states:    make(map[string]HealthState),
		notified:  make(map[string]bool),
		incidents: util.NewRingBuffer[Incident](cfg.IncidentCap),
	}
}

// HandleUnhealthy processes an unhealthy report for svc. It either
// starts a restart, notes that one is already running, or declares the
// budget exhausted. The restart itself runs on its own goroutine so
// the caller's dispatch loop is never blocked by a slow command.
func (m *RecoveryManager) HandleUnhealthy(svc fleet.ServiceDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := svc.Name
	if !m.enabled {
		m.states[name] = StateUnhealthy
		return
	}

	// A service still failing after a restart loops straight back into
	// the decision: each failed observation spends another attempt until
	// the window's budget runs out. Overlap protection lives in the
	// policy, which refuses a grant while a restart command is running.
	grant, err := m.policy.Begin(name)
	switch {
	case errors.Is(err, restart.ErrRestartInFlight):
		m.states[name] = StateRecovering
		return
	case errors.Is(err, restart.ErrExhausted):
		m.states[name] = StateExhausted
		if !m.notified[name] {
			m.notified[name] = true
			remaining := m.policy.WindowRemaining(name)
			m.logger.Error("restart budget exhausted",
				"service", name,
				"window_remaining", remaining.String())
			restartsTotal.WithLabelValues(name, "exhausted").Inc()
			m.alerts.CreateAlert(AlertService, SeverityCritical, name,
				fmt.Sprintf("restart budget exhausted for %s: manual intervention required", name),
				map[string]any{
					"windowRemaining": remaining.String(),
				})
		}
		return
	case err != nil:
		m.logger.Error("restart policy rejected attempt", "service", name, "error", err)
		return
	}

	m.states[name] = StateRecovering
	// A granted attempt means the window rolled over (or this is a new
	// cycle), so a later exhaustion should alert again.
	m.notified[name] = false
	m.logger.Warn("restarting service",
		"service", name,
		"attempt", grant.Attempt)

	util.SafeGo(func() {
		m.runRestart(svc, grant)
	}, m.logPanic)
}

// HandleHealthy marks svc healthy. Restart budget accounting is left
// untouched: only the window rolling over restores attempts, so a
// service that flaps within one window still runs out of budget.
func (m *RecoveryManager) HandleHealthy(svc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[svc] = StateHealthy
}

// runRestart executes one granted restart and records the incident.
func (m *RecoveryManager) runRestart(svc fleet.ServiceDefinition, grant *restart.Grant) {
	defer grant.Done()

	ctx := context.Background()
	started := m.now()
	output, err := m.executor.Restart(ctx, svc)
	elapsed := m.now().Sub(started)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = fmt.Sprintf("%s: %v", OutcomeFailed, err)
	}

	m.mu.Lock()
	if err != nil {
		// The restart command itself failed; the service is still down
		// and the next report may try again (attempt already counted).
		m.states[svc.Name] = StateUnhealthy
		restartsTotal.WithLabelValues(svc.Name, "failed").Inc()
	} else {
		// Stay in RECOVERING until a monitor confirms the service came
		// back; HandleHealthy does the final transition.
		restartsTotal.WithLabelValues(svc.Name, "success").Inc()
	}
	incident := Incident{
		ID:        nextID(m.now()),
		Action:    "restart",
		Subject:   svc.Name,
		Outcome:   outcome,
		Timestamp: m.now(),
	}
	m.incidents.Push(incident)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("service restart failed",
			"service", svc.Name,
			"attempt", grant.Attempt,
			"elapsed", elapsed.String(),
			"output", output,
			"error", err)
	} else {
		m.logger.Info("service restart issued",
			"service", svc.Name,
			"attempt", grant.Attempt,
			"elapsed", elapsed.String())
	}

	m.archiveIncident(incident)
}

// RecordIncident appends an incident for a recovery action performed
// outside the restart path, such as a disk prune.
func (m *RecoveryManager) RecordIncident(action, subject, outcome string) Incident {
	m.mu.Lock()
	incident := Incident{
		ID:        nextID(m.now()),
		Action:    action,
		Subject:   subject,
		Outcome:   outcome,
		Timestamp: m.now(),
	}
	m.incidents.Push(incident)
	m.mu.Unlock()

	m.archiveIncident(incident)
	return incident
}

// State reports the current health state of a service. Services never
// seen before are assumed healthy.
func (m *RecoveryManager) State(svc string) HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[svc]; ok {
		return s
	}
	return StateHealthy
}

// States returns a copy of all known service states.
func (m *RecoveryManager) States() map[string]HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HealthState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Incidents returns up to n incidents, most recent first. n <= 0
// returns all retained incidents.
func (m *RecoveryManager) Incidents(n int) []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incidents.NewestFirst(n)
}

// RestartWindow reports the budget state for a service, for the status
// API.
func (m *RecoveryManager) RestartWindow(svc string) restart.State {
	return m.policy.Lookup(svc)
}

// Reset clears the restart budget and exhaustion notice for a service.
// Used by the CLI after manual intervention.
func (m *RecoveryManager) Reset(svc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.Reset(svc)
	delete(m.notified, svc)
	if m.states[svc] == StateExhausted {
		m.states[svc] = StateUnhealthy
	}
}

func (m *RecoveryManager) archiveIncident(incident Incident) {
	if m.archiv == nil {
		return
	}
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, err := json.Marshal(incident)
		if err != nil {
			m.logger.Warn("incident marshal failed", "id", incident.ID, "error", err)
			return
		}
		if err := m.archiv.Put(ctx, archive.KindIncident, incident.ID, raw); err != nil {
			m.logger.Warn("incident archive write failed", "id", incident.ID, "error", err)
		}
	}, m.logPanic)
}

func (m *RecoveryManager) logPanic(r util.PanicReport) {
	m.logger.Error("recovery goroutine panicked", "panic", r.PanicValue)
}
