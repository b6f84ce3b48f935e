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
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/restart"
)

// ============================================================================
// Watchdog
// ============================================================================
//
// # Description
//
// The last line of defense. The watchdog polls every fleet service's
// health endpoint and TCP port directly on a fixed interval, with no
// dependency on the harbormaster daemon: if the daemon itself dies,
// lookout keeps restarting the appliance.
//
// Restart budgeting uses the same policy library as the daemon (3 per
// 300s by default), but there is no alert pipeline here. An exhausted
// budget is logged at Error and left for a human; a process that
// cannot keep its services alive after three restarts should not keep
// hammering podman.
//
// # Thread Safety
//
// Polling is sequential in Run's goroutine. Restarts run detached so a
// hung `podman-compose restart` cannot stall checks of the other
// services; the policy's in-flight guard keeps restarts of one service
// from overlapping.

// restartTimeout bounds a single podman-compose invocation.
const restartTimeout = 60 * time.Second

// WatchdogConfig wires a Watchdog.
type WatchdogConfig struct {
	Fleet []fleet.ServiceDefinition

	// Interval is the poll cadence. Per-service CheckInterval overrides
	// are deliberately ignored: lookout stays dumb.
	Interval time.Duration

	// Policy is the shared restart budget.
	Policy *restart.Policy

	// Probes. Nil fields get production defaults.
	HTTP *probe.HTTPProber
	Port *probe.PortProber

	// Runner executes podman-compose. Nil gets an ExecRunner.
	Runner probe.CommandRunner

	// ComposeFile is passed as -f when non-empty.
	ComposeFile string

	Logger *logging.Logger
	Now    func() time.Time
}

// Watchdog is the standalone poll-and-restart loop.
type Watchdog struct {
	fleet       []fleet.ServiceDefinition
	interval    time.Duration
	policy      *restart.Policy
	http        *probe.HTTPProber
	port        *probe.PortProber
	runner      probe.CommandRunner
	composeFile string
	logger      *logging.Logger
	now         func() time.Time

	restarts sync.WaitGroup
}

// NewWatchdog builds a Watchdog.
func NewWatchdog(cfg WatchdogConfig) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Policy == nil {
		cfg.Policy = restart.NewPolicy(restart.Config{})
	}
	if cfg.HTTP == nil {
		cfg.HTTP = probe.NewHTTPProber(fleet.DefaultProbeTimeout)
	}
	if cfg.Port == nil {
		cfg.Port = probe.NewPortProber(fleet.DefaultProbeTimeout)
	}
	if cfg.Runner == nil {
		cfg.Runner = probe.NewExecRunner()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watchdog{
		fleet:       cfg.Fleet,
		interval:    cfg.Interval,
		policy:      cfg.Policy,
		http:        cfg.HTTP,
		port:        cfg.Port,
		runner:      cfg.Runner,
		composeFile: cfg.ComposeFile,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight restarts.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.Info("watchdog started",
		"services", len(w.fleet),
		"interval", w.interval.String(),
		"max_restarts", w.policy.MaxRestarts(),
		"window", w.policy.Window().String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// First pass immediately so a cold start notices trouble before
	// the first full interval elapses.
	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.restarts.Wait()
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll checks every service once.
func (w *Watchdog) poll(ctx context.Context) {
	for _, svc := range w.fleet {
		if svc.HealthURL == "" && svc.Port == 0 {
			// Nothing lookout can observe; the daemon's process
			// checks cover these.
			continue
		}
		if ctx.Err() != nil {
			return
		}
		healthy, detail := w.check(ctx, svc)
		if healthy {
			w.logger.Debug("service healthy", "service", svc.Name)
			continue
		}
		w.logger.Warn("service unhealthy", "service", svc.Name, "detail", detail)
		w.restartDetached(ctx, svc, detail)
	}
}

// check probes the health endpoint and the port; both must pass when
// both are configured.
func (w *Watchdog) check(ctx context.Context, svc fleet.ServiceDefinition) (bool, string) {
	if svc.HealthURL != "" {
		res, err := w.http.Probe(ctx, svc.HealthURL)
		if err != nil {
			return false, "health probe failed: " + err.Error()
		}
		if !res.Healthy {
			return false, res.Detail
		}
	}
	if svc.Port != 0 {
		res, err := w.port.Probe(ctx, svc.PortAddress())
		if err != nil {
			return false, "port probe failed: " + err.Error()
		}
		if !res.Healthy {
			return false, res.Detail
		}
	}
	return true, ""
}

// restartDetached runs one budgeted restart attempt off the poll
// goroutine. The policy decides whether the attempt may proceed.
func (w *Watchdog) restartDetached(ctx context.Context, svc fleet.ServiceDefinition, detail string) {
	w.restarts.Add(1)
	go func() {
		defer w.restarts.Done()
		w.restartOnce(ctx, svc, detail)
	}()
}

func (w *Watchdog) restartOnce(ctx context.Context, svc fleet.ServiceDefinition, detail string) {
	grant, err := w.policy.Begin(svc.Name)
	switch {
	case errors.Is(err, restart.ErrRestartInFlight):
		w.logger.Debug("restart already in flight", "service", svc.Name)
		return
	case errors.Is(err, restart.ErrExhausted):
		// No alerting from lookout. Manual intervention required.
		w.logger.Error("restart budget exhausted, manual intervention required",
			"service", svc.Name,
			"detail", detail,
			"max_restarts", w.policy.MaxRestarts(),
			"window_remaining", w.policy.WindowRemaining(svc.Name).Round(time.Second).String())
		return
	case err != nil:
		w.logger.Error("restart refused", "service", svc.Name, "error", err)
		return
	}
	defer grant.Done()

	w.logger.Warn("restarting service",
		"service", svc.Name,
		"detail", detail,
		"attempt", grant.Attempt,
		"max_restarts", w.policy.MaxRestarts())

	start := w.now()
	out, err := w.restartCommand(ctx, svc)
	if err != nil {
		w.logger.Error("restart failed",
			"service", svc.Name,
			"attempt", grant.Attempt,
			"error", err,
			"output", out,
			"elapsed", w.now().Sub(start).String())
		return
	}
	w.logger.Info("restart succeeded",
		"service", svc.Name,
		"attempt", grant.Attempt,
		"elapsed", w.now().Sub(start).String())
}

// restartCommand invokes podman-compose restart for the service's
// container (falling back to the service name).
func (w *Watchdog) restartCommand(ctx context.Context, svc fleet.ServiceDefinition) (string, error) {
	target := svc.ContainerName
	if target == "" {
		target = svc.Name
	}

	var args []string
	if w.composeFile != "" {
		args = append(args, "-f", w.composeFile)
	}
	args = append(args, "restart", target)

	cctx, cancel := context.WithTimeout(ctx, restartTimeout)
	defer cancel()

	out, err := w.runner.Run(cctx, "podman-compose", args...)
	return strings.TrimSpace(string(out)), err
}
