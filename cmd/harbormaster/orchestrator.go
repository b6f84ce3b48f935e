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
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/util"
	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Orchestrator
// ============================================================================
//
// # Description
//
// The orchestrator is the daemon's control loop. Monitors produce
// events onto one buffered channel; a single dispatch goroutine
// consumes them, updates the status snapshot, raises alerts, and
// invokes recovery. Because dispatch is single-threaded, event
// handling for a given service is serialized in arrival order without
// per-handler locking.
//
// Construction order matters: the metrics store first, then the alert
// manager, then the recovery manager, then the monitors, with every
// handler wired before any monitor starts. A monitor that fires on its
// first tick therefore always finds a complete pipeline behind the
// channel.
//
// Shutdown stops the monitors and scheduler first (in-flight ticks
// finish against canceled contexts and their emits are dropped), then
// cancels dispatch. Events still buffered at that point are discarded.

// cleanupHour is the local hour of the daily metrics cleanup.
const cleanupHour = 4

// eventBufferSize is the dispatch channel depth. Sized generously; a
// full buffer only stalls a monitor goroutine, never dispatch.
const eventBufferSize = 256

// OrchestratorConfig wires an Orchestrator from pre-built components.
// Construction of the components themselves happens in the watch
// command; tests assemble a minimal set directly.
type OrchestratorConfig struct {
	Fleet []fleet.ServiceDefinition

	Store            *MetricsStore
	Alerts           *AlertManager
	Recovery         *RecoveryManager
	ResourceRecovery *ResourceRecovery
	Leak             *LeakDetector
	Reporter         *ReportBuilder
	Archiver         ReportArchiver

	// Monitors are started in order after handlers are wired. When a
	// ServiceMonitor is among them, pass it in ServiceMonitor too so
	// the status snapshot can read per-service detail.
	Monitors       []Monitor
	ServiceMonitor *ServiceMonitor

	// Events is the channel the monitors were built with.
	Events chan Event

	Scheduler schedule.Scheduler

	// LeakScanEnabled and LeakScanInterval schedule the periodic leak
	// scan.
	LeakScanEnabled  bool
	LeakScanInterval time.Duration

	// ReportHour is the local hour of the daily report.
	ReportHour int

	Logger *logging.Logger
}

// Orchestrator owns the event loop and scheduled jobs.
type Orchestrator struct {
	fleet       []fleet.ServiceDefinition
	fleetByName map[string]fleet.ServiceDefinition

	store            *MetricsStore
	alerts           *AlertManager
	recovery         *RecoveryManager
	resourceRecovery *ResourceRecovery
	leak             *LeakDetector
	reporter         *ReportBuilder
	archiver         ReportArchiver
	monitors         []Monitor
	svcMon           *ServiceMonitor
	sched            schedule.Scheduler
	logger           *logging.Logger

	leakEnabled  bool
	leakInterval time.Duration
	reportHour   int

	events       chan Event
	runCtx       context.Context
	runCancel    context.CancelFunc
	dispatchDone chan struct{}

	mu         sync.RWMutex
	subsystems map[string]Observation

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewOrchestrator builds an Orchestrator. The returned value is inert
// until Start.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Events == nil {
		cfg.Events = make(chan Event, eventBufferSize)
	}
	if cfg.LeakScanInterval <= 0 {
		cfg.LeakScanInterval = 10 * time.Minute
	}

	byName := make(map[string]fleet.ServiceDefinition, len(cfg.Fleet))
	for _, svc := range cfg.Fleet {
		byName[svc.Name] = svc
	}

	return &Orchestrator{
		fleet:            cfg.Fleet,
		fleetByName:      byName,
		store:            cfg.Store,
		alerts:           cfg.Alerts,
		recovery:         cfg.Recovery,
		resourceRecovery: cfg.ResourceRecovery,
		leak:             cfg.Leak,
		reporter:         cfg.Reporter,
		archiver:         cfg.Archiver,
		monitors:         cfg.Monitors,
		svcMon:           cfg.ServiceMonitor,
		sched:            cfg.Scheduler,
		logger:           cfg.Logger,
		leakEnabled:      cfg.LeakScanEnabled,
		leakInterval:     cfg.LeakScanInterval,
		reportHour:       cfg.ReportHour,
		events:           cfg.Events,
		dispatchDone:     make(chan struct{}),
		subsystems:       make(map[string]Observation),
	}
}

// Start launches dispatch, starts the monitors, and registers the
// scheduled jobs. Safe to call once.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.runCtx, o.runCancel = context.WithCancel(context.Background())

		go o.dispatch()

		// Handlers are wired by construction; only now do producers
		// start.
		for _, m := range o.monitors {
			m.Start(o.sched)
			o.logger.Info("monitor started", "monitor", m.Name())
		}

		o.sched.Daily("metrics-cleanup", cleanupHour, 0, func(ctx context.Context) {
			trimmed := o.store.Cleanup()
			o.logger.Info("metrics cleanup complete", "trimmed", trimmed)
		})
		o.sched.Daily("daily-report", o.reportHour, 0, o.runDailyReport)
		if o.leakEnabled && o.leak != nil {
			o.sched.Every("leak-scan", o.leakInterval, func(ctx context.Context) {
				raised := o.leak.Scan()
				if raised > 0 {
					o.logger.Warn("leak scan raised alerts", "count", raised)
				}
			})
		}

		o.logger.Info("orchestrator started",
			"services", len(o.fleet),
			"monitors", len(o.monitors))
	})
}

// Stop halts producers, then dispatch. Events buffered at cancel time
// are discarded.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		for _, m := range o.monitors {
			m.Stop()
		}
		o.sched.Stop()

		o.runCancel()
		<-o.dispatchDone
		o.logger.Info("orchestrator stopped")
	})
}

// dispatch is the single event consumer.
func (o *Orchestrator) dispatch() {
	defer close(o.dispatchDone)
	for {
		select {
		case <-o.runCtx.Done():
			return
		case ev := <-o.events:
			o.handleEvent(ev)
		}
	}
}

// handleEvent routes one event: snapshot update, alert, recovery.
func (o *Orchestrator) handleEvent(ev Event) {
	defer util.RecoverPanic(o.logPanic)()

	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	o.updateSnapshot(ev)

	switch ev.Kind {
	case EventServiceStatusChange:
		if ev.Healthy {
			o.recovery.HandleHealthy(ev.Subject)
			return
		}
		if ev.Changed {
			o.alerts.CreateAlert(AlertService, ev.Severity, ev.Subject, ev.Message, ev.Data)
		}
		// Every failed observation reaches recovery, not just the
		// transition: the restart budget is spent one attempt per
		// observed failure until the window says stop.
		if svc, ok := o.fleetByName[ev.Subject]; ok {
			o.recovery.HandleUnhealthy(svc)
		}

	case EventResourceThreshold:
		o.alerts.CreateAlert(AlertResource, ev.Severity, ev.Subject, ev.Message, ev.Data)
		if !ev.Healthy && o.resourceRecovery != nil {
			o.resourceRecovery.HandleThreshold(ev.Subject, ev.Severity)
		}

	case EventLogError:
		o.alerts.CreateAlert(AlertService, ev.Severity, ev.Subject, ev.Message, ev.Data)

	case EventDatabaseConnection:
		o.alerts.CreateAlert(AlertDatabase, ev.Severity, ev.Subject, ev.Message, ev.Data)

	case EventNetworkConnectivity:
		o.alerts.CreateAlert(AlertNetwork, ev.Severity, ev.Subject, ev.Message, ev.Data)

	case EventCertExpiring:
		o.alerts.CreateAlert(AlertSSL, ev.Severity, ev.Subject, ev.Message, ev.Data)

	default:
		o.logger.Warn("unrecognized event kind", "kind", string(ev.Kind))
	}
}

// updateSnapshot records the last observation per subsystem. Only
// dispatch writes here.
func (o *Orchestrator) updateSnapshot(ev Event) {
	key := fmt.Sprintf("%s:%s", ev.Kind, ev.Subject)
	o.mu.Lock()
	o.subsystems[key] = Observation{
		Kind:      ev.Kind,
		Subject:   ev.Subject,
		Healthy:   ev.Healthy,
		Severity:  ev.Severity,
		Message:   ev.Message,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
	o.mu.Unlock()
}

// runDailyReport builds, dispatches, and archives the daily report.
func (o *Orchestrator) runDailyReport(ctx context.Context) {
	report := o.reporter.Build(ctx)
	o.alerts.SendReport(ctx, report)
	if o.archiver != nil {
		if err := o.archiver.ArchiveReport(ctx, report); err != nil {
			o.logger.Error("report archive failed", "date", report.Date, "error", err)
		}
	}
	o.logger.Info("daily report generated",
		"id", report.ID,
		"date", report.Date,
		"alerts", report.Alerts.Total,
		"incidents", len(report.Incidents))
}

// Status assembles the full snapshot: fleet defaults overlaid with the
// service monitor's live view and the recovery manager's states, plus
// the subsystem observations.
func (o *Orchestrator) Status() StatusSnapshot {
	services := make(map[string]ServiceHealth, len(o.fleet))
	for _, svc := range o.fleet {
		services[svc.Name] = ServiceHealth{
			Name:    svc.Name,
			State:   StateHealthy,
			Healthy: true,
			Uptime:  100,
		}
	}
	if o.svcMon != nil {
		for _, h := range o.svcMon.Health() {
			services[h.Name] = h
		}
	}
	if o.recovery != nil {
		states := o.recovery.States()
		for name, sh := range services {
			if st, ok := states[name]; ok {
				sh.State = st
			} else {
				sh.State = StateHealthy
			}
			services[name] = sh
		}
	}

	o.mu.RLock()
	subsystems := make(map[string]Observation, len(o.subsystems))
	for k, v := range o.subsystems {
		subsystems[k] = v
	}
	o.mu.RUnlock()

	return StatusSnapshot{
		Services:    services,
		Subsystems:  subsystems,
		GeneratedAt: o.sched.Now(),
	}
}

// ServiceHealthList returns the snapshot's services sorted by name,
// for the report builder.
func (o *Orchestrator) ServiceHealthList() []ServiceHealth {
	snapshot := o.Status()
	out := make([]ServiceHealth, 0, len(snapshot.Services))
	for _, sh := range snapshot.Services {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) logPanic(r util.PanicReport) {
	o.logger.Error("event handler panicked", "panic", r.PanicValue, "stack", r.Stack)
}
