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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/archive"
	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/telemetry"
	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
	"github.com/AleutianAI/Harbormaster/pkg/ux"
)

// ============================================================================
// watch: the monitoring daemon
// ============================================================================
//
// # Description
//
// Assembles the daemon in dependency order: metrics store, alert
// manager, recovery manager, then monitors, with the orchestrator's
// event channel threaded through. Degradable pieces (archive, influx
// mirror, individual sinks, individual monitors) log a warning and
// are skipped on failure; the required core (config, fleet, metrics
// store) is fatal.

const shutdownGrace = 15 * time.Second

func runWatch(cmd *cobra.Command, args []string) {
	if err := config.Load(); err != nil {
		ux.Error(fmt.Sprintf("Configuration error: %v", err))
		os.Exit(1)
	}
	cfg := config.Global

	// Flag overrides
	if fleetFile != "" {
		cfg.Fleet.File = fleetFile
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if debugMode {
		cfg.Observability.Debug = true
	}

	logDir, err := cfg.ResolvedLogDir()
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot resolve log directory: %v", err))
		os.Exit(1)
	}
	level := logging.LevelInfo
	if cfg.Observability.Debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "watch",
	})
	defer logger.Close()

	ctx := context.Background()

	telemetryShutdown, err := initTelemetry(ctx, cfg.Observability)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	services, err := loadFleet(cfg.Fleet.File)
	if err != nil {
		ux.Error(fmt.Sprintf("Fleet error: %v", err))
		os.Exit(1)
	}
	logger.Info("fleet loaded", "services", len(services), "file", cfg.Fleet.File)

	// --- History archive (best effort) ---
	var archiv *archive.Store
	if home, dirErr := config.Dir(); dirErr == nil {
		archCfg := archive.DefaultConfig()
		archCfg.Path = filepath.Join(home, "archive")
		archCfg.Logger = logger.Slog()
		if a, openErr := archive.Open(archCfg); openErr != nil {
			logger.Warn("archive unavailable, histories are memory-only", "error", openErr)
		} else {
			archiv = a
		}
	} else {
		logger.Warn("archive unavailable, histories are memory-only", "error", dirErr)
	}

	// --- Metrics store ---
	var mirror SampleMirror
	if cfg.Metrics.Influx.Enabled {
		m, mErr := newInfluxMirror(cfg.Metrics.Influx)
		if mErr != nil {
			logger.Warn("influx mirror disabled", "error", mErr)
		} else {
			mirror = m
		}
	}
	journalDir, err := cfg.Metrics.ResolvedJournalDir()
	if err != nil {
		logger.Warn("metrics journal disabled", "error", err)
		journalDir = ""
	}
	store, err := NewMetricsStore(MetricsStoreConfig{
		PerKeyCap:  cfg.Metrics.PerKeyCap,
		Retention:  time.Duration(cfg.Metrics.RetentionHours) * time.Hour,
		JournalDir: journalDir,
		Mirror:     mirror,
		Logger:     logger,
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Metrics store error: %v", err))
		os.Exit(1)
	}

	// --- Alert manager ---
	var sinks []AlertSink
	var webhook *WebhookSink
	if cfg.Alerts.Email.Enabled {
		if outbox, oErr := cfg.Alerts.Email.ResolvedOutbox(); oErr != nil {
			logger.Warn("email spool sink disabled", "error", oErr)
		} else if sink, sErr := NewEmailSpoolSink(outbox); sErr != nil {
			logger.Warn("email spool sink disabled", "error", sErr)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Alerts.Webhook.URL != "" {
		sink, sErr := NewWebhookSink(cfg.Alerts.Webhook)
		if sErr != nil {
			logger.Warn("webhook sink disabled", "error", sErr)
		} else {
			webhook = sink
			sinks = append(sinks, sink)
		}
	}
	alerts := NewAlertManager(AlertManagerConfig{
		Sinks:   sinks,
		Archive: archiv,
		Logger:  logger,
	})

	// --- Recovery ---
	var executor RestartExecutor
	if cfg.Recovery.Enabled {
		executor = NewComposeRestarter(nil, cfg.Recovery.ComposeFile)
	}
	recovery := NewRecoveryManager(RecoveryManagerConfig{
		Enabled:     cfg.Recovery.Enabled,
		MaxRestarts: cfg.Recovery.MaxRestarts,
		Window:      cfg.Recovery.RestartWindow,
		Executor:    executor,
		Alerts:      alerts,
		Archive:     archiv,
		Logger:      logger,
	})
	var resourceRecovery *ResourceRecovery
	if cfg.Recovery.Enabled {
		resourceRecovery = NewResourceRecovery(probe.NewExecRunner(), recovery, logDir, logger)
	}

	leak := NewLeakDetector(store, alerts, cfg.MemoryLeak.GrowthRateThreshold, logger)

	// --- Monitors, all feeding one channel ---
	events := make(chan Event, eventBufferSize)
	monitors, svcMon := buildMonitors(cfg, services, events, store, logger)

	// --- Daily report ---
	var summarizer ReportSummarizer
	if cfg.Report.Summary.Enabled {
		summarizer = NewLLMSummarizer(cfg.Report.Summary.BaseURL, cfg.Report.Summary.Model)
	}
	// The builder needs the orchestrator's merged view, and the
	// orchestrator needs the builder for the daily job. Late-bind
	// through the closure.
	var orch *Orchestrator
	reporter := NewReportBuilder(ReportBuilderConfig{
		Alerts:   alerts,
		Recovery: recovery,
		Store:    store,
		Services: func() []ServiceHealth {
			if orch == nil {
				return nil
			}
			return orch.ServiceHealthList()
		},
		Sysinfo:    sysinfo.NewOSProvider(),
		Summarizer: summarizer,
		Logger:     logger,
	})
	var archiver ReportArchiver
	if cfg.Report.Archive.GCSBucket != "" {
		a, aErr := NewGCSArchiver(ctx, cfg.Report.Archive.GCSBucket, "")
		if aErr != nil {
			logger.Warn("report archive disabled", "bucket", cfg.Report.Archive.GCSBucket, "error", aErr)
		} else {
			archiver = a
		}
	}

	sched := schedule.NewTimerScheduler(schedule.LogPanicHandler(logger.Error))

	orch = NewOrchestrator(OrchestratorConfig{
		Fleet:            services,
		Store:            store,
		Alerts:           alerts,
		Recovery:         recovery,
		ResourceRecovery: resourceRecovery,
		Leak:             leak,
		Reporter:         reporter,
		Archiver:         archiver,
		Monitors:         monitors,
		ServiceMonitor:   svcMon,
		Events:           events,
		Scheduler:        sched,
		LeakScanEnabled:  cfg.MemoryLeak.Enabled,
		LeakScanInterval: cfg.MemoryLeak.CheckInterval,
		ReportHour:       cfg.Report.Hour,
		Logger:           logger,
	})

	var server *StatusServer
	if cfg.Server.Enabled {
		server = NewStatusServer(StatusServerConfig{
			Addr:         cfg.Server.Listen,
			Orchestrator: orch,
			Alerts:       alerts,
			Recovery:     recovery,
			Store:        store,
			Reporter:     reporter,
			Logger:       logger,
			Debug:        cfg.Observability.Debug,
		})
	}

	orch.Start()
	if server != nil {
		server.Start()
	}
	ux.Success(fmt.Sprintf("Watching %d services (recovery %s)",
		len(services), enabledWord(cfg.Recovery.Enabled)))
	if server != nil {
		ux.Muted(fmt.Sprintf("  status api: http://%s/api/status", cfg.Server.Listen))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	orch.Stop()
	if err := store.Close(); err != nil {
		logger.Warn("metrics store close", "error", err)
	}
	if webhook != nil {
		webhook.Close()
	}
	if archiver != nil {
		if err := archiver.Close(); err != nil {
			logger.Warn("report archive close", "error", err)
		}
	}
	if archiv != nil {
		if err := archiv.Close(); err != nil {
			logger.Warn("archive close", "error", err)
		}
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	logger.Info("harbormaster stopped")
}

// initTelemetry maps the daemon's observability settings onto the
// telemetry package's exporter choices.
func initTelemetry(ctx context.Context, obs config.ObservabilityConfig) (func(context.Context) error, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if obs.OTLPEndpoint != "" {
		tcfg.TraceExporter = "otlp"
		tcfg.OTLPEndpoint = obs.OTLPEndpoint
	} else if obs.Debug {
		tcfg.TraceExporter = "stdout"
	}
	if !obs.Prometheus {
		tcfg.MetricExporter = "none"
		if obs.Debug {
			tcfg.MetricExporter = "stdout"
		}
	}
	return telemetry.Init(ctx, tcfg)
}

// loadFleet reads the fleet file, or falls back to the built-in
// Aleutian appliance fleet.
func loadFleet(path string) ([]fleet.ServiceDefinition, error) {
	if path == "" {
		return fleet.Default(), nil
	}
	return fleet.LoadFile(path)
}

// buildMonitors constructs every configured monitor. The service and
// resource monitors always run; the rest depend on configuration.
func buildMonitors(cfg config.HarbormasterConfig, services []fleet.ServiceDefinition,
	events chan Event, store *MetricsStore, logger *logging.Logger) ([]Monitor, *ServiceMonitor) {

	svcMon := NewServiceMonitor(ServiceMonitorConfig{
		Fleet:    services,
		Interval: cfg.Monitors.ServiceInterval,
		Events:   events,
		Store:    store,
		Logger:   logger,
	})
	monitors := []Monitor{svcMon}

	monitors = append(monitors, NewResourceMonitor(ResourceMonitorConfig{
		Thresholds: cfg.Monitors.Thresholds,
		Interval:   cfg.Monitors.ResourceInterval,
		Events:     events,
		Store:      store,
		Logger:     logger,
	}))

	if len(cfg.Monitors.LogPaths) > 0 {
		monitors = append(monitors, NewLogMonitor(LogMonitorConfig{
			Paths:    cfg.Monitors.LogPaths,
			Patterns: cfg.Monitors.ErrorPatterns,
			Events:   events,
			Logger:   logger,
		}))
	}

	if cfg.Monitors.Database.WeaviateHost != "" {
		dbMon, err := NewDatabaseMonitor(DatabaseMonitorConfig{
			Host:     cfg.Monitors.Database.WeaviateHost,
			Scheme:   cfg.Monitors.Database.WeaviateScheme,
			Interval: cfg.Monitors.DatabaseInterval,
			Events:   events,
			Store:    store,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("database monitor disabled", "error", err)
		} else {
			monitors = append(monitors, dbMon)
		}
	}

	if len(cfg.Monitors.NetworkTargets) > 0 {
		monitors = append(monitors, NewNetworkMonitor(NetworkMonitorConfig{
			Targets:  cfg.Monitors.NetworkTargets,
			Interval: cfg.Monitors.NetworkInterval,
			Events:   events,
			Logger:   logger,
		}))
	}

	if len(cfg.Monitors.CertificateEndpoints) > 0 {
		monitors = append(monitors, NewCertificateMonitor(CertificateMonitorConfig{
			Endpoints: cfg.Monitors.CertificateEndpoints,
			WarnDays:  cfg.Monitors.CertificateWarnDays,
			Interval:  cfg.Monitors.CertificateInterval,
			Events:    events,
			Logger:    logger,
		}))
	}

	return monitors, svcMon
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
