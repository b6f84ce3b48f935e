// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lookout is the external watchdog for the Aleutian appliance.
//
// It runs beside the harbormaster daemon and answers one question: is
// anything watching the watchers? lookout polls every service's health
// endpoint and port directly, restarts dead containers through
// podman-compose under the same 3-per-300s budget the daemon uses, and
// keeps doing so even when the daemon itself is down. It deliberately
// has no alert pipeline, no metrics store and no API; when its restart
// budget runs out it writes an error to its log and waits for a human.
//
// Usage:
//
//	lookout                          # watch the built-in fleet
//	lookout -fleet /etc/fleet.yaml   # watch a custom fleet
//	lookout -debug                   # verbose per-poll logging
//
// Run it from a supervisor (systemd, launchd) so it is itself
// restarted on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/config"
	"github.com/AleutianAI/Harbormaster/pkg/fleet"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/restart"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	fleetPath := flag.String("fleet", "", "fleet definition yaml (default: built-in appliance fleet)")
	composeFile := flag.String("compose-file", "", "compose file passed to podman-compose -f")
	debug := flag.Bool("debug", false, "log every poll, not just trouble")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lookout %s\n", version)
		return
	}

	// A broken config file must not take the failsafe down with it.
	cfg := config.DefaultConfig()
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "lookout: config unreadable, using defaults: %v\n", err)
	} else {
		cfg = config.Global
	}
	if *fleetPath != "" {
		cfg.Fleet.File = *fleetPath
	}
	if *composeFile != "" {
		cfg.Recovery.ComposeFile = *composeFile
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logDir, err := cfg.ResolvedLogDir()
	if err != nil {
		// Stderr-only logging still works.
		fmt.Fprintf(os.Stderr, "lookout: no log directory, logging to stderr only: %v\n", err)
		logDir = ""
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "lookout",
	})
	defer logger.Close()

	services := fleet.Default()
	if cfg.Fleet.File != "" {
		loaded, err := fleet.LoadFile(cfg.Fleet.File)
		if err != nil {
			logger.Error("fleet file unreadable, using built-in fleet",
				"file", cfg.Fleet.File, "error", err)
		} else {
			services = loaded
		}
	}

	policy := restart.NewPolicy(restart.Config{
		MaxRestarts: cfg.Recovery.MaxRestarts,
		Window:      cfg.Recovery.RestartWindow,
	})

	watchdog := NewWatchdog(WatchdogConfig{
		Fleet:       services,
		Interval:    cfg.Lookout.PollInterval,
		Policy:      policy,
		ComposeFile: cfg.Recovery.ComposeFile,
		Logger:      logger,
	})
	sentry := NewResourceSentry(nil, logger)
	janitor := NewLogJanitor(LogJanitorConfig{
		Logger:    logger,
		Dir:       logDir,
		MaxBytes:  cfg.Lookout.MaxLogSize,
		Retention: time.Duration(cfg.Lookout.LogRetentionDays) * 24 * time.Hour,
	})

	logger.Info("lookout started",
		"version", version,
		"services", len(services),
		"poll_interval", cfg.Lookout.PollInterval.String(),
		"pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); watchdog.Run(ctx) }()
	go func() { defer wg.Done(); sentry.Run(ctx) }()
	go func() { defer wg.Done(); janitor.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down", "signal", sig.String())
	cancel()
	wg.Wait()
	logger.Info("lookout stopped")
}
