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
	"runtime"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
)

// ============================================================================
// Resource Sentry
// ============================================================================
//
// A stripped-down cousin of the daemon's resource monitor: sample the
// host, log a warning when a static threshold is crossed, nothing
// else. The thresholds are compiled in rather than read from config so
// a corrupt config file cannot blind the last-resort process.

const (
	// Static warning thresholds. The daemon's configurable thresholds
	// sit lower; lookout only speaks up when things are dire.
	cpuWarnPercent    = 90.0
	memoryWarnPercent = 90.0
	diskWarnPercent   = 90.0
	loadPerCoreWarn   = 3.0

	resourceSampleInterval = time.Minute
	diskSamplePath         = "/"
)

// ResourceSentry samples host resources and logs threshold breaches.
type ResourceSentry struct {
	provider sysinfo.Provider
	interval time.Duration
	logger   *logging.Logger
	cores    int
}

// NewResourceSentry builds a ResourceSentry. A nil provider gets the
// OS-backed one.
func NewResourceSentry(provider sysinfo.Provider, logger *logging.Logger) *ResourceSentry {
	if provider == nil {
		provider = sysinfo.NewOSProvider()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResourceSentry{
		provider: provider,
		interval: resourceSampleInterval,
		logger:   logger,
		cores:    runtime.NumCPU(),
	}
}

// Run samples until ctx is cancelled.
func (s *ResourceSentry) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

// sample reads one round of host stats. Read failures are logged at
// Debug: on platforms without /proc this would otherwise fill the log
// every minute.
func (s *ResourceSentry) sample(ctx context.Context) {
	if mem, err := s.provider.Memory(ctx); err != nil {
		s.logger.Debug("memory sample failed", "error", err)
	} else if mem.UsedPercent >= memoryWarnPercent {
		s.logger.Warn("memory usage high",
			"used_percent", mem.UsedPercent,
			"available_kb", mem.AvailableKB,
			"threshold", memoryWarnPercent)
	}

	if cpu, err := s.provider.CPU(ctx); err != nil {
		s.logger.Debug("cpu sample failed", "error", err)
	} else if cpu.UsedPercent >= cpuWarnPercent {
		s.logger.Warn("cpu usage high",
			"used_percent", cpu.UsedPercent,
			"threshold", cpuWarnPercent)
	}

	if disk, err := s.provider.Disk(ctx, diskSamplePath); err != nil {
		s.logger.Debug("disk sample failed", "error", err)
	} else if disk.UsedPercent >= diskWarnPercent {
		s.logger.Warn("disk usage high",
			"path", diskSamplePath,
			"used_percent", disk.UsedPercent,
			"free_bytes", disk.FreeBytes,
			"threshold", diskWarnPercent)
	}

	if load, err := s.provider.LoadAverage(ctx); err != nil {
		s.logger.Debug("load sample failed", "error", err)
	} else if s.cores > 0 && load.Load1/float64(s.cores) >= loadPerCoreWarn {
		s.logger.Warn("load average high",
			"load1", load.Load1,
			"cores", s.cores,
			"per_core", load.Load1/float64(s.cores),
			"threshold", loadPerCoreWarn)
	}
}
