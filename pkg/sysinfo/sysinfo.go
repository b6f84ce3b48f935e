// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sysinfo abstracts host-level introspection (memory, CPU,
// disk, load, uptime) behind a Provider interface.
//
// The resource monitor, the CLI check command, and the lookout process
// all read the host through a Provider instead of poking /proc
// themselves; tests substitute the Fake implementation for
// deterministic threshold and leak scenarios.
//
// The OS-backed implementation reads the Linux proc filesystem and
// statfs. That matches the supported deployment (the stack runs under
// podman on a Linux host); other platforms get NotSupported errors
// rather than wrong numbers.
package sysinfo

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned when the running platform cannot supply
// a statistic.
var ErrNotSupported = errors.New("statistic not supported on this platform")

// MemoryStats describes host memory in kilobytes, plus the derived
// used percentage.
type MemoryStats struct {
	TotalKB     uint64  `json:"total_kb"`
	AvailableKB uint64  `json:"available_kb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats describes aggregate CPU business since the previous sample.
type CPUStats struct {
	// UsedPercent is busy time over total time, 0-100. The first call
	// on a provider measures since boot; later calls measure the delta
	// since the previous call.
	UsedPercent float64 `json:"used_percent"`
}

// DiskStats describes usage of the filesystem containing a path.
type DiskStats struct {
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// LoadStats is the classic 1/5/15 minute load average triple.
type LoadStats struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// Provider supplies host statistics. Implementations must be safe for
// concurrent use; methods should return within a few milliseconds and
// honor context cancellation where they do I/O.
type Provider interface {
	// Memory returns host memory statistics.
	Memory(ctx context.Context) (MemoryStats, error)

	// CPU returns aggregate CPU usage since the previous CPU call.
	CPU(ctx context.Context) (CPUStats, error)

	// Disk returns usage of the filesystem containing path.
	Disk(ctx context.Context, path string) (DiskStats, error)

	// LoadAverage returns the 1/5/15 minute load averages.
	LoadAverage(ctx context.Context) (LoadStats, error)

	// Uptime returns how long the host has been up.
	Uptime(ctx context.Context) (time.Duration, error)

	// Hostname returns the host's name, for report headers.
	Hostname(ctx context.Context) (string, error)
}
