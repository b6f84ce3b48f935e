// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sysinfo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// OSProvider reads statistics from the Linux proc filesystem and
// statfs. Construct with NewOSProvider.
type OSProvider struct {
	procRoot string

	mu      sync.Mutex
	prevCPU cpuSample
}

// cpuSample holds the jiffy counters from one /proc/stat read.
type cpuSample struct {
	busy  uint64
	total uint64
	valid bool
}

// NewOSProvider creates a Provider backed by /proc and statfs.
func NewOSProvider() *OSProvider {
	return &OSProvider{procRoot: "/proc"}
}

// Memory parses /proc/meminfo. Used percent is computed from
// MemAvailable, which accounts for reclaimable cache, not just free
// pages.
func (p *OSProvider) Memory(ctx context.Context) (MemoryStats, error) {
	if err := ctx.Err(); err != nil {
		return MemoryStats{}, err
	}
	data, err := os.ReadFile(p.procRoot + "/meminfo")
	if err != nil {
		return MemoryStats{}, fmt.Errorf("read meminfo: %w", err)
	}
	return parseMeminfo(data)
}

// CPU parses /proc/stat and reports busy percent since the previous
// CPU call on this provider (since boot on the first call).
func (p *OSProvider) CPU(ctx context.Context) (CPUStats, error) {
	if err := ctx.Err(); err != nil {
		return CPUStats{}, err
	}
	data, err := os.ReadFile(p.procRoot + "/stat")
	if err != nil {
		return CPUStats{}, fmt.Errorf("read stat: %w", err)
	}
	sample, err := parseCPUStat(data)
	if err != nil {
		return CPUStats{}, err
	}

	p.mu.Lock()
	prev := p.prevCPU
	p.prevCPU = sample
	p.mu.Unlock()

	return CPUStats{UsedPercent: cpuPercent(prev, sample)}, nil
}

// Disk wraps unix.Statfs for the filesystem containing path.
func (p *OSProvider) Disk(ctx context.Context, path string) (DiskStats, error) {
	if err := ctx.Err(); err != nil {
		return DiskStats{}, err
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return DiskStats{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(fs.Bsize)
	total := fs.Blocks * bsize
	free := fs.Bavail * bsize
	stats := DiskStats{
		TotalBytes: total,
		FreeBytes:  free,
	}
	if total > 0 {
		stats.UsedPercent = float64(total-free) / float64(total) * 100
	}
	return stats, nil
}

// LoadAverage parses /proc/loadavg.
func (p *OSProvider) LoadAverage(ctx context.Context) (LoadStats, error) {
	if err := ctx.Err(); err != nil {
		return LoadStats{}, err
	}
	data, err := os.ReadFile(p.procRoot + "/loadavg")
	if err != nil {
		return LoadStats{}, fmt.Errorf("read loadavg: %w", err)
	}
	return parseLoadAvg(data)
}

// Uptime parses /proc/uptime.
func (p *OSProvider) Uptime(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p.procRoot + "/uptime")
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed uptime: %q", data)
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Hostname wraps os.Hostname.
func (p *OSProvider) Hostname(ctx context.Context) (string, error) {
	return os.Hostname()
}

var _ Provider = (*OSProvider)(nil)

// =============================================================================
// Parsers
// =============================================================================

// parseMeminfo extracts MemTotal and MemAvailable from meminfo bytes.
func parseMeminfo(data []byte) (MemoryStats, error) {
	var stats MemoryStats
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			stats.TotalKB = value
		case "MemAvailable:":
			stats.AvailableKB = value
		}
	}
	if stats.TotalKB == 0 {
		return MemoryStats{}, fmt.Errorf("meminfo missing MemTotal")
	}
	stats.UsedPercent = float64(stats.TotalKB-stats.AvailableKB) / float64(stats.TotalKB) * 100
	return stats, nil
}

// parseCPUStat extracts the aggregate "cpu" line counters:
// user nice system idle iowait irq softirq steal [guest guest_nice].
// idle and iowait count as not-busy.
func parseCPUStat(data []byte) (cpuSample, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var total, idle uint64
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuSample{}, fmt.Errorf("parse cpu field %q: %w", f, err)
			}
			total += v
			if i == 3 || i == 4 { // idle, iowait
				idle += v
			}
		}
		return cpuSample{busy: total - idle, total: total, valid: true}, nil
	}
	return cpuSample{}, fmt.Errorf("stat missing aggregate cpu line")
}

// cpuPercent computes busy percent between two samples. With no valid
// previous sample the current counters measure since boot.
func cpuPercent(prev, cur cpuSample) float64 {
	var busy, total uint64
	if prev.valid && cur.total > prev.total {
		busy = cur.busy - prev.busy
		total = cur.total - prev.total
	} else {
		busy = cur.busy
		total = cur.total
	}
	if total == 0 {
		return 0
	}
	pct := float64(busy) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// parseLoadAvg extracts the three load averages from loadavg bytes.
func parseLoadAvg(data []byte) (LoadStats, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return LoadStats{}, fmt.Errorf("malformed loadavg: %q", data)
	}
	var stats LoadStats
	var err error
	if stats.Load1, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return LoadStats{}, fmt.Errorf("parse load1: %w", err)
	}
	if stats.Load5, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return LoadStats{}, fmt.Errorf("parse load5: %w", err)
	}
	if stats.Load15, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return LoadStats{}, fmt.Errorf("parse load15: %w", err)
	}
	return stats, nil
}
