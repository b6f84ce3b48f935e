// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sysinfo

import (
	"context"
	"sync"
	"time"
)

// Fake is a configurable Provider for tests. Each method delegates to
// the corresponding function field when set and otherwise returns a
// healthy canned value. Calls records method names in order.
type Fake struct {
	MemoryFunc      func(ctx context.Context) (MemoryStats, error)
	CPUFunc         func(ctx context.Context) (CPUStats, error)
	DiskFunc        func(ctx context.Context, path string) (DiskStats, error)
	LoadAverageFunc func(ctx context.Context) (LoadStats, error)
	UptimeFunc      func(ctx context.Context) (time.Duration, error)
	HostnameFunc    func(ctx context.Context) (string, error)

	mu    sync.Mutex
	calls []string
}

// NewFake returns a Fake whose defaults describe an idle, healthy host.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
}

// Calls returns a copy of the recorded method names.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Memory(ctx context.Context) (MemoryStats, error) {
	f.record("Memory")
	if f.MemoryFunc != nil {
		return f.MemoryFunc(ctx)
	}
	return MemoryStats{TotalKB: 32 * 1024 * 1024, AvailableKB: 24 * 1024 * 1024, UsedPercent: 25}, nil
}

func (f *Fake) CPU(ctx context.Context) (CPUStats, error) {
	f.record("CPU")
	if f.CPUFunc != nil {
		return f.CPUFunc(ctx)
	}
	return CPUStats{UsedPercent: 12.5}, nil
}

func (f *Fake) Disk(ctx context.Context, path string) (DiskStats, error) {
	f.record("Disk")
	if f.DiskFunc != nil {
		return f.DiskFunc(ctx, path)
	}
	return DiskStats{TotalBytes: 500 * 1024 * 1024 * 1024, FreeBytes: 300 * 1024 * 1024 * 1024, UsedPercent: 40}, nil
}

func (f *Fake) LoadAverage(ctx context.Context) (LoadStats, error) {
	f.record("LoadAverage")
	if f.LoadAverageFunc != nil {
		return f.LoadAverageFunc(ctx)
	}
	return LoadStats{Load1: 0.4, Load5: 0.3, Load15: 0.2}, nil
}

func (f *Fake) Uptime(ctx context.Context) (time.Duration, error) {
	f.record("Uptime")
	if f.UptimeFunc != nil {
		return f.UptimeFunc(ctx)
	}
	return 72 * time.Hour, nil
}

func (f *Fake) Hostname(ctx context.Context) (string, error) {
	f.record("Hostname")
	if f.HostnameFunc != nil {
		return f.HostnameFunc(ctx)
	}
	return "testhost", nil
}

var _ Provider = (*Fake)(nil)
