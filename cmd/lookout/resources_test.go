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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/sysinfo"
)

func newSentryHarness(t *testing.T, fake *sysinfo.Fake) (*ResourceSentry, *logging.BufferedExporter) {
	t.Helper()
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{
		Level:    logging.LevelDebug,
		Service:  "lookout",
		Quiet:    true,
		Exporter: exporter,
	})
	t.Cleanup(func() { _ = logger.Close() })
	return NewResourceSentry(fake, logger), exporter
}

func warnMessages(exporter *logging.BufferedExporter) []string {
	var out []string
	for _, e := range exporter.Entries() {
		if e.Level == logging.LevelWarn {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestResourceSentry_QuietWhenHealthy(t *testing.T) {
	// Fake defaults are a comfortably idle host.
	sentry, exporter := newSentryHarness(t, sysinfo.NewFake())

	sentry.sample(context.Background())

	assert.Empty(t, warnMessages(exporter))
}

func TestResourceSentry_WarnsAboveStaticThresholds(t *testing.T) {
	fake := sysinfo.NewFake()
	fake.MemoryFunc = func(ctx context.Context) (sysinfo.MemoryStats, error) {
		return sysinfo.MemoryStats{TotalKB: 32 << 20, AvailableKB: 1 << 20, UsedPercent: 97}, nil
	}
	fake.CPUFunc = func(ctx context.Context) (sysinfo.CPUStats, error) {
		return sysinfo.CPUStats{UsedPercent: 99.5}, nil
	}
	fake.DiskFunc = func(ctx context.Context, path string) (sysinfo.DiskStats, error) {
		return sysinfo.DiskStats{TotalBytes: 500 << 30, FreeBytes: 10 << 30, UsedPercent: 98}, nil
	}
	sentry, exporter := newSentryHarness(t, fake)

	sentry.sample(context.Background())

	warns := warnMessages(exporter)
	assert.Contains(t, warns, "memory usage high")
	assert.Contains(t, warns, "cpu usage high")
	assert.Contains(t, warns, "disk usage high")
}

func TestResourceSentry_LoadPerCore(t *testing.T) {
	fake := sysinfo.NewFake()
	fake.LoadAverageFunc = func(ctx context.Context) (sysinfo.LoadStats, error) {
		return sysinfo.LoadStats{Load1: 1000, Load5: 800, Load15: 600}, nil
	}
	sentry, exporter := newSentryHarness(t, fake)

	sentry.sample(context.Background())

	warns := warnMessages(exporter)
	require.Contains(t, warns, "load average high")
}

func TestResourceSentry_ProviderErrorsStayQuiet(t *testing.T) {
	fake := sysinfo.NewFake()
	fake.MemoryFunc = func(ctx context.Context) (sysinfo.MemoryStats, error) {
		return sysinfo.MemoryStats{}, sysinfo.ErrNotSupported
	}
	fake.CPUFunc = func(ctx context.Context) (sysinfo.CPUStats, error) {
		return sysinfo.CPUStats{}, sysinfo.ErrNotSupported
	}
	sentry, exporter := newSentryHarness(t, fake)

	sentry.sample(context.Background())

	// Unsupported platforms log at Debug, never Warn.
	assert.Empty(t, warnMessages(exporter))
}
