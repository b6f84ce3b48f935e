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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// ============================================================================
// Log Janitor
// ============================================================================
//
// lookout manages its own log files: rotate the active file when it
// grows past the size limit, delete old lookout files past the
// retention window. Only files named lookout_* are touched; the
// daemon's logs in the same directory are left alone.

const rotateSweepInterval = 10 * time.Minute

// LogJanitorConfig wires a LogJanitor.
type LogJanitorConfig struct {
	// Logger is the logger whose active file gets rotated. Also the
	// destination for the janitor's own messages.
	Logger *logging.Logger

	// Dir is the log directory swept for expired files.
	Dir string

	// MaxBytes rotates the active file above this size. Zero disables
	// rotation.
	MaxBytes int64

	// Retention deletes lookout files not written for this long. Zero
	// disables pruning.
	Retention time.Duration

	Now func() time.Time
}

// LogJanitor rotates and prunes lookout's log files.
type LogJanitor struct {
	logger    *logging.Logger
	dir       string
	maxBytes  int64
	retention time.Duration
	now       func() time.Time
}

// NewLogJanitor builds a LogJanitor.
func NewLogJanitor(cfg LogJanitorConfig) *LogJanitor {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LogJanitor{
		logger:    cfg.Logger,
		dir:       cfg.Dir,
		maxBytes:  cfg.MaxBytes,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (j *LogJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(rotateSweepInterval)
	defer ticker.Stop()

	j.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep performs one rotate-and-prune pass.
func (j *LogJanitor) Sweep() {
	if j.maxBytes > 0 {
		rotated, err := j.logger.Rotate(j.maxBytes)
		if err != nil {
			j.logger.Warn("log rotation failed", "error", err)
		} else if rotated != "" {
			j.logger.Info("log rotated", "file", filepath.Base(rotated))
		}
	}
	j.prune()
}

// prune deletes lookout log files whose last write predates the
// retention window. Covers both rotated files (lookout_DATE-TS.log)
// and dated files left by earlier runs (lookout_DATE.log). The active
// file is written at least once per poll, so its mod time keeps it
// out of reach; it is skipped by name anyway.
func (j *LogJanitor) prune() {
	if j.retention <= 0 || j.dir == "" {
		return
	}

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Warn("log sweep failed", "dir", j.dir, "error", err)
		return
	}

	cutoff := j.now().Add(-j.retention)
	active := filepath.Base(j.logger.FilePath())

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "lookout_") {
			continue
		}
		if name == active {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, name)
		if err := os.Remove(path); err != nil {
			j.logger.Warn("could not delete expired log", "file", name, "error", err)
			continue
		}
		j.logger.Info("deleted expired log", "file", name,
			"age_days", int(j.now().Sub(info.ModTime()).Hours()/24))
	}
}
