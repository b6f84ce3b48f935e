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
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/Harbormaster/cmd/harbormaster/internal/util"
	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/probe"
)

// ResourceRecovery is the recovery hook for resource threshold events.
// Unlike service recovery it never restarts anything: the only
// automated action is reclaiming disk space, and only under critical
// pressure. CPU, memory, and load problems are surfaced but left to an
// operator.
type ResourceRecovery struct {
	runner   probe.CommandRunner
	recovery *RecoveryManager
	logDir   string
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// pruneCooldown spaces out prune runs; repeated critical disk events
// inside the window are ignored.
const pruneCooldown = time.Hour

// prunedLogAge is how old a rotated file must be before a pressure
// prune removes it. Newer rotations survive even under pressure.
const prunedLogAge = 72 * time.Hour

// rotatedFilePattern matches rotated journal and log file names
// ("samples-1755856800000.jsonl", "watch_2026-08-25-1756104631.log").
// Dated logs from earlier days match too, which is intended: under
// critical disk pressure they are fair game once past the age guard.
var rotatedFilePattern = regexp.MustCompile(`-[0-9]+\.(log|jsonl)$`)

// NewResourceRecovery builds the hook. A nil runner uses real command
// execution.
func NewResourceRecovery(runner probe.CommandRunner, recovery *RecoveryManager, logDir string, logger *logging.Logger) *ResourceRecovery {
	if runner == nil {
		runner = probe.NewExecRunner()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResourceRecovery{
		runner:   runner,
		recovery: recovery,
		logDir:   logDir,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleThreshold reacts to one resource threshold event. Runs the
// prune on a background goroutine; the dispatch loop never waits on
// podman.
func (r *ResourceRecovery) HandleThreshold(resource string, severity Severity) {
	if resource != "disk" || severity != SeverityCritical {
		return
	}

	r.mu.Lock()
	if r.now().Sub(r.lastRun) < pruneCooldown {
		r.mu.Unlock()
		return
	}
	r.lastRun = r.now()
	r.mu.Unlock()

	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		r.prune(ctx)
	}, func(p util.PanicReport) {
		r.logger.Error("disk prune panicked", "panic", p.PanicValue)
	})
}

// prune removes aged rotated files and unused container images, then
// records the incident.
func (r *ResourceRecovery) prune(ctx context.Context) {
	removed, logErr := r.pruneRotatedFiles()

	var pruneErr error
	if _, err := r.runner.Run(ctx, "podman", "image", "prune", "-f"); err != nil {
		pruneErr = err
	}

	var problems []string
	if logErr != nil {
		problems = append(problems, fmt.Sprintf("log prune: %v", logErr))
	}
	if pruneErr != nil {
		problems = append(problems, fmt.Sprintf("image prune: %v", pruneErr))
	}

	outcome := fmt.Sprintf("%s: removed %d rotated files", OutcomeSuccess, removed)
	if len(problems) > 0 {
		outcome = fmt.Sprintf("%s: %s", OutcomeFailed, strings.Join(problems, "; "))
		r.logger.Error("disk prune incomplete", "detail", outcome)
	} else {
		r.logger.Info("disk prune complete", "removed_files", removed)
	}

	if r.recovery != nil {
		r.recovery.RecordIncident("disk.prune", "disk", outcome)
	}
}

// pruneRotatedFiles deletes rotated files in the log directory older
// than prunedLogAge. The live journal has no timestamp in its name and
// never matches; the live log is written constantly, so its mod time
// keeps it out of reach.
func (r *ResourceRecovery) pruneRotatedFiles() (int, error) {
	if r.logDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(r.logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := r.now().Add(-prunedLogAge)
	removed := 0
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !rotatedFilePattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.logDir, entry.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
