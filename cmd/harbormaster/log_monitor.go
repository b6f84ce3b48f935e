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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
	"github.com/AleutianAI/Harbormaster/pkg/schedule"
)

// ============================================================================
// Log Monitor
// ============================================================================
//
// # Description
//
// Tails configured service log files for error patterns. The watcher
// covers both each file and its parent directory, so writes drive the
// tailing and a file created after startup is adopted the moment it
// appears; a slow periodic sweep backstops any event the watcher
// missed and is the sole mechanism when inotify is unavailable.
//
// A file present at startup begins at its current end, since its
// content predates the daemon. A file created while the daemon runs is
// read from the top: everything in it is new. A shrinking file is
// treated as rotation and re-read from offset zero.
//
// A per-file rate limiter keeps an error storm from flooding the alert
// buffer; suppressed lines are counted and surface in the next emitted
// event.

// logSweepInterval is the fallback polling cadence.
const logSweepInterval = 30 * time.Second

// maxEmittedLine truncates very long log lines in event payloads.
const maxEmittedLine = 300

// maxScanBacklog bounds how much unread log one scan will chew
// through before giving up and jumping to the end.
const maxScanBacklog = 8 << 20

// LogMonitorConfig wires a LogMonitor.
type LogMonitorConfig struct {
	// Paths are the log files to tail.
	Paths []string

	// Patterns are substrings marking a line as an error.
	Patterns []string

	Events chan<- Event
	Logger *logging.Logger
	Now    func() time.Time
}

// logFileState tracks tail progress for one file. scanMu serializes
// whole scans of the file so a watcher event and a sweep racing over
// the same path cannot both read and emit the same lines.
type logFileState struct {
	scanMu     sync.Mutex
	offset     int64
	watched    bool
	limiter    *rate.Limiter
	suppressed int
}

// LogMonitor tails log files for error patterns.
type LogMonitor struct {
	paths    []string
	tailed   map[string]bool // configured paths, for watcher filtering
	patterns []string
	events   chan<- Event
	logger   *logging.Logger
	now      func() time.Time
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]*logFileState

	tasks   taskSet
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// NewLogMonitor builds a LogMonitor. Watcher creation can fail on
// hosts without inotify; the monitor then runs on sweeps alone.
func NewLogMonitor(cfg LogMonitorConfig) *LogMonitor {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tailed := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		tailed[p] = true
	}
	m := &LogMonitor{
		paths:    cfg.Paths,
		tailed:   tailed,
		patterns: cfg.Patterns,
		events:   cfg.Events,
		logger:   cfg.Logger,
		now:      cfg.Now,
		files:    make(map[string]*logFileState),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("log watcher unavailable, using sweeps only", "error", err)
	} else {
		m.watcher = watcher
	}
	return m
}

// Name implements Monitor.
func (m *LogMonitor) Name() string { return "log" }

// Start seeds tail offsets, starts the watcher loop, and registers the
// sweep task. The watcher also covers each file's parent directory so
// a log file created later is adopted on its Create event instead of
// waiting for a sweep.
func (m *LogMonitor) Start(sched schedule.Scheduler) {
	if len(m.paths) == 0 || len(m.patterns) == 0 {
		close(m.done)
		return
	}

	for _, path := range m.paths {
		m.ensureTracked(path)
	}

	if m.watcher != nil {
		dirs := make(map[string]bool)
		for _, path := range m.paths {
			dir := filepath.Dir(path)
			if dirs[dir] {
				continue
			}
			dirs[dir] = true
			if err := m.watcher.Add(dir); err != nil {
				m.logger.Warn("failed to watch log directory", "dir", dir, "error", err)
			}
		}
		go m.watchLoop()
	} else {
		close(m.done)
	}

	m.tasks.add(sched.Every("log-sweep", logSweepInterval, func(ctx context.Context) {
		m.sweep(ctx)
		monitorTicks.WithLabelValues(m.Name()).Inc()
	}))
}

// Stop implements Monitor.
func (m *LogMonitor) Stop() {
	m.tasks.Stop()
	m.stopped.Do(func() {
		close(m.stop)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
	<-m.done
}

// ensureTracked initializes tail state for path and registers it with
// the watcher. Missing files stay untracked until their directory
// watch reports a Create or a sweep finds them.
func (m *LogMonitor) ensureTracked(path string) *logFileState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.files[path]
	if !ok {
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		state = &logFileState{
			// Start at the end: history predates the daemon.
			offset:  info.Size(),
			limiter: rate.NewLimiter(rate.Every(30*time.Second), 5),
		}
		m.files[path] = state
	}
	if !state.watched && m.watcher != nil {
		if err := m.watcher.Add(path); err != nil {
			m.logger.Warn("failed to watch log file", "path", path, "error", err)
		} else {
			state.watched = true
		}
	}
	return state
}

// watchLoop consumes fsnotify events until Stop. Directory watches
// surface events for every entry in the directory, so names outside
// the configured set are dropped here.
func (m *LogMonitor) watchLoop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.tailed[event.Name] {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				m.adoptCreated(event.Name)
			case event.Op&fsnotify.Write != 0:
				m.scanFile(context.Background(), event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("log watcher error", "error", err)
		case <-m.stop:
			return
		}
	}
}

// adoptCreated tracks a configured path that just appeared. Unlike
// startup adoption, the file is read from offset zero: a file born
// under a running daemon contains nothing but new lines. A Create for
// an already-tracked path is the rotation-by-rename case and also
// restarts at the top.
func (m *LogMonitor) adoptCreated(path string) {
	m.mu.Lock()
	state, ok := m.files[path]
	if !ok {
		state = &logFileState{
			limiter: rate.NewLimiter(rate.Every(30*time.Second), 5),
		}
		m.files[path] = state
	}
	needWatch := !state.watched && m.watcher != nil
	m.mu.Unlock()

	// The reset waits out any scan already reading the file, so the
	// scan's final offset store cannot clobber it.
	state.scanMu.Lock()
	m.mu.Lock()
	state.offset = 0
	m.mu.Unlock()
	state.scanMu.Unlock()

	if needWatch {
		if err := m.watcher.Add(path); err != nil {
			m.logger.Warn("failed to watch log file", "path", path, "error", err)
		} else {
			m.mu.Lock()
			state.watched = true
			m.mu.Unlock()
		}
	}
	m.scanFile(context.Background(), path)
}

// sweep rescans every configured path, picking up files the watcher
// missed or that did not exist at startup.
func (m *LogMonitor) sweep(ctx context.Context) {
	for _, path := range m.paths {
		if m.ensureTracked(path) == nil {
			continue
		}
		m.scanFile(ctx, path)
	}
}

// scanFile reads new lines past the stored offset and emits an event
// for pattern matches. The per-file scan lock keeps a watcher event
// and a sweep from reading the same byte range twice.
func (m *LogMonitor) scanFile(ctx context.Context, path string) {
	m.mu.Lock()
	state, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return
	}

	state.scanMu.Lock()
	defer state.scanMu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	m.mu.Lock()
	if info.Size() < state.offset {
		// Rotated or truncated underneath us.
		state.offset = 0
	}
	offset := state.offset
	m.mu.Unlock()

	if info.Size() == offset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		m.logger.Warn("cannot open log file", "path", path, "error", err)
		return
	}
	defer f.Close()

	if info.Size()-offset > maxScanBacklog {
		// The file grew faster than we read it (or rotation replayed a
		// huge file). Skip to the end rather than stall the monitor.
		m.logger.Warn("log backlog too large, skipping to end",
			"path", path,
			"backlog_bytes", info.Size()-offset)
		m.mu.Lock()
		state.offset = info.Size()
		m.mu.Unlock()
		return
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line stays unconsumed until the
			// writer finishes it.
			break
		}
		read += int64(len(line))
		trimmed := strings.TrimRight(line, "\r\n")
		if match := m.matchPattern(trimmed); match != "" {
			m.report(ctx, path, state, match, trimmed)
		}
	}

	m.mu.Lock()
	state.offset = read
	m.mu.Unlock()
}

// matchPattern returns the first configured pattern found in line.
func (m *LogMonitor) matchPattern(line string) string {
	for _, p := range m.patterns {
		if strings.Contains(line, p) {
			return p
		}
	}
	return ""
}

// report emits one log error event, subject to the per-file limiter.
func (m *LogMonitor) report(ctx context.Context, path string, state *logFileState, pattern, line string) {
	m.mu.Lock()
	if !state.limiter.Allow() {
		state.suppressed++
		m.mu.Unlock()
		return
	}
	suppressed := state.suppressed
	state.suppressed = 0
	m.mu.Unlock()

	if len(line) > maxEmittedLine {
		line = line[:maxEmittedLine] + "..."
	}

	severity := SeverityWarning
	if pattern == "FATAL" || strings.HasPrefix(pattern, "panic") {
		severity = SeverityCritical
	}

	data := map[string]any{
		"path":    path,
		"pattern": pattern,
		"line":    line,
	}
	if suppressed > 0 {
		data["suppressedSince"] = suppressed
	}

	emit(ctx, m.events, Event{
		Kind:      EventLogError,
		Subject:   path,
		Healthy:   false,
		Severity:  severity,
		Message:   fmt.Sprintf("error pattern %q in %s", pattern, path),
		Data:      data,
		Timestamp: m.now(),
	})
}
