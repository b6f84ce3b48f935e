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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// touchFile creates an empty file with the given modification time.
func touchFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0640))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestLogJanitor_PrunesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	expired := touchFile(t, dir, "lookout_2026-08-10.log", now.Add(-10*24*time.Hour))
	expiredRotation := touchFile(t, dir, "lookout_2026-08-12-1755000000.log", now.Add(-9*24*time.Hour))
	recent := touchFile(t, dir, "lookout_2026-08-24.log", now.Add(-24*time.Hour))
	otherService := touchFile(t, dir, "watch_2026-08-10.log", now.Add(-30*24*time.Hour))

	logger := logging.New(logging.Config{Quiet: true})
	janitor := NewLogJanitor(LogJanitorConfig{
		Logger:    logger,
		Dir:       dir,
		Retention: 7 * 24 * time.Hour,
	})

	janitor.Sweep()

	assert.NoFileExists(t, expired)
	assert.NoFileExists(t, expiredRotation)
	assert.FileExists(t, recent)
	assert.FileExists(t, otherService, "only lookout files may be pruned")
}

func TestLogJanitor_RetentionDisabled(t *testing.T) {
	dir := t.TempDir()
	old := touchFile(t, dir, "lookout_2020-01-01.log", time.Now().Add(-2000*24*time.Hour))

	janitor := NewLogJanitor(LogJanitorConfig{
		Logger: logging.New(logging.Config{Quiet: true}),
		Dir:    dir,
	})
	janitor.Sweep()

	assert.FileExists(t, old)
}

func TestLogJanitor_NeverPrunesActiveFile(t *testing.T) {
	dir := t.TempDir()
	logger := logging.New(logging.Config{LogDir: dir, Service: "lookout", Quiet: true})
	t.Cleanup(func() { _ = logger.Close() })
	logger.Info("first poll")

	active := logger.FilePath()
	require.FileExists(t, active)

	// A clock a month ahead makes every file look expired; the active
	// file must survive on the name guard alone.
	janitor := NewLogJanitor(LogJanitorConfig{
		Logger:    logger,
		Dir:       dir,
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return time.Now().Add(30 * 24 * time.Hour) },
	})
	janitor.Sweep()

	assert.FileExists(t, active)
}

func TestLogJanitor_RotatesOversizedActiveFile(t *testing.T) {
	dir := t.TempDir()
	logger := logging.New(logging.Config{LogDir: dir, Service: "lookout", Quiet: true})
	t.Cleanup(func() { _ = logger.Close() })
	logger.Info("grow the file", "filler", "0123456789")

	active := logger.FilePath()
	janitor := NewLogJanitor(LogJanitorConfig{
		Logger:   logger,
		Dir:      dir,
		MaxBytes: 1,
	})
	janitor.Sweep()

	// The original path holds a fresh file again; the old bytes moved
	// to a timestamped sibling.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if name != filepath.Base(active) {
			rotated = append(rotated, name)
		}
	}
	require.Len(t, rotated, 1)
	stem := strings.TrimSuffix(filepath.Base(active), ".log")
	assert.True(t, strings.HasPrefix(rotated[0], stem+"-"), "rotated name %q keeps the stem", rotated[0])
	assert.True(t, strings.HasSuffix(rotated[0], ".log"), "rotated name %q keeps the extension", rotated[0])

	logger.Info("after rotation")
	fresh, err := os.ReadFile(active)
	require.NoError(t, err)
	assert.Contains(t, string(fresh), "after rotation")
	assert.NotContains(t, string(fresh), "grow the file")
}
