// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(42), slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := tt.level.toSlogLevel(); got != tt.want {
			t.Errorf("toSlogLevel(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New returned nil")
	}
	if logger.config.Service != "harbormaster" {
		t.Errorf("default service = %q, want harbormaster", logger.config.Service)
	}
	if logger.file != nil {
		t.Error("expected no log file without LogDir")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "watch",
		Quiet:   true,
	})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("expected a log file handle")
	}

	logger.Info("fleet check", "service", "weaviate", "healthy", true)

	wantName := "watch_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "fleet check") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"watch"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestNew_WithLogDir_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger := New(Config{LogDir: dir, Service: "lookout", Quiet: true})
	defer logger.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
}

func TestNew_QuietWithoutFile(t *testing.T) {
	// Quiet and no LogDir must still produce a usable (silent) logger.
	logger := New(Config{Quiet: true})
	logger.Info("into the void")
	logger.Error("still no panic")
}

func TestLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "lookout", Quiet: true})
	defer logger.Close()

	path := logger.FilePath()
	if path == "" {
		t.Fatal("expected an active log file")
	}

	logger.Info("before rotation", "poll", 1)

	// Under the limit: no-op.
	rotated, err := logger.Rotate(1 << 20)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated != "" {
		t.Fatalf("expected no rotation under the limit, got %q", rotated)
	}

	// One byte is always exceeded once anything has been written.
	rotated, err = logger.Rotate(1)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated == "" {
		t.Fatal("expected a rotation over the limit")
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if !strings.HasPrefix(rotated, stem+"-") || !strings.HasSuffix(rotated, ".log") {
		t.Errorf("rotated name = %q, want %s-<unix>.log", rotated, stem)
	}

	old, err := os.ReadFile(rotated)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !strings.Contains(string(old), "before rotation") {
		t.Errorf("rotated file missing earlier entry: %s", old)
	}

	// New writes land in the fresh file at the original path.
	logger.Info("after rotation", "poll", 2)
	fresh, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fresh file: %v", err)
	}
	if !strings.Contains(string(fresh), "after rotation") {
		t.Errorf("fresh file missing new entry: %s", fresh)
	}
	if strings.Contains(string(fresh), "before rotation") {
		t.Errorf("fresh file should not contain pre-rotation entries: %s", fresh)
	}
}

func TestLogger_Rotate_NoFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	rotated, err := logger.Rotate(1)
	if err != nil {
		t.Fatalf("Rotate without a file: %v", err)
	}
	if rotated != "" {
		t.Errorf("expected no rotation without a file, got %q", rotated)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
}

// =============================================================================
// Logging + Exporter Tests
// =============================================================================

func TestLogger_ExportsEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "watch",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("restart issued", "service", "backend", "attempt", 2)
	logger.Error("restart failed", "service", "backend")

	waitForEntries(t, exporter, 2)

	entries := exporter.Entries()
	if entries[0].Message != "restart issued" {
		t.Errorf("first message = %q", entries[0].Message)
	}
	if entries[0].Service != "watch" {
		t.Errorf("service = %q, want watch", entries[0].Service)
	}
	if got := entries[0].Attrs["attempt"]; got != 2 {
		t.Errorf("attempt attr = %v, want 2", got)
	}
	if entries[1].Level != LevelError {
		t.Errorf("second level = %v, want LevelError", entries[1].Level)
	}
}

func TestLogger_ExportsInOrderBeforeReturning(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Quiet:    true,
		Exporter: exporter,
	})

	for i := 0; i < 20; i++ {
		logger.Info("tick", "seq", i)
	}

	// Export is in-line: everything logged so far is visible now, in
	// log order, with nothing still in flight for Close to lose.
	entries := exporter.Entries()
	if len(entries) != 20 {
		t.Fatalf("exported %d entries, want 20", len(entries))
	}
	for i, entry := range entries {
		if got := entry.Attrs["seq"]; got != i {
			t.Fatalf("entry %d has seq %v", i, got)
		}
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(exporter.Entries()); got != 20 {
		t.Errorf("entries after Close = %d, want 20", got)
	}
}

func TestLogger_ExporterRespectsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Debug("below threshold")
	logger.Info("also below")
	logger.Warn("at threshold")

	waitForEntries(t, exporter, 1)

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("exported %d entries, want 1", len(entries))
	}
	if entries[0].Message != "at threshold" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestLogger_With(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "watch", Quiet: true})
	defer logger.Close()

	child := logger.With("monitor", "resource")
	child.Info("threshold crossed", "metric", "disk")

	name := "watch_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"monitor":"resource"`) {
		t.Errorf("child attribute missing, got: %s", data)
	}
}

func TestLogger_Close_Idempotent(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "watch", Quiet: true})

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	// Second close reports the sync/close error but must not panic.
	_ = logger.Close()
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/.harbormaster/logs", filepath.Join(home, ".harbormaster/logs")},
		{"/var/log/harbormaster", "/var/log/harbormaster"},
		{"relative/logs", "relative/logs"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"service", "ollama", "attempt", 3, "dangling"})
	if got["service"] != "ollama" {
		t.Errorf("service = %v", got["service"])
	}
	if got["attempt"] != 3 {
		t.Errorf("attempt = %v", got["attempt"])
	}
	if _, ok := got["dangling"]; ok {
		t.Error("dangling key without value should be dropped")
	}

	// Non-string keys are skipped, not panicked on.
	got = argsToMap([]any{42, "value", "ok", true})
	if got["ok"] != true {
		t.Errorf("ok = %v", got["ok"])
	}
	if len(got) != 1 {
		t.Errorf("map size = %d, want 1", len(got))
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestNopExporter(t *testing.T) {
	var e NopExporter
	ctx := context.Background()
	if err := e.Export(ctx, LogEntry{}); err != nil {
		t.Errorf("Export: %v", err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWriterExporter(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriterExporter(&buf)

	entry := LogEntry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "disk usage high",
		Attrs:     map[string]any{"percent": 91},
	}
	if err := e.Export(context.Background(), entry); err != nil {
		t.Fatalf("Export: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "disk usage high") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestBufferedExporter_EntriesIsCopy(t *testing.T) {
	e := NewBufferedExporter()
	_ = e.Export(context.Background(), LogEntry{Message: "one"})

	entries := e.Entries()
	entries[0].Message = "mutated"

	if e.Entries()[0].Message != "one" {
		t.Error("Entries must return a copy, not the internal slice")
	}
}

// waitForEntries polls the exporter until n entries arrive or the
// deadline passes. Export runs on its own goroutine, so tests cannot
// assert immediately after the log call.
func waitForEntries(t *testing.T, e *BufferedExporter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.Entries()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d exported entries, have %d", n, len(e.Entries()))
}
