// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Harbormaster components.
//
// Every long-running piece of the watchdog (monitors, managers, the
// lookout process) logs through this package rather than through the
// standard library directly, so operators get one consistent stream:
//
//   - Default: stderr output for CLI compatibility (Unix conventions)
//   - Optional: JSON file logging with automatic directory creation
//   - Extensible: LogExporter interface for shipping entries elsewhere
//
// # Architecture
//
// Built on log/slog with a fan-out handler:
//
//	┌────────────────────────────────────────────────────────────┐
//	│                        Logger                              │
//	│  ┌────────────┐  ┌─────────────┐  ┌────────────────────┐  │
//	│  │   stderr   │  │  log file   │  │    LogExporter     │  │
//	│  │ (default)  │  │ (optional)  │  │    (optional)      │  │
//	│  └────────────┘  └─────────────┘  └────────────────────┘  │
//	└────────────────────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.harbormaster/logs", // ~ expands to $HOME
//	    Service: "watch",
//	})
//	defer logger.Close()
//	logger.Info("monitor started", "monitor", "service", "interval", "30s")
//
// File logging writes `{service}_{date}.log` in JSON format so the
// lookout rotation sweep and the log monitor can both consume it.
//
// # Log Levels
//
// Four levels matching slog conventions:
//
//   - Debug: development troubleshooting
//   - Info: normal operations (checks, state changes)
//   - Warn: recoverable issues (retries, degraded probes)
//   - Error: operation failures (the process continues)
//
// # Thread Safety
//
// Logger is safe for concurrent use.
//
// # Security Considerations
//
// Nothing here redacts sensitive data. Callers must keep tokens and
// credentials out of log attributes:
//
//	// BAD
//	logger.Info("sink", "token", token)
//	// GOOD
//	logger.Info("sink", "token_present", token != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
// Setting a minimum level filters out everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational events.
	LevelInfo

	// LevelWarn is for recoverable problems.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges Level to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls Logger construction. The zero value gives an
// Info-level text logger on stderr.
type Config struct {
	// Level is the minimum level emitted. Default: LevelInfo.
	Level Level

	// LogDir enables file logging when non-empty. Supports ~ expansion
	// ("~/.harbormaster/logs" -> "$HOME/.harbormaster/logs"). The file
	// is named "{Service}_{YYYY-MM-DD}.log" and is always JSON.
	// Default: "" (file logging disabled).
	LogDir string

	// Service tags every entry with a "service" attribute and names the
	// log file. Recommended values: "watch", "lookout", "cli".
	// Default: "harbormaster".
	Service string

	// JSON switches the stderr handler from text to JSON. File logs are
	// JSON regardless, since they exist for machine processing.
	// Default: false.
	JSON bool

	// Quiet suppresses stderr output. File logging and the Exporter
	// still receive entries. Useful for daemon mode where stderr is not
	// monitored. Default: false.
	Quiet bool

	// Exporter, when non-nil, receives every entry at or above Level,
	// in log order. Export failures are silently dropped so a broken
	// export destination cannot disrupt normal logging. Default: nil.
	Exporter LogExporter
}

// LogEntry is the exporter-facing form of a single log record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogExporter ships entries to an external system (object storage, a
// log aggregator, a support bundle).
//
// # Implementation Requirements
//
//  1. Export must not block; buffer internally and batch uploads.
//     It is called in-line on the logging goroutine with a 1-second
//     deadline, so entries arrive in log order and a Close after the
//     last log call sees every entry.
//  2. Flush should send all buffered entries; it runs during graceful
//     shutdown, before Close.
//  3. Close releases connections and files.
//
// Implementations must be safe for concurrent use.
type LogExporter interface {
	// Export sends one entry. Errors are logged-and-dropped upstream.
	Export(ctx context.Context, entry LogEntry) error

	// Flush sends everything still buffered.
	Flush(ctx context.Context) error

	// Close releases resources. Called after Flush.
	Close() error
}

// =============================================================================
// Logger
// =============================================================================

// Logger is the concrete multi-destination logger.
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *fileSink
	exporter LogExporter
	mu       sync.Mutex
}

// fileSink is the io.Writer behind the file handler. Writes go through
// an indirection so Rotate can swap the underlying file without
// rebuilding the handler tree.
type fileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return len(p), nil
	}
	return s.f.Write(p)
}

// swap installs f as the sink's file and returns the previous one.
func (s *fileSink) swap(f *os.File) *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.f
	s.f = f
	return old
}

// New builds a Logger from the config.
//
// Handler assembly order:
//  1. stderr (text, or JSON when cfg.JSON) unless cfg.Quiet
//  2. JSON file handler when cfg.LogDir is set; the directory is
//     created 0750, the file opened append-only 0640
//  3. cfg.Exporter attached for in-line export
//
// File-open failures degrade to stderr-only logging instead of failing
// construction: the watchdog must never refuse to start because a log
// directory is unwritable.
func New(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "harbormaster"
	}

	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var file *fileSink
	if cfg.LogDir != "" {
		dir := expandPath(cfg.LogDir)
		if err := os.MkdirAll(dir, 0750); err == nil {
			name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
			path := filepath.Join(dir, name)
			f, openErr := os.OpenFile(path,
				os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
			if openErr == nil {
				file = &fileSink{f: f, path: path}
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			} else if !cfg.Quiet {
				fmt.Fprintf(os.Stderr, "logging: open log file: %v\n", openErr)
			}
		} else if !cfg.Quiet {
			fmt.Fprintf(os.Stderr, "logging: create log dir: %v\n", err)
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with no usable file: keep slog functional but silent.
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	base := slog.New(handler).With("service", cfg.Service)

	return &Logger{
		slog:     base,
		config:   cfg,
		file:     file,
		exporter: cfg.Exporter,
	}
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "harbormaster",
	})
}

// Debug logs at Debug level. Args are key-value attribute pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs at Info level. Args are key-value attribute pairs.
//
//	logger.Info("check completed", "service", name, "latency_ms", ms)
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs at Warn level. Args are key-value attribute pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs at Error level. The system continues; for fatal startup
// errors callers pair this with os.Exit.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a child Logger carrying additional attributes. The file
// handle and exporter are shared; the parent is not modified.
//
//	monLog := logger.With("monitor", "database")
//	monLog.Info("ready check passed", "classes", 4)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying slog.Logger for callers that need
// handler-level access (gin middleware, the badger adapter).
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and syncs/closes the log file. Call once
// on shutdown for any logger created with a LogDir or Exporter.
// Returns the first cleanup error; later errors are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if f := l.file.swap(nil); f != nil {
			if err := f.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync log file: %w", err))
			}
			if err := f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log file: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// FilePath returns the path of the active log file, or "" when file
// logging is disabled.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.path
}

// Rotate moves the active log file aside and reopens a fresh file at
// the same path once it has grown past maxBytes. The rotated file gets
// a Unix-timestamp suffix before the extension
// ("lookout_2026-08-25-1756104631.log"). Returns the rotated file's
// path, or "" when the file was still under the limit.
//
// Safe to call from a ticker while other goroutines log; writes that
// race the swap land in one file or the other, never get lost.
func (l *Logger) Rotate(maxBytes int64) (string, error) {
	if l.file == nil || maxBytes <= 0 {
		return "", nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.file.path)
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < maxBytes {
		return "", nil
	}

	ext := filepath.Ext(l.file.path)
	rotated := fmt.Sprintf("%s-%d%s",
		strings.TrimSuffix(l.file.path, ext), time.Now().Unix(), ext)
	if err := os.Rename(l.file.path, rotated); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}

	f, err := os.OpenFile(l.file.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		// The old handle still works against the renamed inode; keep
		// writing there rather than dropping logs.
		return "", fmt.Errorf("reopen log file: %w", err)
	}

	if old := l.file.swap(f); old != nil {
		_ = old.Sync()
		_ = old.Close()
	}
	return rotated, nil
}

// log writes to slog and fans out to the exporter.
func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelInfo:
		l.slog.Info(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	}

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Synchronous: the LogExporter contract forbids Export from
		// blocking, and in-line delivery keeps entries ordered and
		// guarantees Close observes everything already logged.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = l.exporter.Export(ctx, entry)
		cancel()
	}
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans a record out to every enabled handler, allowing
// text on stderr and JSON in the file from one slog.Logger.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any handler accepts the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every enabled handler.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new multiHandler with the attrs applied to each
// underlying handler.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new multiHandler with the group applied to each
// underlying handler.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helpers
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map for LogEntry.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards every entry. Useful when export is disabled.
type NopExporter struct{}

// Export discards the entry.
func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }

// Flush is a no-op.
func (e *NopExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *NopExporter) Close() error { return nil }

var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter collects entries in memory, mainly for tests:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exporter})
//	logger.Info("probe failed", "service", "weaviate")
//	entries := exporter.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 100),
	}
}

// Export appends the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op; entries already live in memory.
func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

var _ LogExporter = (*BufferedExporter)(nil)

// WriterExporter writes entries to an io.Writer in a single-line
// human-readable form. Useful for tests and ad-hoc destinations; the
// exporter does not take ownership of the writer.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a WriterExporter around w.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// Export writes one formatted line for the entry.
func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

// Flush is a no-op; writes are immediate.
func (e *WriterExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *WriterExporter) Close() error { return nil }

var _ LogExporter = (*WriterExporter)(nil)
