// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists alert and incident history in an embedded
// BadgerDB so it survives daemon restarts.
//
// The in-memory ring buffers stay authoritative for the live view; the
// archive is a best-effort mirror. Writers treat archive failures as
// log-and-continue, never as fatal.
//
// Keys are "<kind>:<id as %016x>", so lexicographic key order is
// chronological order for millisecond IDs and reverse iteration yields
// newest-first without an index.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Entry kinds. Each kind gets its own key prefix.
const (
	KindAlert    = "alert"
	KindIncident = "incident"
)

// Config holds configuration for the archive store.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes. The archive is a
	// best-effort mirror, so this defaults to false.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger

	// TTL expires entries after this duration. Zero keeps them until
	// value log GC reclaims deleted space, i.e. forever.
	TTL time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// GC rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: async writes, 30-day TTL,
// GC every 10 minutes.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     false,
		TTL:            30 * 24 * time.Hour,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: in-memory, no GC, no
// TTL.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is an append-mostly history archive over BadgerDB.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the archive at the configured path, creating the
// directory if needed, and starts the GC loop when configured.
//
// Outputs:
//
//	*Store - The opened archive. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	s := &Store{db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops the GC loop and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is
			// nothing worth collecting.
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}

func key(kind string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s:%016x", kind, id))
}

// Put stores one entry under its kind and id.
//
// Inputs:
//
//	kind - KindAlert or KindIncident.
//	id - Millisecond-scale unique id; orders the kind's history.
//	data - Serialized entry, typically JSON.
func (s *Store) Put(ctx context.Context, kind string, id uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(kind, id), data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Recent returns up to n entries of a kind, newest first. n <= 0 means
// all of them.
func (s *Store) Recent(ctx context.Context, kind string, n int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte(kind + ":")
	var out [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode the seek key must sort after every key in
		// the prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, val)
			if n > 0 && len(out) >= n {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s archive: %w", kind, err)
	}
	return out, nil
}

// Count returns the number of live entries of a kind.
func (s *Store) Count(ctx context.Context, kind string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte(kind + ":")
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s archive: %w", kind, err)
	}
	return count, nil
}
