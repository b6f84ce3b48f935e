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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/Harbormaster/pkg/logging"
)

// =============================================================================
// Metrics Store
// =============================================================================

// SampleMirror receives a copy of every stored sample. The InfluxDB
// mirror implements it; tests substitute their own.
type SampleMirror interface {
	WriteSample(ctx context.Context, sample MetricSample) error
	Close()
}

// MetricsStoreConfig configures a MetricsStore.
type MetricsStoreConfig struct {
	// PerKeyCap bounds samples kept in memory per type:subject key.
	PerKeyCap int

	// Retention is the cleanup horizon. Cleanup trims samples and
	// rotated journal files older than this.
	Retention time.Duration

	// JournalDir enables JSONL persistence when non-empty.
	JournalDir string

	// JournalMaxBytes rotates the journal file above this size.
	// Zero means 10 MB.
	JournalMaxBytes int64

	// Mirror optionally receives every sample. Nil disables.
	Mirror SampleMirror

	Logger *logging.Logger

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// MetricsStore keeps bounded in-memory sample windows keyed by
// type:subject, with optional JSONL journaling and an optional mirror.
//
// # Thread Safety
//
// Record, GetRecent, GetAggregated, and Cleanup are safe for
// concurrent use. Journal and mirror writes happen on a background
// goroutine; a full queue drops the persistence copy, never the
// in-memory sample, and the drop is counted rather than surfaced.
type MetricsStore struct {
	mu      sync.RWMutex
	samples map[string][]MetricSample

	perKeyCap int
	retention time.Duration
	now       func() time.Time
	logger    *logging.Logger

	journal *metricsJournal
	mirror  SampleMirror

	pending       chan MetricSample
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	closeErr      error
	dropped       atomic.Uint64
	writeFailures atomic.Uint64
}

// NewMetricsStore builds a store and starts its flush goroutine.
func NewMetricsStore(cfg MetricsStoreConfig) (*MetricsStore, error) {
	if cfg.PerKeyCap <= 0 {
		cfg.PerKeyCap = 1000
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 168 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &MetricsStore{
		samples:   make(map[string][]MetricSample),
		perKeyCap: cfg.PerKeyCap,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger,
		mirror:    cfg.Mirror,
		pending:   make(chan MetricSample, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.JournalDir != "" {
		maxBytes := cfg.JournalMaxBytes
		if maxBytes <= 0 {
			maxBytes = 10 << 20
		}
		j, err := openMetricsJournal(cfg.JournalDir, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("open metrics journal: %w", err)
		}
		s.journal = j
	}

	go s.flushLoop()
	return s, nil
}

func sampleKey(metricType, subject string) string {
	return metricType + ":" + subject
}

// Record appends a timestamped sample. The in-memory window updates
// synchronously; journal and mirror writes are queued.
func (s *MetricsStore) Record(metricType, subject string, value float64) {
	sample := MetricSample{
		Type:      metricType,
		Subject:   subject,
		Value:     value,
		Timestamp: s.now(),
	}

	key := sampleKey(metricType, subject)
	s.mu.Lock()
	window := append(s.samples[key], sample)
	if len(window) > s.perKeyCap {
		window = window[len(window)-s.perKeyCap:]
	}
	s.samples[key] = window
	s.mu.Unlock()

	if s.journal == nil && s.mirror == nil {
		return
	}
	select {
	case s.pending <- sample:
	default:
		s.dropped.Add(1)
	}
}

// GetRecent returns the last n samples for a subject, oldest first.
// n <= 0 returns the whole window.
func (s *MetricsStore) GetRecent(metricType, subject string, n int) []MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := s.samples[sampleKey(metricType, subject)]
	if n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	out := make([]MetricSample, len(window))
	copy(out, window)
	return out
}

// Subjects returns the distinct subjects recorded for a metric type.
func (s *MetricsStore) Subjects(metricType string) []string {
	prefix := metricType + ":"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var subjects []string
	for key := range s.samples {
		if strings.HasPrefix(key, prefix) {
			subjects = append(subjects, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(subjects)
	return subjects
}

// GetAggregated summarizes all samples of a type inside the trailing
// window.
func (s *MetricsStore) GetAggregated(metricType string, hours int) Aggregate {
	if hours <= 0 {
		hours = 24
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	prefix := metricType + ":"

	var values []float64
	s.mu.RLock()
	for key, window := range s.samples {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, sample := range window {
			if sample.Timestamp.After(cutoff) {
				values = append(values, sample.Value)
			}
		}
	}
	s.mu.RUnlock()

	return summarize(metricType, hours, values)
}

// GetAggregatedSubject summarizes one subject's samples inside the
// trailing window. Used by the daily report to break host resources
// out individually.
func (s *MetricsStore) GetAggregatedSubject(metricType, subject string, hours int) Aggregate {
	if hours <= 0 {
		hours = 24
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)

	var values []float64
	s.mu.RLock()
	for _, sample := range s.samples[sampleKey(metricType, subject)] {
		if sample.Timestamp.After(cutoff) {
			values = append(values, sample.Value)
		}
	}
	s.mu.RUnlock()

	return summarize(metricType, hours, values)
}

// summarize computes the summary statistics over values.
func summarize(metricType string, hours int, values []float64) Aggregate {
	agg := Aggregate{Type: metricType, Hours: hours, Count: len(values)}
	if len(values) == 0 {
		return agg
	}
	sort.Float64s(values)
	agg.Min = values[0]
	agg.Max = values[len(values)-1]
	var sum float64
	for _, v := range values {
		sum += v
	}
	agg.Mean = sum / float64(len(values))
	agg.P50 = percentile(values, 0.50)
	agg.P99 = percentile(values, 0.99)
	return agg
}

// percentile reads a quantile from an already-sorted slice using the
// nearest-rank method.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(q * float64(len(sorted)-1)))
	return sorted[idx]
}

// Cleanup trims samples older than the retention horizon and deletes
// rotated journal files past it. Returns how many samples were
// dropped. Scheduled daily.
func (s *MetricsStore) Cleanup() int {
	cutoff := s.now().Add(-s.retention)
	trimmed := 0

	s.mu.Lock()
	for key, window := range s.samples {
		keep := window[:0]
		for _, sample := range window {
			if sample.Timestamp.After(cutoff) {
				keep = append(keep, sample)
			}
		}
		trimmed += len(window) - len(keep)
		if len(keep) == 0 {
			delete(s.samples, key)
			continue
		}
		s.samples[key] = keep
	}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.pruneRotated(cutoff); err != nil {
			s.logger.Warn("metrics journal prune failed", "error", err)
		}
	}
	return trimmed
}

// DroppedWrites reports how many persistence copies were discarded on
// a full queue.
func (s *MetricsStore) DroppedWrites() uint64 {
	return s.dropped.Load()
}

// Close stops the flush goroutine and closes the journal and mirror.
// Safe to call more than once.
func (s *MetricsStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if s.journal != nil {
			s.closeErr = s.journal.close()
		}
		if s.mirror != nil {
			s.mirror.Close()
		}
	})
	return s.closeErr
}

// flushLoop drains queued samples into the journal and mirror. Both
// are best-effort: failures are logged and swallowed so a broken disk
// or mirror endpoint never stalls monitoring.
func (s *MetricsStore) flushLoop() {
	defer close(s.done)
	for {
		select {
		case sample := <-s.pending:
			s.persist(sample)
		case <-s.stop:
			// Drain what is already queued, then leave.
			for {
				select {
				case sample := <-s.pending:
					s.persist(sample)
				default:
					return
				}
			}
		}
	}
}

func (s *MetricsStore) persist(sample MetricSample) {
	if s.journal != nil {
		if err := s.journal.write(sample); err != nil {
			if s.writeFailures.Add(1)%100 == 1 {
				s.logger.Warn("metrics journal write failed", "error", err)
			}
		}
	}
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.mirror.WriteSample(ctx, sample); err != nil {
			if s.writeFailures.Add(1)%100 == 1 {
				s.logger.Warn("metrics mirror write failed", "error", err)
			}
		}
		cancel()
	}
}

// =============================================================================
// JSONL Journal
// =============================================================================

// metricsJournal appends samples to samples.jsonl in its directory,
// rotating by size. Only the flush goroutine touches it.
type metricsJournal struct {
	dir      string
	maxBytes int64
	file     *os.File
	size     int64
}

func openMetricsJournal(dir string, maxBytes int64) (*metricsJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	j := &metricsJournal{dir: dir, maxBytes: maxBytes}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *metricsJournal) path() string {
	return filepath.Join(j.dir, "samples.jsonl")
}

func (j *metricsJournal) open() error {
	f, err := os.OpenFile(j.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	j.file = f
	j.size = info.Size()
	return nil
}

func (j *metricsJournal) write(sample MetricSample) error {
	line, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if j.size+int64(len(line)) > j.maxBytes {
		if err := j.rotate(); err != nil {
			return err
		}
	}
	n, err := j.file.Write(line)
	j.size += int64(n)
	return err
}

func (j *metricsJournal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	rotated := filepath.Join(j.dir, fmt.Sprintf("samples-%d.jsonl", time.Now().UnixMilli()))
	if err := os.Rename(j.path(), rotated); err != nil {
		return err
	}
	return j.open()
}

// pruneRotated deletes rotated files whose mtime is before the cutoff.
func (j *metricsJournal) pruneRotated(cutoff time.Time) error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "samples-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *metricsJournal) close() error {
	return j.file.Close()
}
