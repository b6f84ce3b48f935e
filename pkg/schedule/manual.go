// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ManualScheduler is the deterministic Scheduler for tests. Time moves
// only when Advance is called; due tasks run synchronously on the
// calling goroutine, in chronological order, with the virtual clock set
// to each task's due instant while it runs.
//
//	sched := schedule.NewManualScheduler(start)
//	monitor.Start(ctx, sched)
//	sched.Advance(30 * time.Second) // fires the 30s check exactly once
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	entries []*manualEntry
	stopped bool
}

type manualEntry struct {
	name     string
	interval time.Duration // zero for daily entries
	hour     int
	minute   int
	nextRun  time.Time
	task     Task
	canceled bool
}

// NewManualScheduler creates a ManualScheduler with its clock at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Every registers a periodic task; its first run falls one interval
// after the current virtual time.
func (s *ManualScheduler) Every(name string, interval time.Duration, task Task) CancelFunc {
	if interval <= 0 {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &manualEntry{
		name:     name,
		interval: interval,
		nextRun:  s.now.Add(interval),
		task:     task,
	}
	s.entries = append(s.entries, e)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.canceled = true
	}
}

// Daily registers a task for the next virtual occurrence of
// hour:minute, then every 24h after each run.
func (s *ManualScheduler) Daily(name string, hour, minute int, task Task) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &manualEntry{
		name:    name,
		hour:    hour,
		minute:  minute,
		nextRun: NextDaily(s.now, hour, minute),
		task:    task,
	}
	s.entries = append(s.entries, e)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.canceled = true
	}
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Stop cancels all tasks. Advance becomes a pure clock move.
func (s *ManualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, e := range s.entries {
		e.canceled = true
	}
}

// Advance moves the virtual clock forward by d, running every task
// whose due time falls inside the span. A task due multiple times in
// the span runs once per occurrence. Tasks run without the scheduler
// lock held, so they may call Now or register further tasks.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		e := s.popDue(target)
		if e == nil {
			break
		}
		ctx, cancel := context.WithCancel(context.Background())
		e.task(ctx)
		cancel()
	}

	s.mu.Lock()
	if target.After(s.now) {
		s.now = target
	}
	s.mu.Unlock()
}

// AdvanceTo moves the virtual clock to t, firing due tasks on the way.
func (s *ManualScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	if t.After(now) {
		s.Advance(t.Sub(now))
	}
}

// popDue finds the earliest live entry due at or before target, sets
// the virtual clock to its due instant, and advances its schedule.
// Ties break by registration order (stable sort).
func (s *ManualScheduler) popDue(target time.Time) *manualEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	live := make([]*manualEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.canceled && !e.nextRun.After(target) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].nextRun.Before(live[j].nextRun)
	})

	e := live[0]
	due := e.nextRun
	if e.interval > 0 {
		e.nextRun = due.Add(e.interval)
	} else {
		e.nextRun = NextDaily(due, e.hour, e.minute)
	}
	if due.After(s.now) {
		s.now = due
	}
	return e
}

var _ Scheduler = (*ManualScheduler)(nil)
