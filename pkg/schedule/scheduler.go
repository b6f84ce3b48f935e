// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schedule abstracts timer-based task scheduling.
//
// Monitors and the orchestrator never touch time.Ticker directly; they
// register named tasks against a Scheduler. Production code uses
// TimerScheduler (real wall-clock timers), tests use ManualScheduler,
// whose Advance method fires due tasks synchronously so window- and
// interval-dependent behavior is deterministic.
//
// Each registered task is serialized with itself: a run that outlasts
// its interval delays only its own next tick, never another task's.
// Cross-service independence comes from registering one task per
// service.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Task is a unit of scheduled work. The context is canceled when the
// task is canceled or the scheduler stops; long probes should honor it.
type Task func(ctx context.Context)

// CancelFunc removes a scheduled task. Safe to call more than once.
type CancelFunc func()

// PanicHandler receives recovered panics from scheduled tasks.
type PanicHandler func(taskName string, recovered any, stack []byte)

// Scheduler registers cancelable periodic and daily tasks and supplies
// the clock its tasks should timestamp with.
type Scheduler interface {
	// Every runs task once per interval, starting one interval from
	// registration.
	Every(name string, interval time.Duration, task Task) CancelFunc

	// Daily runs task once per day at the given local wall-clock time.
	Daily(name string, hour, minute int, task Task) CancelFunc

	// Now returns the scheduler's notion of the current time.
	Now() time.Time

	// Stop cancels every task and waits for in-progress runs.
	Stop()
}

// =============================================================================
// TimerScheduler
// =============================================================================

// TimerScheduler is the production Scheduler backed by real timers.
// One goroutine per task; tasks are isolated from each other and a
// panicking task is recovered, reported, and its schedule continues.
type TimerScheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	onPanic PanicHandler
}

// NewTimerScheduler creates a running TimerScheduler. onPanic may be
// nil, in which case panics are recovered silently.
func NewTimerScheduler(onPanic PanicHandler) *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		ctx:     ctx,
		cancel:  cancel,
		onPanic: onPanic,
	}
}

// Every runs task once per interval until canceled. Intervals must be
// positive; a non-positive interval registers nothing and returns a
// no-op cancel, so a misconfigured monitor degrades to "never checks"
// rather than spinning.
func (s *TimerScheduler) Every(name string, interval time.Duration, task Task) CancelFunc {
	if interval <= 0 {
		return func() {}
	}

	taskCtx, taskCancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				s.run(name, taskCtx, task)
			}
		}
	}()
	return CancelFunc(taskCancel)
}

// Daily runs task at hour:minute local time each day. The first run is
// the next occurrence of that wall-clock time.
func (s *TimerScheduler) Daily(name string, hour, minute int, task Task) CancelFunc {
	taskCtx, taskCancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := time.Until(NextDaily(time.Now(), hour, minute))
			timer := time.NewTimer(wait)
			select {
			case <-taskCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.run(name, taskCtx, task)
			}
		}
	}()
	return CancelFunc(taskCancel)
}

// Now returns the wall-clock time.
func (s *TimerScheduler) Now() time.Time { return time.Now() }

// Stop cancels all tasks and blocks until their goroutines exit.
// In-progress runs complete; their results land in canceled contexts
// and are discarded by the callers.
func (s *TimerScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// run executes one task invocation with panic isolation.
func (s *TimerScheduler) run(name string, ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			if s.onPanic != nil {
				s.onPanic(name, r, debug.Stack())
			}
		}
	}()
	task(ctx)
}

var _ Scheduler = (*TimerScheduler)(nil)

// NextDaily returns the first instant at hour:minute (in t's location)
// strictly after t.
func NextDaily(t time.Time, hour, minute int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// LogPanicHandler adapts a slog-style logger func into a PanicHandler.
//
//	sched := schedule.NewTimerScheduler(
//	    schedule.LogPanicHandler(logger.Error))
func LogPanicHandler(logf func(msg string, args ...any)) PanicHandler {
	return func(taskName string, recovered any, stack []byte) {
		logf("scheduled task panicked",
			"task", taskName,
			"panic", fmt.Sprint(recovered),
			"stack", string(stack),
		)
	}
}
