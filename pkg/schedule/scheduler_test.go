// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// NextDaily
// =============================================================================

func TestNextDaily(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		hour   int
		minute int
		want   time.Time
	}{
		{"later today", 23, 0, time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)},
		{"already passed", 9, 0, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		{"exactly now rolls to tomorrow", 10, 30, time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDaily(base, tt.hour, tt.minute); !got.Equal(tt.want) {
				t.Errorf("NextDaily = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// ManualScheduler
// =============================================================================

func TestManualScheduler_EveryFiresPerInterval(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	var runs int
	s.Every("check", 30*time.Second, func(ctx context.Context) { runs++ })

	s.Advance(29 * time.Second)
	if runs != 0 {
		t.Fatalf("fired before interval: runs = %d", runs)
	}

	s.Advance(1 * time.Second)
	if runs != 1 {
		t.Fatalf("after 30s: runs = %d, want 1", runs)
	}

	// 95 more seconds covers the 60s, 90s, and 120s ticks.
	s.Advance(95 * time.Second)
	if runs != 4 {
		t.Fatalf("after 125s: runs = %d, want 4", runs)
	}
}

func TestManualScheduler_ClockDuringRun(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	var seen []time.Time
	s.Every("stamp", time.Minute, func(ctx context.Context) {
		seen = append(seen, s.Now())
	})

	s.Advance(150 * time.Second)

	if len(seen) != 2 {
		t.Fatalf("runs = %d, want 2", len(seen))
	}
	if !seen[0].Equal(start.Add(time.Minute)) {
		t.Errorf("first run clock = %v, want %v", seen[0], start.Add(time.Minute))
	}
	if !seen[1].Equal(start.Add(2 * time.Minute)) {
		t.Errorf("second run clock = %v, want %v", seen[1], start.Add(2*time.Minute))
	}
	if !s.Now().Equal(start.Add(150 * time.Second)) {
		t.Errorf("final clock = %v", s.Now())
	}
}

func TestManualScheduler_MultipleTasksInOrder(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	var order []string
	s.Every("slow", 60*time.Second, func(ctx context.Context) {
		order = append(order, "slow")
	})
	s.Every("fast", 25*time.Second, func(ctx context.Context) {
		order = append(order, "fast")
	})

	s.Advance(60 * time.Second)

	// fast at 25s and 50s, slow at 60s.
	want := []string{"fast", "fast", "slow"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestManualScheduler_Cancel(t *testing.T) {
	s := NewManualScheduler(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	var runs int
	cancel := s.Every("check", 10*time.Second, func(ctx context.Context) { runs++ })

	s.Advance(10 * time.Second)
	cancel()
	s.Advance(time.Hour)

	if runs != 1 {
		t.Errorf("runs after cancel = %d, want 1", runs)
	}
}

func TestManualScheduler_Daily(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := NewManualScheduler(start)

	var runs []time.Time
	s.Daily("report", 0, 5, func(ctx context.Context) {
		runs = append(runs, s.Now())
	})

	s.Advance(48 * time.Hour)

	if len(runs) != 2 {
		t.Fatalf("daily runs = %d, want 2", len(runs))
	}
	want0 := time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)
	if !runs[0].Equal(want0) {
		t.Errorf("first daily run at %v, want %v", runs[0], want0)
	}
}

func TestManualScheduler_TaskRegisteringTask(t *testing.T) {
	s := NewManualScheduler(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	var inner int
	s.Every("outer", 10*time.Second, func(ctx context.Context) {
		s.Every("inner", 5*time.Second, func(ctx context.Context) { inner++ })
	})

	// Outer fires at 10s and registers inner (due 15s); inner fires at
	// 15s and 20s; outer fires again at 20s registering another inner.
	s.Advance(20 * time.Second)
	if inner < 2 {
		t.Errorf("inner runs = %d, want >= 2", inner)
	}
}

func TestManualScheduler_Stop(t *testing.T) {
	s := NewManualScheduler(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	var runs int
	s.Every("check", time.Second, func(ctx context.Context) { runs++ })
	s.Stop()
	s.Advance(time.Minute)

	if runs != 0 {
		t.Errorf("runs after Stop = %d, want 0", runs)
	}
}

// =============================================================================
// TimerScheduler
// =============================================================================

func TestTimerScheduler_EveryAndStop(t *testing.T) {
	s := NewTimerScheduler(nil)

	var runs atomic.Int32
	s.Every("tick", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	time.Sleep(55 * time.Millisecond)
	s.Stop()
	after := runs.Load()

	if after < 2 {
		t.Errorf("runs = %d, want >= 2", after)
	}

	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("task kept running after Stop")
	}
}

func TestTimerScheduler_CancelSingleTask(t *testing.T) {
	s := NewTimerScheduler(nil)
	defer s.Stop()

	var a, b atomic.Int32
	cancelA := s.Every("a", 10*time.Millisecond, func(ctx context.Context) { a.Add(1) })
	s.Every("b", 10*time.Millisecond, func(ctx context.Context) { b.Add(1) })

	time.Sleep(25 * time.Millisecond)
	cancelA()
	frozenA := a.Load()
	time.Sleep(30 * time.Millisecond)

	if a.Load() != frozenA {
		t.Error("canceled task kept running")
	}
	if b.Load() <= frozenA {
		t.Errorf("sibling task should keep running: b = %d", b.Load())
	}
}

func TestTimerScheduler_RecoverPanic(t *testing.T) {
	var mu sync.Mutex
	var panicked []string

	s := NewTimerScheduler(func(name string, recovered any, stack []byte) {
		mu.Lock()
		defer mu.Unlock()
		panicked = append(panicked, name)
	})
	defer s.Stop()

	var survived atomic.Bool
	s.Every("explosive", 5*time.Millisecond, func(ctx context.Context) {
		survived.Store(true)
		panic("boom")
	})

	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	count := len(panicked)
	mu.Unlock()

	if !survived.Load() {
		t.Fatal("task never ran")
	}
	if count == 0 {
		t.Fatal("panic handler never invoked")
	}
	if count < 2 {
		t.Error("schedule should continue after a panic")
	}
}

func TestTimerScheduler_NonPositiveInterval(t *testing.T) {
	s := NewTimerScheduler(nil)
	defer s.Stop()

	cancel := s.Every("broken", 0, func(ctx context.Context) {
		t.Error("task with zero interval must never run")
	})
	cancel()
	time.Sleep(10 * time.Millisecond)
}
