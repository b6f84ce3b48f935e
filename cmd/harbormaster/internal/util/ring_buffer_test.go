// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"sync"
	"testing"
)

func TestNewRingBuffer_PanicsOnBadCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero capacity")
		}
	}()
	NewRingBuffer[int](0)
}

func TestRingBuffer_PushAndSnapshot(t *testing.T) {
	buf := NewRingBuffer[int](3)
	if !buf.IsEmpty() {
		t.Error("new buffer should be empty")
	}

	buf.Push(1)
	buf.Push(2)
	got := buf.Snapshot()
	want := []int{1, 2}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Snapshot = %v, want %v", got, want)
	}
	if buf.Size() != 2 {
		t.Errorf("Size = %d, want 2", buf.Size())
	}
}

func TestRingBuffer_EvictsOldestAtCapacity(t *testing.T) {
	buf := NewRingBuffer[int](3)
	for i := 1; i <= 3; i++ {
		if dropped := buf.Push(i); dropped {
			t.Errorf("Push(%d) reported eviction before full", i)
		}
	}
	if !buf.IsFull() {
		t.Error("buffer should be full")
	}

	if dropped := buf.Push(4); !dropped {
		t.Error("Push at capacity should report eviction")
	}

	got := buf.Snapshot()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
	if buf.DroppedCount() != 1 {
		t.Errorf("DroppedCount = %d, want 1", buf.DroppedCount())
	}
}

func TestRingBuffer_NewestFirst(t *testing.T) {
	buf := NewRingBuffer[int](5)
	for i := 1; i <= 7; i++ {
		buf.Push(i) // buffer ends with 3,4,5,6,7
	}

	all := buf.NewestFirst(0)
	wantAll := []int{7, 6, 5, 4, 3}
	if len(all) != len(wantAll) {
		t.Fatalf("NewestFirst(0) = %v, want %v", all, wantAll)
	}
	for i := range wantAll {
		if all[i] != wantAll[i] {
			t.Fatalf("NewestFirst(0) = %v, want %v", all, wantAll)
		}
	}

	top2 := buf.NewestFirst(2)
	if len(top2) != 2 || top2[0] != 7 || top2[1] != 6 {
		t.Errorf("NewestFirst(2) = %v, want [7 6]", top2)
	}

	empty := NewRingBuffer[int](3)
	if got := empty.NewestFirst(5); got != nil {
		t.Errorf("NewestFirst on empty = %v, want nil", got)
	}
}

func TestRingBuffer_Last(t *testing.T) {
	buf := NewRingBuffer[int](6)
	// Push enough to wrap around.
	for i := 1; i <= 9; i++ {
		buf.Push(i) // holds 4..9
	}

	last3 := buf.Last(3)
	want := []int{7, 8, 9}
	if len(last3) != 3 {
		t.Fatalf("Last(3) = %v, want %v", last3, want)
	}
	for i := range want {
		if last3[i] != want[i] {
			t.Fatalf("Last(3) = %v, want %v", last3, want)
		}
	}

	// Asking for more than held returns everything, oldest first.
	all := buf.Last(100)
	if len(all) != 6 || all[0] != 4 || all[5] != 9 {
		t.Errorf("Last(100) = %v", all)
	}

	if got := buf.Last(0); got != nil {
		t.Errorf("Last(0) = %v, want nil", got)
	}
}

func TestRingBuffer_Drain(t *testing.T) {
	buf := NewRingBuffer[string](3)
	buf.Push("a")
	buf.Push("b")

	got := buf.Drain()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Drain = %v", got)
	}
	if !buf.IsEmpty() {
		t.Error("buffer should be empty after Drain")
	}
	if got := buf.Drain(); got != nil {
		t.Errorf("second Drain = %v, want nil", got)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	buf := NewRingBuffer[int](2)
	buf.Push(1)
	buf.Push(2)
	buf.Push(3) // evicts

	buf.Clear()
	if buf.Size() != 0 || buf.DroppedCount() != 0 {
		t.Errorf("after Clear: size=%d dropped=%d", buf.Size(), buf.DroppedCount())
	}

	// Buffer remains usable after Clear.
	buf.Push(9)
	if got := buf.Snapshot(); len(got) != 1 || got[0] != 9 {
		t.Errorf("Snapshot after Clear = %v", got)
	}
}

func TestRingBuffer_ConcurrentPush(t *testing.T) {
	buf := NewRingBuffer[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Push(base*100 + i)
			}
		}(g)
	}
	wg.Wait()

	if buf.Size() != 64 {
		t.Errorf("Size = %d, want capacity 64", buf.Size())
	}
	if buf.DroppedCount() != 800-64 {
		t.Errorf("DroppedCount = %d, want %d", buf.DroppedCount(), 800-64)
	}
}
