// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// Ring Buffer
// =============================================================================

// RingBuffer is a thread-safe, fixed-size circular buffer that drops
// the oldest item when full.
//
// # Description
//
// RingBuffer backs every bounded history in the daemon: the alert
// buffer, the incident log, and the per-service metric windows. When
// the buffer is at capacity, Push evicts the oldest item so memory
// stays bounded no matter how long the daemon runs. DroppedCount
// tracks how many items have been evicted.
//
// # Thread Safety
//
// Safe for concurrent use. All operations are protected by a mutex;
// DroppedCount reads lock-free.
//
// # Example
//
//	alerts := util.NewRingBuffer[Alert](100)
//	alerts.Push(alert)               // evicts oldest once 100 are held
//	recent := alerts.NewestFirst(20) // display order
//
// # Limitations
//
//   - Fixed capacity; cannot grow
//   - Eviction is silent (no backpressure signal beyond DroppedCount)
//
// # Assumptions
//
//   - Items are stored by value and can be copied
//   - Dropping the oldest item is acceptable
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	tail     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates an empty ring buffer holding up to capacity
// items. Memory is allocated up front so Push never allocates.
//
// # Panics
//
// Panics if capacity <= 0.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}

	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push adds an item, evicting the oldest when full.
//
// # Outputs
//
//   - bool: true if an item was evicted to make room
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false

	if r.size == r.capacity {
		r.head = (r.head + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		dropped = true
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++

	return dropped
}

// Snapshot returns a copy of all items oldest-first without modifying
// the buffer. Returns nil when empty.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *RingBuffer[T]) snapshotLocked() []T {
	if r.size == 0 {
		return nil
	}

	result := make([]T, r.size)
	idx := r.head
	for i := 0; i < r.size; i++ {
		result[i] = r.buffer[idx]
		idx = (idx + 1) % r.capacity
	}
	return result
}

// NewestFirst returns up to n items in reverse insertion order, the
// display order for alert and incident histories. n <= 0 returns all
// items newest-first.
//
// # Example
//
//	latest := buf.NewestFirst(10) // ten most recent, newest at index 0
func (r *RingBuffer[T]) NewestFirst(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}
	count := r.size
	if n > 0 && n < count {
		count = n
	}

	result := make([]T, count)
	// tail points one past the newest item.
	idx := r.tail
	for i := 0; i < count; i++ {
		idx = (idx - 1 + r.capacity) % r.capacity
		result[i] = r.buffer[idx]
	}
	return result
}

// Last returns up to n newest items in chronological (oldest-first)
// order. The leak detector reads its sample window this way.
func (r *RingBuffer[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 || n <= 0 {
		return nil
	}
	count := n
	if count > r.size {
		count = r.size
	}

	result := make([]T, count)
	// Start count items back from the tail.
	idx := (r.tail - count + r.capacity*2) % r.capacity
	for i := 0; i < count; i++ {
		result[i] = r.buffer[idx]
		idx = (idx + 1) % r.capacity
	}
	return result
}

// Drain removes and returns all items oldest-first. The buffer is
// empty afterwards; DroppedCount is preserved.
func (r *RingBuffer[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.snapshotLocked()

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.buffer[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0

	return result
}

// Size returns the current number of items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum capacity.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity // Immutable, no lock needed
}

// IsEmpty returns true if the buffer has no items.
func (r *RingBuffer[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

// IsFull returns true if the next Push will evict.
func (r *RingBuffer[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

// DroppedCount returns the total number of items evicted since
// creation or the last Clear.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Clear removes all items and resets the dropped count.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.buffer[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
	atomic.StoreInt64(&r.dropped, 0)
}
