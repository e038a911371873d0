// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history provides bounded append-only retention for audit logs.
package history

// RingBuffer is a fixed-capacity circular buffer that keeps the most
// recent items, evicting oldest first.
//
// # Description
//
// Backs the learning record log: appends are O(1), memory is bounded,
// and once full every push drops the oldest entry. Items returns the
// retained entries oldest-first.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning store must synchronize.
type RingBuffer[T any] struct {
	data  []T
	head  int // next write position
	tail  int // oldest element position
	count int
	cap   int
	full  bool
}

// NewRingBuffer creates a buffer retaining at most capacity items.
// A non-positive capacity falls back to 100.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// Push appends an item, overwriting the oldest when full.
func (r *RingBuffer[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap

	if r.full {
		r.tail = (r.tail + 1) % r.cap
	} else {
		r.count++
		if r.count == r.cap {
			r.full = true
		}
	}
}

// Len returns the number of retained items.
func (r *RingBuffer[T]) Len() int {
	return r.count
}

// Cap returns the retention capacity.
func (r *RingBuffer[T]) Cap() int {
	return r.cap
}

// Items returns the retained items oldest-first as a fresh slice.
func (r *RingBuffer[T]) Items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.data[(r.tail+i)%r.cap])
	}
	return out
}

// Newest returns the most recently pushed item.
//
// # Outputs
//
//   - T: The newest item.
//   - bool: False if the buffer is empty.
func (r *RingBuffer[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.data[(r.head-1+r.cap)%r.cap], true
}

// Resize returns a new buffer with the given capacity holding the most
// recent items that fit, and the number of items dropped.
//
// # Description
//
// Used by maintenance-time record pruning when the configured retention
// changes. The receiver is unchanged.
func (r *RingBuffer[T]) Resize(capacity int) (*RingBuffer[T], int) {
	next := NewRingBuffer[T](capacity)
	items := r.Items()
	dropped := 0
	if len(items) > next.cap {
		dropped = len(items) - next.cap
		items = items[dropped:]
	}
	for _, item := range items {
		next.Push(item)
	}
	return next, dropped
}
