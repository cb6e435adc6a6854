// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"sync"
	"time"
)

var (
	conflictBackOffSchedule = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	generalBackOffSchedule  = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute}
)

// BackOff walks a fixed wait schedule. Once the schedule is exhausted the
// last value repeats and IsFull reports true, letting callers cap retry
// loops instead of waiting forever.
type BackOff struct {
	mu       sync.Mutex
	schedule []time.Duration
	count    int
}

// NewConflictBackOff is the schedule for optimistic-concurrency version
// conflicts: short, capped, abort when full.
func NewConflictBackOff() *BackOff {
	return &BackOff{schedule: conflictBackOffSchedule}
}

// NewGeneralBackOff is the longer schedule used to pace storage key
// re-provisioning requests on the stale-key stop path.
func NewGeneralBackOff() *BackOff {
	return &BackOff{schedule: generalBackOffSchedule}
}

// Get returns the current wait without advancing.
func (b *BackOff) Get() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.schedule[min(b.count, len(b.schedule)-1)]
}

// GetAndIncrement returns the current wait and advances the counter.
func (b *BackOff) GetAndIncrement() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.schedule[min(b.count, len(b.schedule)-1)]
	b.count++
	return wait
}

// IsFull reports whether the schedule has been fully consumed.
func (b *BackOff) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count >= len(b.schedule)
}

// Reset rewinds the schedule after a success.
func (b *BackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
}
