// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MKhiriev/go-record-sync/internal/logger"
)

// countingSyncer tracks how many times Trigger was called.
type countingSyncer struct {
	mu      sync.Mutex
	reasons []string
}

func (s *countingSyncer) Trigger(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *countingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

func TestSyncWorker_TriggersOnInterval(t *testing.T) {
	syncer := &countingSyncer{}
	worker := NewSyncWorker(syncer, logger.Nop())

	worker.Start(context.Background(), 10*time.Millisecond)
	defer worker.Stop()

	assert.Eventually(t, func() bool { return syncer.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSyncWorker_StopHaltsTriggers(t *testing.T) {
	syncer := &countingSyncer{}
	worker := NewSyncWorker(syncer, logger.Nop())

	worker.Start(context.Background(), 10*time.Millisecond)
	assert.Eventually(t, func() bool { return syncer.count() >= 1 }, time.Second, 5*time.Millisecond)

	worker.Stop()
	countAfterStop := syncer.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAfterStop, syncer.count())
}

func TestSyncWorker_StopWithoutStartIsNoOp(t *testing.T) {
	worker := NewSyncWorker(&countingSyncer{}, logger.Nop())
	worker.Stop()
}

func TestSyncWorker_RestartReplacesJob(t *testing.T) {
	syncer := &countingSyncer{}
	worker := NewSyncWorker(syncer, logger.Nop())

	worker.Start(context.Background(), time.Hour)
	worker.Start(context.Background(), 10*time.Millisecond)
	defer worker.Stop()

	assert.Eventually(t, func() bool { return syncer.count() >= 1 }, time.Second, 5*time.Millisecond)
}

type stubCredentialChecker struct {
	mu      sync.Mutex
	expires bool
	leeways []time.Duration
}

func (c *stubCredentialChecker) TokenExpiresSoon(leeway time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leeways = append(c.leeways, leeway)
	return c.expires
}

func TestSyncWorker_WatchCredentialsReportsExpiry(t *testing.T) {
	syncer := &countingSyncer{}
	checker := &stubCredentialChecker{expires: true}
	worker := NewSyncWorker(syncer, logger.Nop())

	var stale atomic.Int32
	worker.WatchCredentials(checker, time.Minute, func() { stale.Add(1) })

	worker.Start(context.Background(), 10*time.Millisecond)
	defer worker.Stop()

	assert.Eventually(t, func() bool { return stale.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// The configured leeway reaches the checker, and ticks still sync.
	checker.mu.Lock()
	assert.Equal(t, time.Minute, checker.leeways[0])
	checker.mu.Unlock()
	assert.Eventually(t, func() bool { return syncer.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestSyncWorker_FreshCredentialStaysQuiet(t *testing.T) {
	syncer := &countingSyncer{}
	checker := &stubCredentialChecker{expires: false}
	worker := NewSyncWorker(syncer, logger.Nop())

	var stale atomic.Int32
	worker.WatchCredentials(checker, time.Minute, func() { stale.Add(1) })

	worker.Start(context.Background(), 10*time.Millisecond)
	defer worker.Stop()

	assert.Eventually(t, func() bool { return syncer.count() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, stale.Load())
}

func TestSyncWorker_ContextCancelStops(t *testing.T) {
	syncer := &countingSyncer{}
	worker := NewSyncWorker(syncer, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx, 10*time.Millisecond)
	cancel()

	time.Sleep(30 * time.Millisecond)
	countAfterCancel := syncer.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAfterCancel, syncer.count())
}
