// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package workers runs the engine's background jobs.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/MKhiriev/go-record-sync/internal/logger"
)

// Syncer is the slice of the engine the worker drives.
type Syncer interface {
	Trigger(reason string)
}

// CredentialChecker reports whether the transport credential is close to
// expiry.
type CredentialChecker interface {
	TokenExpiresSoon(leeway time.Duration) bool
}

// SyncWorker triggers a debounced sync on a fixed interval so devices
// converge even without local activity. Idle until Start is called.
type SyncWorker struct {
	syncer Syncer
	logger *logger.Logger

	creds       CredentialChecker
	credLeeway  time.Duration
	onCredStale func()

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncWorker(syncer Syncer, log *logger.Logger) *SyncWorker {
	return &SyncWorker{syncer: syncer, logger: log}
}

// WatchCredentials makes every tick also inspect the transport credential
// and call onStale when it expires within leeway, so the account layer
// can rotate it before requests start bouncing with 401s. Must be called
// before Start.
func (w *SyncWorker) WatchCredentials(checker CredentialChecker, leeway time.Duration, onStale func()) {
	w.creds = checker
	w.credLeeway = leeway
	w.onCredStale = onStale
}

// Start stops any previously running job, then launches a background
// goroutine that triggers a sync every interval. If interval is zero or
// negative it defaults to 5 minutes. The goroutine exits when ctx is
// cancelled or Stop is called.
func (w *SyncWorker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	w.Stop()

	w.mu.Lock()
	jobCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	w.logger.Info().Dur("interval", interval).Msg("periodic sync worker started")

	go func() {
		defer w.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
				if w.creds != nil && w.creds.TokenExpiresSoon(w.credLeeway) {
					w.onCredStale()
				}
				w.syncer.Trigger("periodic")
			}
		}
	}()
}

// Stop cancels the background goroutine and blocks until it has fully
// exited. Safe to call when the job is not running.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
