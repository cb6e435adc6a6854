// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// Sync-triggered uploads are budgeted: at most uploadBucketLimit writes
// inside a rolling uploadBucketWindow. Direct (user-triggered) uploads
// are not limited.
const (
	uploadBucketLimit  = 3
	uploadBucketWindow = 5 * time.Minute
)

// UploadCoordinator turns a build result into an encrypted write
// operation and submits it under the optimistic-concurrency precondition.
type UploadCoordinator struct {
	transport adapter.Transport
	cipher    crypto.RecordCipher
	state     store.StateRepository
	rate      *uploadRateBucket
	logger    *logger.Logger
}

func NewUploadCoordinator(transport adapter.Transport, cipher crypto.RecordCipher, state store.StateRepository, log *logger.Logger) *UploadCoordinator {
	return &UploadCoordinator{
		transport: transport,
		cipher:    cipher,
		state:     state,
		rate:      newUploadRateBucket(uploadBucketLimit, uploadBucketWindow),
		logger:    log,
	}
}

// Upload submits one write attempt. On success it runs the build's
// post-commit callbacks, persists the new manifest version, and clears
// the pending-delete side table. A version conflict is returned to the
// caller unchanged (wrapped) so the scheduler can back off, re-sync, and
// retry. A no-op build is skipped entirely.
func (u *UploadCoordinator) Upload(ctx context.Context, result BuildResult, fromSync bool) error {
	log := logger.FromContext(ctx)

	if result.IsNoOp() {
		log.Debug().Uint64("version", result.Manifest.Version).Msg("skipping no-op upload")
		return nil
	}

	if fromSync && !u.rate.allow() {
		return fmt.Errorf("%w: %d sync-triggered uploads in %s", ErrUploadRateLimited, uploadBucketLimit, uploadBucketWindow)
	}

	storageKey, err := u.state.StorageKey(ctx)
	if err != nil {
		return fmt.Errorf("load storage key: %w", err)
	}
	if len(storageKey) == 0 {
		return ErrStorageKeyMissing
	}

	op, err := u.buildWriteOperation(result, storageKey)
	if err != nil {
		return err
	}

	log.Info().
		Uint64("version", result.Manifest.Version).
		Int("inserts", len(op.InsertItems)).
		Int("deletes", len(op.DeleteKeys)).
		Bool("from_sync", fromSync).
		Msg("uploading manifest")

	if err := u.transport.Write(ctx, op); err != nil {
		return fmt.Errorf("write manifest version %d: %w", result.Manifest.Version, err)
	}

	return u.commit(ctx, result)
}

func (u *UploadCoordinator) buildWriteOperation(result BuildResult, storageKey []byte) (models.WriteOperation, error) {
	plaintext, err := json.Marshal(result.Manifest)
	if err != nil {
		return models.WriteOperation{}, fmt.Errorf("%w: %w", ErrEncodingManifest, err)
	}

	manifestKey := u.cipher.DeriveManifestKey(storageKey, result.Manifest.Version)
	sealed, err := u.cipher.Encrypt(plaintext, manifestKey)
	if err != nil {
		return models.WriteOperation{}, fmt.Errorf("encrypt manifest: %w", err)
	}

	op := models.WriteOperation{
		Manifest: models.EncryptedManifest{
			Version: result.Manifest.Version,
			Data:    sealed,
		},
		DeleteKeys: result.DeleteKeys,
	}

	for _, id := range result.InsertKeys {
		itemKey, err := u.cipher.DeriveItemKey(storageKey, result.Manifest.RecordIKM, id)
		if err != nil {
			return models.WriteOperation{}, fmt.Errorf("derive item key for %s: %w", id.Redacted(), err)
		}
		value, err := u.cipher.Encrypt(result.RecordsByID[id], itemKey)
		if err != nil {
			return models.WriteOperation{}, fmt.Errorf("encrypt record %s: %w", id.Redacted(), err)
		}
		op.InsertItems = append(op.InsertItems, models.StorageItem{ID: id, Value: value})
	}

	return op, nil
}

// commit applies the deferred local updates now that the remote write is
// confirmed.
func (u *UploadCoordinator) commit(ctx context.Context, result BuildResult) error {
	log := logger.FromContext(ctx)

	for _, callback := range result.PostCommit {
		if err := callback(ctx); err != nil {
			log.Err(err).Msg("post-commit entity update failed")
			return fmt.Errorf("post-commit update: %w", err)
		}
	}

	if err := u.state.SetManifestVersion(ctx, result.Manifest.Version); err != nil {
		return fmt.Errorf("persist manifest version: %w", err)
	}
	if err := u.state.SetPendingDeletes(ctx, nil); err != nil {
		return fmt.Errorf("clear pending deletes: %w", err)
	}

	log.Info().Uint64("version", result.Manifest.Version).Msg("manifest upload confirmed")
	return nil
}

// uploadRateBucket is a rolling-window counter for sync-triggered
// uploads.
type uploadRateBucket struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func newUploadRateBucket(limit int, window time.Duration) *uploadRateBucket {
	return &uploadRateBucket{limit: limit, window: window, now: time.Now}
}

func (b *uploadRateBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.window)
	fresh := b.stamps[:0]
	for _, stamp := range b.stamps {
		if stamp.After(cutoff) {
			fresh = append(fresh, stamp)
		}
	}
	b.stamps = fresh

	if len(b.stamps) >= b.limit {
		return false
	}
	b.stamps = append(b.stamps, b.now())
	return true
}
