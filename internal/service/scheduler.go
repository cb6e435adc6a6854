// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/records"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// Scheduler is the engine's public surface. It serializes every sync and
// upload for the account into a single in-flight job, owns the
// version-conflict retry loop, and folds rapid triggers into a debounce
// window.
type Scheduler struct {
	orchestrator *SyncOrchestrator
	coordinator  *UploadCoordinator
	builder      *ManifestBuilder
	registry     *records.Registry
	entities     store.EntityRepository
	state        store.StateRepository
	logger       *logger.Logger

	conflictBackOff *BackOff
	debounce        time.Duration

	// jobMu is the single job slot: at most one sync-or-upload runs.
	jobMu sync.Mutex

	// triggerMu guards the debounce timer.
	triggerMu    sync.Mutex
	triggerTimer *time.Timer

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(
	orchestrator *SyncOrchestrator,
	coordinator *UploadCoordinator,
	builder *ManifestBuilder,
	registry *records.Registry,
	entities store.EntityRepository,
	state store.StateRepository,
	debounce time.Duration,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		orchestrator:    orchestrator,
		coordinator:     coordinator,
		builder:         builder,
		registry:        registry,
		entities:        entities,
		state:           state,
		logger:          log,
		conflictBackOff: NewConflictBackOff(),
		debounce:        debounce,
		sleep:           sleepContext,
	}
}

// Sync runs one pull cycle. If the merge left local state ahead of the
// remote, a follow-up upload is pushed immediately within the same job.
func (s *Scheduler) Sync(ctx context.Context, reason string) (*models.Manifest, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.syncLocked(s.jobContext(ctx), reason)
}

// Upload runs one push cycle. Unless the trigger is itself a post-sync
// follow-up, a full sync runs first so the build sees the freshest
// manifest. Version conflicts are retried on the conflict backoff
// schedule, each retry preceded by its own sync; a full schedule aborts
// with ErrTooManyConflicts.
func (s *Scheduler) Upload(ctx context.Context, reason string, fromSync bool) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	ctx = s.jobContext(ctx)
	var previous *models.Manifest
	if !fromSync {
		manifest, err := s.syncLocked(ctx, reason+" (pre-upload)")
		if err != nil {
			return err
		}
		previous = manifest
	}
	_, err := s.uploadLocked(ctx, reason, fromSync, previous)
	return err
}

// Trigger schedules a debounced background sync. Calls landing inside
// the debounce window fold into the pending run.
func (s *Scheduler) Trigger(reason string) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()

	if s.triggerTimer != nil {
		return
	}
	s.triggerTimer = time.AfterFunc(s.debounce, func() {
		s.triggerMu.Lock()
		s.triggerTimer = nil
		s.triggerMu.Unlock()

		if _, err := s.Sync(context.Background(), reason); err != nil {
			s.logger.Err(err).Str("reason", reason).Msg("triggered sync failed")
		}
	})
}

// ReprocessUnknownFields retries every slot previously parked as
// unknown or errored: types this build now understands leave the
// unknown list, the error list is cleared wholesale, and a fresh sync
// refetches and merges them.
func (s *Scheduler) ReprocessUnknownFields(ctx context.Context) error {
	s.jobMu.Lock()
	ctx = s.jobContext(ctx)
	log := logger.FromContext(ctx)

	unknown, err := s.state.UnknownRecords(ctx)
	if err != nil {
		s.jobMu.Unlock()
		return fmt.Errorf("load unknown records: %w", err)
	}

	stillUnknown := make([]models.UnknownRecord, 0, len(unknown))
	for _, record := range unknown {
		if _, supported := s.registry.Lookup(record.Type); supported {
			continue
		}
		stillUnknown = append(stillUnknown, record)
	}
	if len(stillUnknown) != len(unknown) {
		log.Info().
			Int("reprocessable", len(unknown)-len(stillUnknown)).
			Msg("some previously unknown record types are now supported")
	}

	if err := s.state.SetUnknownRecords(ctx, stillUnknown); err != nil {
		s.jobMu.Unlock()
		return fmt.Errorf("persist unknown records: %w", err)
	}
	if err := s.state.SetErrorRecords(ctx, nil); err != nil {
		s.jobMu.Unlock()
		return fmt.Errorf("clear error records: %w", err)
	}

	// Force a refetch of the whole manifest.
	if err := s.state.SetManifestVersion(ctx, 0); err != nil {
		s.jobMu.Unlock()
		return fmt.Errorf("reset manifest version: %w", err)
	}
	s.jobMu.Unlock()

	_, err = s.Sync(ctx, "reprocess-unknown-fields")
	return err
}

// EraseAllState wipes all persisted sync bookkeeping and clears the
// storage linkage off every entity, so the next upload rebuilds the
// remote set from scratch. With keepUnknownFields the unknown-record
// list survives.
func (s *Scheduler) EraseAllState(ctx context.Context, keepUnknownFields bool) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	ctx = s.jobContext(ctx)
	log := logger.FromContext(ctx)
	log.Warn().Bool("keep_unknown_fields", keepUnknownFields).Msg("erasing all sync state")

	if err := s.state.EraseAll(ctx, keepUnknownFields); err != nil {
		return fmt.Errorf("erase sync state: %w", err)
	}

	for _, kind := range models.AllEntityKinds {
		entities, err := s.entities.ListAll(ctx, kind)
		if err != nil {
			return fmt.Errorf("list %s entities: %w", kind, err)
		}
		for _, entity := range entities {
			if entity.Sync == (models.SyncFields{}) {
				continue
			}
			entity.ClearSync()
			if err := s.entities.Update(ctx, entity); err != nil {
				return fmt.Errorf("clear linkage on %s/%s: %w", entity.Kind, entity.ID, err)
			}
		}
	}

	s.conflictBackOff.Reset()
	return nil
}

func (s *Scheduler) syncLocked(ctx context.Context, reason string) (*models.Manifest, error) {
	result, err := s.orchestrator.Sync(ctx, reason)
	if err != nil {
		return nil, err
	}

	if result.ConflictCount > 0 {
		uploaded, err := s.uploadLocked(ctx, "post-merge conflicts", true, result.Manifest)
		if err != nil {
			return result.Manifest, err
		}
		if uploaded != nil {
			return uploaded, nil
		}
	}
	return result.Manifest, nil
}

// uploadLocked builds and submits manifests until one is accepted or the
// conflict budget runs out. Each build is cross-checked against previous,
// the freshest manifest the caller has seen, so a diff that does not add
// up aborts before anything reaches the wire. Returns the committed
// manifest, or nil when the build was a no-op.
func (s *Scheduler) uploadLocked(ctx context.Context, reason string, fromSync bool, previous *models.Manifest) (*models.Manifest, error) {
	log := logger.FromContext(ctx)

	for {
		version, err := s.state.ManifestVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("load manifest version: %w", err)
		}

		buildResult, err := s.builder.Build(ctx, version+1, previous, false)
		if err != nil {
			return nil, fmt.Errorf("build manifest: %w", err)
		}

		err = s.coordinator.Upload(ctx, buildResult, fromSync)
		if err == nil {
			s.conflictBackOff.Reset()
			if buildResult.IsNoOp() {
				return nil, nil
			}
			return &buildResult.Manifest, nil
		}
		if !errors.Is(err, adapter.ErrVersionConflict) {
			return nil, err
		}

		if s.conflictBackOff.IsFull() {
			s.conflictBackOff.Reset()
			return nil, fmt.Errorf("%w: gave up at version %d", ErrTooManyConflicts, version+1)
		}
		wait := s.conflictBackOff.GetAndIncrement()
		log.Warn().
			Str("reason", reason).
			Dur("backoff", wait).
			Msg("version conflict, backing off before re-sync")
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}

		// The retry reuses the manifest obtained by its own sync pass.
		retry, err := s.orchestrator.Sync(ctx, reason+" (conflict retry)")
		if err != nil {
			return nil, err
		}
		if retry.Manifest != nil {
			previous = retry.Manifest
		}
		fromSync = true
	}
}

// jobContext stamps a job id into the logger carried by ctx.
func (s *Scheduler) jobContext(ctx context.Context) context.Context {
	jobLogger := s.logger.With().Str("job_id", uuid.NewString()).Logger()
	return jobLogger.WithContext(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
