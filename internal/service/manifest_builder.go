// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/records"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// Soft-deleted distribution lists stay in the manifest as tombstones for
// this long so other devices observe the deletion; afterwards the slot is
// dropped for good.
const distributionListTombstoneTTL = 30 * 24 * time.Hour

// BuildResult is a candidate manifest plus everything needed to commit
// it: the plaintext records to insert, the slots to delete, and the local
// entity updates to apply once the remote write is confirmed.
type BuildResult struct {
	Manifest    models.Manifest
	RecordsByID map[models.StorageID][]byte
	InsertKeys  []models.StorageID
	DeleteKeys  []models.StorageID

	// PostCommit holds deferred local updates (fresh StorageID and
	// version per changed entity). They run only after the remote write
	// succeeds, so local state never claims a slot the store rejected.
	PostCommit []func(ctx context.Context) error
}

// IsNoOp reports whether the build changes nothing remotely.
func (r BuildResult) IsNoOp() bool {
	return len(r.InsertKeys) == 0 && len(r.DeleteKeys) == 0
}

// ManifestBuilder walks all local entities and produces the next
// manifest candidate. It is side-effect-free: all persistence happens via
// the returned PostCommit callbacks.
type ManifestBuilder struct {
	entities store.EntityRepository
	state    store.StateRepository
	registry *records.Registry
	deviceID uint32
	logger   *logger.Logger
	now      func() time.Time
}

func NewManifestBuilder(entities store.EntityRepository, state store.StateRepository, registry *records.Registry, deviceID uint32, log *logger.Logger) *ManifestBuilder {
	return &ManifestBuilder{
		entities: entities,
		state:    state,
		registry: registry,
		deviceID: deviceID,
		logger:   log,
		now:      time.Now,
	}
}

// Build produces the manifest for version. A fullRebuild allocates a
// fresh StorageID for every entity regardless of dirtiness. When previous
// is non-nil the computed insert/delete sets are cross-checked against
// the diff with it; a mismatch aborts with ErrInvariantViolation.
func (b *ManifestBuilder) Build(ctx context.Context, version uint64, previous *models.Manifest, fullRebuild bool) (BuildResult, error) {
	log := logger.FromContext(ctx)

	result := BuildResult{
		RecordsByID: make(map[models.StorageID][]byte),
	}
	var keys []models.ManifestKey

	for _, kind := range models.AllEntityKinds {
		entities, err := b.entities.ListAll(ctx, kind)
		if err != nil {
			return BuildResult{}, fmt.Errorf("list %s entities: %w", kind, err)
		}

		for i := range entities {
			entity := entities[i]

			if b.shouldDropDeleted(entity) {
				if entity.Sync.StorageID != "" {
					result.DeleteKeys = append(result.DeleteKeys, entity.Sync.StorageID)
					result.PostCommit = append(result.PostCommit, b.purgeEntityCallback(entity))
				}
				continue
			}

			itemType, err := b.registry.TypeForEntity(entity)
			if err != nil {
				return BuildResult{}, fmt.Errorf("resolve item type for %s/%s: %w", entity.Kind, entity.ID, err)
			}
			codec, ok := b.registry.Lookup(itemType)
			if !ok {
				return BuildResult{}, fmt.Errorf("no codec for item type %s", itemType)
			}

			record, err := codec.Encode(entity)
			if err != nil {
				return BuildResult{}, fmt.Errorf("encode %s/%s: %w", entity.Kind, entity.ID, err)
			}

			storageID := entity.Sync.StorageID
			isNewItem := fullRebuild || entity.Sync.NeedsSync || storageID == ""
			if isNewItem {
				freshID, err := models.NewStorageID()
				if err != nil {
					return BuildResult{}, err
				}
				if storageID != "" {
					result.DeleteKeys = append(result.DeleteKeys, storageID)
				}
				storageID = freshID
				result.InsertKeys = append(result.InsertKeys, freshID)
				result.PostCommit = append(result.PostCommit, b.commitEntityCallback(entity, freshID, version))
			}

			keys = append(keys, models.ManifestKey{Type: itemType, ID: storageID})
			result.RecordsByID[storageID] = record
		}
	}

	// Slots this client cannot interpret are carried forward untouched so
	// newer devices never lose them.
	unknown, err := b.state.UnknownRecords(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("load unknown records: %w", err)
	}
	errored, err := b.state.ErrorRecords(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("load error records: %w", err)
	}
	for _, record := range append(unknown, errored...) {
		keys = append(keys, models.ManifestKey{Type: record.Type, ID: record.ID})
	}

	pendingDeletes, err := b.state.PendingDeletes(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("load pending deletes: %w", err)
	}
	for _, pending := range pendingDeletes {
		result.DeleteKeys = append(result.DeleteKeys, pending.ID)
	}

	recordIKM, err := b.state.RecordIKM(ctx)
	if err != nil {
		return BuildResult{}, fmt.Errorf("load record ikm: %w", err)
	}

	keys, result = b.validate(log, keys, result)
	result.DeleteKeys = dedupeIDs(result.DeleteKeys)

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})

	result.Manifest = models.Manifest{
		Version:      version,
		SourceDevice: b.deviceID,
		Keys:         keys,
		RecordIKM:    recordIKM,
	}

	if previous != nil {
		if err := b.crossCheck(previous, result); err != nil {
			return BuildResult{}, err
		}
	}

	return result, nil
}

// validate prunes the candidate key list, in order: duplicate ids and
// duplicate (type, id) pairs, ids simultaneously scheduled for deletion,
// and any account record beyond the first.
func (b *ManifestBuilder) validate(log *logger.Logger, keys []models.ManifestKey, result BuildResult) ([]models.ManifestKey, BuildResult) {
	deleteSet := make(map[models.StorageID]struct{}, len(result.DeleteKeys))
	for _, id := range result.DeleteKeys {
		deleteSet[id] = struct{}{}
	}

	seen := make(map[models.StorageID]struct{}, len(keys))
	kept := keys[:0]
	accountSeen := false
	dropped := make(map[models.StorageID]struct{})

	for _, key := range keys {
		if _, duplicate := seen[key.ID]; duplicate {
			log.Warn().Str("id", key.ID.Redacted()).Msg("dropping duplicate storage id from manifest")
			dropped[key.ID] = struct{}{}
			continue
		}
		if _, deleted := deleteSet[key.ID]; deleted {
			log.Warn().Str("id", key.ID.Redacted()).Msg("dropping storage id present in delete set")
			dropped[key.ID] = struct{}{}
			continue
		}
		if key.Type == models.ItemTypeAccount {
			if accountSeen {
				log.Warn().Str("id", key.ID.Redacted()).Msg("dropping extra account record")
				dropped[key.ID] = struct{}{}
				continue
			}
			accountSeen = true
		}
		seen[key.ID] = struct{}{}
		kept = append(kept, key)
	}

	if len(dropped) > 0 {
		inserts := result.InsertKeys[:0]
		for _, id := range result.InsertKeys {
			if _, wasDropped := dropped[id]; wasDropped {
				delete(result.RecordsByID, id)
				continue
			}
			inserts = append(inserts, id)
		}
		result.InsertKeys = inserts
	}

	return kept, result
}

// crossCheck verifies the computed insert/delete sets exactly match the
// local-only/remote-only diff against the previous manifest.
func (b *ManifestBuilder) crossCheck(previous *models.Manifest, result BuildResult) error {
	previousSet := previous.KeySet()
	nextSet := result.Manifest.KeySet()

	expectedInserts := make(map[models.StorageID]struct{})
	for id := range nextSet {
		if _, existed := previousSet[id]; !existed {
			expectedInserts[id] = struct{}{}
		}
	}
	expectedDeletes := make(map[models.StorageID]struct{})
	for id := range previousSet {
		if _, kept := nextSet[id]; !kept {
			expectedDeletes[id] = struct{}{}
		}
	}

	if !sameIDSet(expectedInserts, result.InsertKeys) {
		return fmt.Errorf("%w: insert set does not match previous-manifest diff (want %d, have %d)",
			ErrInvariantViolation, len(expectedInserts), len(result.InsertKeys))
	}
	if !sameIDSet(expectedDeletes, result.DeleteKeys) {
		return fmt.Errorf("%w: delete set does not match previous-manifest diff (want %d, have %d)",
			ErrInvariantViolation, len(expectedDeletes), len(result.DeleteKeys))
	}
	return nil
}

func (b *ManifestBuilder) shouldDropDeleted(entity models.Entity) bool {
	if entity.DeletedAt == nil {
		return false
	}
	// Deleted distribution lists tombstone for a while before the slot
	// is released.
	if entity.Kind == models.EntityDistributionList {
		return b.now().Sub(*entity.DeletedAt) > distributionListTombstoneTTL
	}
	return true
}

func (b *ManifestBuilder) commitEntityCallback(entity models.Entity, id models.StorageID, version uint64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		entity.Sync = models.SyncFields{
			StorageID:      id,
			StorageVersion: version,
			NeedsSync:      false,
		}
		entity.UpdatedAt = b.now().UTC()
		return b.entities.Update(ctx, entity)
	}
}

func (b *ManifestBuilder) purgeEntityCallback(entity models.Entity) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return b.entities.Delete(ctx, entity.Kind, entity.ID)
	}
}

func dedupeIDs(ids []models.StorageID) []models.StorageID {
	seen := make(map[models.StorageID]struct{}, len(ids))
	deduped := ids[:0]
	for _, id := range ids {
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	return deduped
}

func sameIDSet(want map[models.StorageID]struct{}, have []models.StorageID) bool {
	if len(want) != len(have) {
		return false
	}
	for _, id := range have {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}
