// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// SyncResult is the outcome of one pull cycle. A nil Manifest means the
// remote had nothing newer. ConflictCount counts everything that left
// local state ahead of the remote (dirty overwrites, recreated canonical
// entities, cleared orphan slots); any non-zero count requires a
// follow-up upload.
type SyncResult struct {
	Manifest      *models.Manifest
	ConflictCount int
}

// SyncOrchestrator runs the pull state machine: fetch manifest, diff
// against local slots, fetch remote-only records, merge, reconcile
// local-only slots.
type SyncOrchestrator struct {
	transport   adapter.Transport
	cipher      crypto.RecordCipher
	builder     *ManifestBuilder
	coordinator *UploadCoordinator
	fetcher     *RecordFetcher
	merger      *RecordMerger
	entities    store.EntityRepository
	state       store.StateRepository
	logger      *logger.Logger

	// onKeyStale is invoked when decryption fails, after the stored
	// storage key has been wiped. The account layer reacts by
	// re-provisioning the key and triggering a fresh sync.
	onKeyStale func()

	// onProfileFetch receives entity ids whose profiles need refetching
	// after a merge batch. Optional.
	onProfileFetch func(ids []string)

	// keyStaleBackOff spaces out re-provisioning requests when syncs keep
	// failing to decrypt. Reset by the next successful cycle.
	keyStaleBackOff *BackOff

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSyncOrchestrator(
	transport adapter.Transport,
	cipher crypto.RecordCipher,
	builder *ManifestBuilder,
	coordinator *UploadCoordinator,
	fetcher *RecordFetcher,
	merger *RecordMerger,
	entities store.EntityRepository,
	state store.StateRepository,
	log *logger.Logger,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		transport:       transport,
		cipher:          cipher,
		builder:         builder,
		coordinator:     coordinator,
		fetcher:         fetcher,
		merger:          merger,
		entities:        entities,
		state:           state,
		logger:          log,
		keyStaleBackOff: NewGeneralBackOff(),
		sleep:           sleepContext,
	}
}

// OnKeyStale registers the stale-storage-key callback.
func (o *SyncOrchestrator) OnKeyStale(callback func()) { o.onKeyStale = callback }

// OnProfileFetch registers the post-merge profile fetch callback.
func (o *SyncOrchestrator) OnProfileFetch(callback func(ids []string)) { o.onProfileFetch = callback }

// Sync runs one full pull cycle. Reason is carried into the logs only.
func (o *SyncOrchestrator) Sync(ctx context.Context, reason string) (SyncResult, error) {
	log := logger.FromContext(ctx)
	log.Info().Str("reason", reason).Msg("starting sync")

	storageKey, err := o.state.StorageKey(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load storage key: %w", err)
	}
	if len(storageKey) == 0 {
		return SyncResult{}, ErrStorageKeyMissing
	}

	localVersion, err := o.state.ManifestVersion(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load manifest version: %w", err)
	}

	encrypted, err := o.transport.GetManifest(ctx, localVersion)
	switch {
	case errors.Is(err, adapter.ErrNoNewerManifest):
		log.Debug().Uint64("version", localVersion).Msg("remote manifest is not newer, nothing to do")
		return SyncResult{}, nil
	case errors.Is(err, adapter.ErrManifestMissing):
		return o.createNewManifest(ctx, localVersion+1)
	case err != nil:
		return SyncResult{}, fmt.Errorf("fetch manifest above version %d: %w", localVersion, err)
	}

	manifest, err := o.decryptManifest(ctx, encrypted, storageKey)
	if err != nil {
		return SyncResult{}, err
	}

	result, err := o.mergeRemoteManifest(ctx, storageKey, manifest)
	if err != nil {
		return SyncResult{}, err
	}

	o.keyStaleBackOff.Reset()
	log.Info().
		Uint64("version", manifest.Version).
		Int("conflicts", result.ConflictCount).
		Msg("sync finished")
	return result, nil
}

func (o *SyncOrchestrator) decryptManifest(ctx context.Context, encrypted models.EncryptedManifest, storageKey []byte) (*models.Manifest, error) {
	manifestKey := o.cipher.DeriveManifestKey(storageKey, encrypted.Version)
	plaintext, err := o.cipher.Decrypt(encrypted.Data, manifestKey)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			o.stopSync(ctx)
		}
		return nil, fmt.Errorf("decrypt manifest version %d: %w", encrypted.Version, err)
	}

	var manifest models.Manifest
	if err := json.Unmarshal(plaintext, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest version %d: %w", encrypted.Version, err)
	}
	if manifest.Version != encrypted.Version {
		return nil, fmt.Errorf("%w: manifest claims version %d, envelope says %d",
			ErrInvariantViolation, manifest.Version, encrypted.Version)
	}
	return &manifest, nil
}

func (o *SyncOrchestrator) mergeRemoteManifest(ctx context.Context, storageKey []byte, manifest *models.Manifest) (SyncResult, error) {
	log := logger.FromContext(ctx)
	remoteSet := manifest.KeySet()

	localByID, localEntities, err := o.loadLocalSlots(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	unknown, err := o.state.UnknownRecords(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load unknown records: %w", err)
	}
	knownIDs := make(map[models.StorageID]struct{}, len(localByID)+len(unknown))
	for id := range localByID {
		knownIDs[id] = struct{}{}
	}
	// Unknown slots are never refetched until reprocessing; error slots
	// are retried every cycle, so they stay out of the known set.
	for _, record := range unknown {
		knownIDs[record.ID] = struct{}{}
	}

	var remoteOnly []models.RemoteRecord
	for id, itemType := range remoteSet {
		if _, known := knownIDs[id]; !known {
			remoteOnly = append(remoteOnly, models.RemoteRecord{ID: id, Type: itemType})
		}
	}

	fetched, err := o.fetcher.Fetch(ctx, storageKey, manifest.RecordIKM, remoteOnly)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			o.stopSync(ctx)
		}
		return SyncResult{}, fmt.Errorf("fetch remote records: %w", err)
	}

	outcome, err := o.merger.MergeAll(ctx, manifest.Version, fetched.Items)
	if err != nil {
		return SyncResult{}, fmt.Errorf("merge records: %w", err)
	}
	conflictCount := outcome.ConflictCount

	// Entities whose slot vanished from the manifest lose their linkage
	// and are re-pushed on the next build. Re-read each one first: the
	// merge above may have already relinked it to a fresh slot.
	for _, snapshot := range localEntities {
		if _, present := remoteSet[snapshot.Sync.StorageID]; present {
			continue
		}
		entity, err := o.entities.Get(ctx, snapshot.Kind, snapshot.ID)
		if errors.Is(err, store.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return SyncResult{}, fmt.Errorf("reload %s/%s: %w", snapshot.Kind, snapshot.ID, err)
		}
		if entity.Sync.StorageID != snapshot.Sync.StorageID {
			continue
		}
		entity.ClearSync()
		entity.UpdatedAt = time.Now().UTC()
		if err := o.entities.Update(ctx, entity); err != nil {
			return SyncResult{}, fmt.Errorf("clear orphaned slot on %s/%s: %w", entity.Kind, entity.ID, err)
		}
		conflictCount++
	}

	recreated, err := o.ensureCanonicalEntities(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	conflictCount += recreated

	if err := o.persistSideTables(ctx, manifest, remoteSet, unknown, outcome, fetched.MissingKeys); err != nil {
		return SyncResult{}, err
	}

	if err := o.state.SetRecordIKM(ctx, manifest.RecordIKM); err != nil {
		return SyncResult{}, fmt.Errorf("persist record ikm: %w", err)
	}
	if err := o.state.SetManifestVersion(ctx, manifest.Version); err != nil {
		return SyncResult{}, fmt.Errorf("persist manifest version: %w", err)
	}

	if len(outcome.NeedsProfileFetch) > 0 {
		log.Debug().Int("count", len(outcome.NeedsProfileFetch)).Msg("profiles need refetching")
		if o.onProfileFetch != nil {
			o.onProfileFetch(outcome.NeedsProfileFetch)
		}
	}

	return SyncResult{Manifest: manifest, ConflictCount: conflictCount}, nil
}

// loadLocalSlots returns every entity currently linked to a storage slot,
// both as a lookup map and as a list.
func (o *SyncOrchestrator) loadLocalSlots(ctx context.Context) (map[models.StorageID]struct{}, []models.Entity, error) {
	byID := make(map[models.StorageID]struct{})
	var linked []models.Entity

	for _, kind := range models.AllEntityKinds {
		entities, err := o.entities.ListAll(ctx, kind)
		if err != nil {
			return nil, nil, fmt.Errorf("list %s entities: %w", kind, err)
		}
		for _, entity := range entities {
			if entity.Sync.StorageID == "" {
				continue
			}
			byID[entity.Sync.StorageID] = struct{}{}
			linked = append(linked, entity)
		}
	}
	return byID, linked, nil
}

// ensureCanonicalEntities recreates the "my story" distribution list and
// the "all chats" folder if a merge removed them. Each recreation counts
// as a conflict so the next upload pushes them back out.
func (o *SyncOrchestrator) ensureCanonicalEntities(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	recreated := 0

	canonical := []models.Entity{
		{
			Kind:       models.EntityDistributionList,
			ID:         models.MyStoryID,
			Attributes: json.RawMessage(`{"name":"My Story","isBlockList":true}`),
		},
		{
			Kind:       models.EntityChatFolder,
			ID:         models.AllChatsFolderID,
			Attributes: json.RawMessage(`{"name":"All chats","showOnlyUnread":false}`),
		},
	}

	for _, entity := range canonical {
		_, err := o.entities.Get(ctx, entity.Kind, entity.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrEntityNotFound) {
			return 0, fmt.Errorf("check canonical %s/%s: %w", entity.Kind, entity.ID, err)
		}

		log.Warn().Str("kind", string(entity.Kind)).Str("id", entity.ID).Msg("recreating missing canonical entity")
		entity.Sync = models.SyncFields{NeedsSync: true}
		entity.UpdatedAt = time.Now().UTC()
		if err := o.entities.Save(ctx, entity); err != nil {
			return 0, fmt.Errorf("recreate canonical %s/%s: %w", entity.Kind, entity.ID, err)
		}
		recreated++
	}
	return recreated, nil
}

func (o *SyncOrchestrator) persistSideTables(
	ctx context.Context,
	manifest *models.Manifest,
	remoteSet map[models.StorageID]models.ItemType,
	previousUnknown []models.UnknownRecord,
	outcome MergeOutcome,
	missingKeys []models.StorageID,
) error {
	// Previously unknown slots survive while the manifest still lists
	// them; freshly encountered ones join the list.
	nextUnknown := make([]models.UnknownRecord, 0, len(previousUnknown)+len(outcome.UnknownRecords))
	seen := make(map[models.StorageID]struct{})
	for _, record := range previousUnknown {
		if _, present := remoteSet[record.ID]; !present {
			continue
		}
		nextUnknown = append(nextUnknown, record)
		seen[record.ID] = struct{}{}
	}
	for _, record := range outcome.UnknownRecords {
		if _, duplicate := seen[record.ID]; duplicate {
			continue
		}
		nextUnknown = append(nextUnknown, record)
	}
	if err := o.state.SetUnknownRecords(ctx, nextUnknown); err != nil {
		return fmt.Errorf("persist unknown records: %w", err)
	}

	// Error slots are rebuilt from this cycle alone: the previous ones
	// were refetched and either merged cleanly or failed again.
	if err := o.state.SetErrorRecords(ctx, outcome.ErrorRecords); err != nil {
		return fmt.Errorf("persist error records: %w", err)
	}

	stored, err := o.state.PendingDeletes(ctx)
	if err != nil {
		return fmt.Errorf("load pending deletes: %w", err)
	}
	// Queued deletions whose slot already left the manifest are confirmed
	// done, usually by another device; only the rest stay queued.
	pending := make([]models.ExtendedStorageID, 0, len(stored))
	pendingSeen := make(map[models.StorageID]struct{}, len(stored))
	for _, entry := range stored {
		if _, present := remoteSet[entry.ID]; !present {
			continue
		}
		pendingSeen[entry.ID] = struct{}{}
		pending = append(pending, entry)
	}
	for _, id := range append(missingKeys, outcome.DroppedKeys...) {
		if _, duplicate := pendingSeen[id]; duplicate {
			continue
		}
		pendingSeen[id] = struct{}{}
		pending = append(pending, models.ExtendedStorageID{ID: id, Version: manifest.Version})
	}
	if err := o.state.SetPendingDeletes(ctx, pending); err != nil {
		return fmt.Errorf("persist pending deletes: %w", err)
	}
	return nil
}

// createNewManifest handles a remote store with no manifest at all: a
// full rebuild is uploaded as the first version.
func (o *SyncOrchestrator) createNewManifest(ctx context.Context, version uint64) (SyncResult, error) {
	log := logger.FromContext(ctx)
	log.Info().Uint64("version", version).Msg("remote has no manifest, creating one")

	result, err := o.builder.Build(ctx, version, nil, true)
	if err != nil {
		return SyncResult{}, fmt.Errorf("build new manifest: %w", err)
	}
	if err := o.coordinator.Upload(ctx, result, false); err != nil {
		return SyncResult{}, fmt.Errorf("upload new manifest: %w", err)
	}
	return SyncResult{Manifest: &result.Manifest}, nil
}

// stopSync wipes the stored storage key after a decryption failure and
// asks the account layer to provision a fresh one. Re-provisioning
// requests are spaced on the general backoff schedule; when a freshly
// provisioned key keeps failing the schedule runs out and the engine
// stops asking until a sync succeeds again.
func (o *SyncOrchestrator) stopSync(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Warn().Msg("decryption failed, wiping stale storage key")

	if err := o.state.ClearStorageKey(ctx); err != nil {
		log.Err(err).Msg("failed to clear storage key")
	}

	if o.keyStaleBackOff.IsFull() {
		log.Error().Msg("every re-provisioned storage key failed, not requesting another")
		return
	}
	wait := o.keyStaleBackOff.GetAndIncrement()
	log.Info().Dur("backoff", wait).Msg("requesting storage key re-provisioning")
	if err := o.sleep(ctx, wait); err != nil {
		return
	}
	if o.onKeyStale != nil {
		o.onKeyStale()
	}
}
