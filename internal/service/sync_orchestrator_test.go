// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/mock"
	"github.com/MKhiriev/go-record-sync/internal/records"
	"github.com/MKhiriev/go-record-sync/models"
)

func newTestOrchestrator(ctrl *gomock.Controller, entities *fakeEntityRepo, state *fakeStateRepo) (*SyncOrchestrator, *mock.MockTransport) {
	transport := mock.NewMockTransport(ctrl)
	cipher := crypto.NewRecordCipher()
	registry := records.NewRegistry()
	log := logger.Nop()

	builder := NewManifestBuilder(entities, state, registry, 1, log)
	coordinator := NewUploadCoordinator(transport, cipher, state, log)
	fetcher := NewRecordFetcher(transport, cipher, 100, 5, log)
	merger := NewRecordMerger(registry, entities, cipher, 4, log)

	orchestrator := NewSyncOrchestrator(transport, cipher, builder, coordinator, fetcher, merger, entities, state, log)
	orchestrator.sleep = func(context.Context, time.Duration) error { return nil }
	return orchestrator, transport
}

func sealManifest(t *testing.T, manifest models.Manifest) models.EncryptedManifest {
	t.Helper()
	cipher := crypto.NewRecordCipher()

	plaintext, err := json.Marshal(manifest)
	require.NoError(t, err)
	data, err := cipher.Encrypt(plaintext, cipher.DeriveManifestKey(testStorageKey, manifest.Version))
	require.NoError(t, err)
	return models.EncryptedManifest{Version: manifest.Version, Data: data}
}

func TestSyncOrchestrator_NoNewerManifestIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	state.manifestVersion = 7
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	transport.EXPECT().
		GetManifest(gomock.Any(), uint64(7)).
		Return(models.EncryptedManifest{}, adapter.ErrNoNewerManifest)

	result, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)
	assert.Nil(t, result.Manifest)
	assert.Zero(t, result.ConflictCount)
	assert.EqualValues(t, 7, state.manifestVersion)
}

func TestSyncOrchestrator_MissingManifestCreatesOne(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo(models.Entity{
		Kind:       models.EntityContact,
		ID:         "aci-1",
		Attributes: json.RawMessage(`{"aci":"aci-1"}`),
	})
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	transport.EXPECT().
		GetManifest(gomock.Any(), uint64(0)).
		Return(models.EncryptedManifest{}, adapter.ErrManifestMissing)
	transport.EXPECT().
		Write(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, op models.WriteOperation) error {
			assert.EqualValues(t, 1, op.Manifest.Version)
			assert.Len(t, op.InsertItems, 1)
			assert.Empty(t, op.DeleteKeys)
			return nil
		})

	result, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)
	assert.EqualValues(t, 1, result.Manifest.Version)
	assert.EqualValues(t, 1, state.manifestVersion)

	// The entity got its slot committed.
	assert.NotEmpty(t, entities.mustGet(models.EntityContact, "aci-1").Sync.StorageID)
}

func TestSyncOrchestrator_FullPullCycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	cipher := crypto.NewRecordCipher()
	contactID := mustStorageID()
	manifest := models.Manifest{
		Version: 2,
		Keys:    []models.ManifestKey{{Type: models.ItemTypeContact, ID: contactID}},
	}

	transport.EXPECT().
		GetManifest(gomock.Any(), uint64(0)).
		Return(sealManifest(t, manifest), nil)
	transport.EXPECT().
		GetRecords(gomock.Any(), []models.StorageID{contactID}).
		Return([]models.StorageItem{
			encryptItem(t, cipher, nil, contactID, []byte(`{"id":"aci-1","attributes":{"aci":"aci-1","name":"Alice"}}`)),
		}, nil)

	result, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)
	require.NotNil(t, result.Manifest)

	// The contact landed with its slot linkage.
	contact := entities.mustGet(models.EntityContact, "aci-1")
	assert.Equal(t, contactID, contact.Sync.StorageID)
	assert.EqualValues(t, 2, contact.Sync.StorageVersion)
	assert.EqualValues(t, 2, state.manifestVersion)

	// The canonical entities were recreated and count as conflicts that
	// force a re-upload.
	assert.Equal(t, 2, result.ConflictCount)
	myStory := entities.mustGet(models.EntityDistributionList, models.MyStoryID)
	assert.True(t, myStory.Sync.NeedsSync)
	allChats := entities.mustGet(models.EntityChatFolder, models.AllChatsFolderID)
	assert.True(t, allChats.Sync.NeedsSync)
}

func TestSyncOrchestrator_OrphanedSlotCleared(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	orphanID := mustStorageID()
	keptID := mustStorageID()
	entities := newFakeEntityRepo(
		models.Entity{Kind: models.EntityContact, ID: "aci-1", Attributes: json.RawMessage(`{"aci":"aci-1"}`), Sync: models.SyncFields{StorageID: orphanID, StorageVersion: 1}},
		models.Entity{Kind: models.EntityContact, ID: "aci-2", Attributes: json.RawMessage(`{"aci":"aci-2"}`), Sync: models.SyncFields{StorageID: keptID, StorageVersion: 1}},
		models.Entity{Kind: models.EntityDistributionList, ID: models.MyStoryID, Sync: models.SyncFields{StorageID: mustStorageID(), StorageVersion: 1}},
		models.Entity{Kind: models.EntityChatFolder, ID: models.AllChatsFolderID, Sync: models.SyncFields{StorageID: mustStorageID(), StorageVersion: 1}},
	)
	state := newFakeStateRepo(testStorageKey)
	state.manifestVersion = 1
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	// The new manifest only keeps aci-2's slot (and the canonical
	// entities' slots are gone too, but those entities stay local).
	manifest := models.Manifest{
		Version: 2,
		Keys:    []models.ManifestKey{{Type: models.ItemTypeContact, ID: keptID}},
	}

	transport.EXPECT().GetManifest(gomock.Any(), uint64(1)).Return(sealManifest(t, manifest), nil)

	result, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)

	assert.Empty(t, entities.mustGet(models.EntityContact, "aci-1").Sync.StorageID)
	assert.Equal(t, keptID, entities.mustGet(models.EntityContact, "aci-2").Sync.StorageID)
	// aci-1 plus the two canonical entities lost their slots.
	assert.Equal(t, 3, result.ConflictCount)
}

func TestSyncOrchestrator_StaleKeyStopsSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	keyStale := false
	orchestrator.OnKeyStale(func() { keyStale = true })

	transport.EXPECT().
		GetManifest(gomock.Any(), uint64(0)).
		Return(models.EncryptedManifest{Version: 2, Data: []byte("sealed with someone else's key")}, nil)

	_, err := orchestrator.Sync(testContext(), "test")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.True(t, keyStale)

	// The stale key is wiped so the next sync demands re-provisioning.
	key, getErr := state.StorageKey(testContext())
	require.NoError(t, getErr)
	assert.Empty(t, key)
}

func TestSyncOrchestrator_StaleKeyRequestsAreBackedOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	var sleeps []time.Duration
	orchestrator.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	requests := 0
	orchestrator.OnKeyStale(func() { requests++ })

	transport.EXPECT().
		GetManifest(gomock.Any(), gomock.Any()).
		Return(models.EncryptedManifest{Version: 2, Data: []byte("sealed with someone else's key")}, nil).
		Times(6)

	// Each attempt simulates the account layer re-provisioning a key that
	// turns out to be just as wrong.
	for attempt := 0; attempt < 6; attempt++ {
		state.storageKey = testStorageKey
		_, err := orchestrator.Sync(testContext(), "test")
		require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	}

	// Five spaced re-provisioning requests, then the engine stops asking
	// instead of looping tightly on a key that never works.
	assert.Equal(t, 5, requests)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute}, sleeps)
}

func TestSyncOrchestrator_SuccessfulSyncResetsStaleKeyBackOff(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	var sleeps []time.Duration
	orchestrator.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	orchestrator.OnKeyStale(func() {})

	transport.EXPECT().
		GetManifest(gomock.Any(), gomock.Any()).
		Return(models.EncryptedManifest{Version: 2, Data: []byte("sealed with someone else's key")}, nil)
	_, err := orchestrator.Sync(testContext(), "first stale")
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	state.storageKey = testStorageKey
	transport.EXPECT().
		GetManifest(gomock.Any(), gomock.Any()).
		Return(sealManifest(t, models.Manifest{Version: 2}), nil)
	_, err = orchestrator.Sync(testContext(), "healthy")
	require.NoError(t, err)

	transport.EXPECT().
		GetManifest(gomock.Any(), gomock.Any()).
		Return(models.EncryptedManifest{Version: 3, Data: []byte("stale again")}, nil)
	_, err = orchestrator.Sync(testContext(), "second stale")
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	// The healthy cycle rewound the schedule, so the second failure waits
	// the initial step again instead of the next one.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
}

func TestSyncOrchestrator_MissingRecordsBecomePendingDeletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	goneID := mustStorageID()
	manifest := models.Manifest{
		Version: 2,
		Keys:    []models.ManifestKey{{Type: models.ItemTypeContact, ID: goneID}},
	}

	transport.EXPECT().GetManifest(gomock.Any(), uint64(0)).Return(sealManifest(t, manifest), nil)
	transport.EXPECT().
		GetRecords(gomock.Any(), []models.StorageID{goneID}).
		Return(nil, nil)

	_, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)

	assert.Equal(t, []models.ExtendedStorageID{{ID: goneID, Version: 2}}, state.pendingDeletes)
}

func TestSyncOrchestrator_ConfirmedDeletesLeavePendingList(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	state.manifestVersion = 1
	goneID, stillListedID := mustStorageID(), mustStorageID()
	state.pendingDeletes = []models.ExtendedStorageID{
		{ID: goneID, Version: 1},
		{ID: stillListedID, Version: 1},
	}
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	cipher := crypto.NewRecordCipher()
	manifest := models.Manifest{
		Version: 2,
		Keys:    []models.ManifestKey{{Type: models.ItemTypeContact, ID: stillListedID}},
	}

	transport.EXPECT().GetManifest(gomock.Any(), uint64(1)).Return(sealManifest(t, manifest), nil)
	transport.EXPECT().
		GetRecords(gomock.Any(), []models.StorageID{stillListedID}).
		Return([]models.StorageItem{
			encryptItem(t, cipher, nil, stillListedID, []byte(`{"id":"aci-9","attributes":{"aci":"aci-9"}}`)),
		}, nil)

	_, err := orchestrator.Sync(testContext(), "test")
	require.NoError(t, err)

	// The slot missing from the manifest was deleted by another device;
	// only the still-listed one remains queued.
	assert.Equal(t, []models.ExtendedStorageID{{ID: stillListedID, Version: 1}}, state.pendingDeletes)
}

func TestSyncOrchestrator_UnknownRecordsPersistedNotRefetched(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	entities := newFakeEntityRepo()
	state := newFakeStateRepo(testStorageKey)
	orchestrator, transport := newTestOrchestrator(ctrl, entities, state)

	cipher := crypto.NewRecordCipher()
	mysteryID := mustStorageID()
	manifest := models.Manifest{
		Version: 2,
		Keys:    []models.ManifestKey{{Type: models.ItemType(42), ID: mysteryID}},
	}

	transport.EXPECT().GetManifest(gomock.Any(), uint64(0)).Return(sealManifest(t, manifest), nil)
	transport.EXPECT().
		GetRecords(gomock.Any(), []models.StorageID{mysteryID}).
		Return([]models.StorageItem{
			encryptItem(t, cipher, nil, mysteryID, []byte(`{"id":"mystery"}`)),
		}, nil)

	_, err := orchestrator.Sync(testContext(), "first")
	require.NoError(t, err)
	assert.Equal(t, []models.UnknownRecord{{Type: models.ItemType(42), ID: mysteryID, Version: 2}}, state.unknownRecords)

	// Second sync: the slot is already parked as unknown, so it is not
	// requested again.
	state.manifestVersion = 0
	transport.EXPECT().GetManifest(gomock.Any(), uint64(0)).Return(sealManifest(t, manifest), nil)

	_, err = orchestrator.Sync(testContext(), "second")
	require.NoError(t, err)
	assert.Len(t, state.unknownRecords, 1)
}
