// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// In-memory repository fakes. The store package has its own sqlmock
// tests; here the interesting behavior lives above the repositories, so
// plain fakes keep the tests readable (no import cycle with mockgen
// output either).

type fakeEntityRepo struct {
	mu       sync.Mutex
	entities map[string]models.Entity
}

func newFakeEntityRepo(seed ...models.Entity) *fakeEntityRepo {
	repo := &fakeEntityRepo{entities: make(map[string]models.Entity)}
	for _, entity := range seed {
		repo.entities[entityKey(entity.Kind, entity.ID)] = entity
	}
	return repo
}

func entityKey(kind models.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func (r *fakeEntityRepo) ListAll(_ context.Context, kind models.EntityKind) ([]models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entities []models.Entity
	for _, entity := range r.entities {
		if entity.Kind == kind {
			entities = append(entities, entity)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

func (r *fakeEntityRepo) Get(_ context.Context, kind models.EntityKind, id string) (models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[entityKey(kind, id)]
	if !ok {
		return models.Entity{}, fmt.Errorf("%w: %s/%s", store.ErrEntityNotFound, kind, id)
	}
	return entity, nil
}

func (r *fakeEntityRepo) Save(_ context.Context, entities ...models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entity := range entities {
		r.entities[entityKey(entity.Kind, entity.ID)] = entity
	}
	return nil
}

func (r *fakeEntityRepo) Update(_ context.Context, entity models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entityKey(entity.Kind, entity.ID)
	if _, ok := r.entities[key]; !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrEntityNotFound, entity.Kind, entity.ID)
	}
	r.entities[key] = entity
	return nil
}

func (r *fakeEntityRepo) Delete(_ context.Context, kind models.EntityKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entities, entityKey(kind, id))
	return nil
}

func (r *fakeEntityRepo) mustGet(kind models.EntityKind, id string) models.Entity {
	entity, ok := r.entities[entityKey(kind, id)]
	if !ok {
		panic(fmt.Sprintf("entity %s/%s not found", kind, id))
	}
	return entity
}

type fakeStateRepo struct {
	mu              sync.Mutex
	manifestVersion uint64
	recordIKM       []byte
	storageKey      []byte
	pendingDeletes  []models.ExtendedStorageID
	unknownRecords  []models.UnknownRecord
	errorRecords    []models.UnknownRecord

	// onSetManifestVersion lets a test corrupt state mid-job.
	onSetManifestVersion func(version uint64)
}

func newFakeStateRepo(storageKey []byte) *fakeStateRepo {
	return &fakeStateRepo{storageKey: storageKey}
}

func (r *fakeStateRepo) ManifestVersion(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifestVersion, nil
}

func (r *fakeStateRepo) SetManifestVersion(_ context.Context, version uint64) error {
	r.mu.Lock()
	hook := r.onSetManifestVersion
	r.manifestVersion = version
	r.mu.Unlock()
	if hook != nil {
		hook(version)
	}
	return nil
}

func (r *fakeStateRepo) RecordIKM(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordIKM, nil
}

func (r *fakeStateRepo) SetRecordIKM(_ context.Context, ikm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordIKM = ikm
	return nil
}

func (r *fakeStateRepo) StorageKey(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storageKey, nil
}

func (r *fakeStateRepo) SetStorageKey(_ context.Context, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageKey = key
	return nil
}

func (r *fakeStateRepo) ClearStorageKey(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageKey = nil
	return nil
}

func (r *fakeStateRepo) PendingDeletes(context.Context) ([]models.ExtendedStorageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingDeletes, nil
}

func (r *fakeStateRepo) SetPendingDeletes(_ context.Context, deletes []models.ExtendedStorageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingDeletes = deletes
	return nil
}

func (r *fakeStateRepo) UnknownRecords(context.Context) ([]models.UnknownRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unknownRecords, nil
}

func (r *fakeStateRepo) SetUnknownRecords(_ context.Context, records []models.UnknownRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknownRecords = records
	return nil
}

func (r *fakeStateRepo) ErrorRecords(context.Context) ([]models.UnknownRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorRecords, nil
}

func (r *fakeStateRepo) SetErrorRecords(_ context.Context, records []models.UnknownRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorRecords = records
	return nil
}

func (r *fakeStateRepo) EraseAll(_ context.Context, keepUnknownRecords bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifestVersion = 0
	r.recordIKM = nil
	r.pendingDeletes = nil
	r.errorRecords = nil
	if !keepUnknownRecords {
		r.unknownRecords = nil
	}
	return nil
}

func testContext() context.Context {
	l := zerolog.Nop()
	return l.WithContext(context.Background())
}

func mustStorageID() models.StorageID {
	id, err := models.NewStorageID()
	if err != nil {
		panic(err)
	}
	return id
}

var testStorageKey = []byte("0123456789abcdef0123456789abcdef")
