// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/records"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/models"
)

// MergeOutcome is the aggregated bookkeeping of one merge batch.
type MergeOutcome struct {
	MergedRecords     []models.MergedRecord
	ConflictCount     int
	DroppedKeys       []models.StorageID
	UnknownRecords    []models.UnknownRecord
	ErrorRecords      []models.UnknownRecord
	NeedsProfileFetch []string
}

// RecordMerger applies decrypted records onto local state through the
// codec registry. Merge failures are captured per record and never abort
// the batch; the failed slot is preserved as an error record instead.
type RecordMerger struct {
	registry    *records.Registry
	entities    store.EntityRepository
	cipher      crypto.RecordCipher
	concurrency int
	logger      *logger.Logger
}

func NewRecordMerger(registry *records.Registry, entities store.EntityRepository, cipher crypto.RecordCipher, concurrency int, log *logger.Logger) *RecordMerger {
	return &RecordMerger{
		registry:    registry,
		entities:    entities,
		cipher:      cipher,
		concurrency: concurrency,
		logger:      log,
	}
}

// MergeAll merges one batch in three phases: regular records first,
// then PNI-only contacts (which may collide with an ACI contact merged in
// phase one), and the account record last since it may reference anything
// merged before it. Group-v1 records shadowed by a group-v2 successor in
// the same batch are dropped before any merging happens.
func (m *RecordMerger) MergeAll(ctx context.Context, version uint64, items []models.MergeableItem) (MergeOutcome, error) {
	outcome := &mergeCollector{}

	remaining := m.dropShadowedGroupV1(ctx, items, outcome)

	var regular, splitPNI, account []models.MergeableItem
	for _, item := range remaining {
		switch {
		case item.Type == models.ItemTypeAccount:
			account = append(account, item)
		case item.Type == models.ItemTypeContact && records.IsSplitPNIContact(item.Record):
			splitPNI = append(splitPNI, item)
		default:
			regular = append(regular, item)
		}
	}

	for _, phase := range [][]models.MergeableItem{regular, splitPNI} {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(m.concurrency)
		for _, item := range phase {
			item := item
			group.Go(func() error {
				m.mergeOne(groupCtx, version, item, outcome)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return MergeOutcome{}, err
		}
	}

	for _, item := range account {
		m.mergeOne(ctx, version, item, outcome)
	}

	return outcome.result(), nil
}

// dropShadowedGroupV1 removes every group-v1 record whose derived master
// key matches a group-v2 record in the same batch. The shadowed slot is
// scheduled for deletion.
func (m *RecordMerger) dropShadowedGroupV1(ctx context.Context, items []models.MergeableItem, outcome *mergeCollector) []models.MergeableItem {
	log := logger.FromContext(ctx)

	var masterKeys [][]byte
	for _, item := range items {
		if item.Type != models.ItemTypeGroupV2 {
			continue
		}
		if masterKey, err := records.GroupV2MasterKey(item.Record); err == nil {
			masterKeys = append(masterKeys, masterKey)
		}
	}
	if len(masterKeys) == 0 {
		return items
	}

	kept := items[:0]
	for _, item := range items {
		if item.Type != models.ItemTypeGroupV1 {
			kept = append(kept, item)
			continue
		}

		legacyID, err := records.GroupV1ID(item.Record)
		if err != nil {
			kept = append(kept, item)
			continue
		}
		derived, err := m.cipher.DeriveGroupMasterKey(legacyID)
		if err != nil {
			kept = append(kept, item)
			continue
		}

		shadowed := false
		for _, masterKey := range masterKeys {
			if bytes.Equal(derived, masterKey) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, item)
			continue
		}

		log.Info().Str("id", item.ID.Redacted()).Msg("dropping group-v1 record shadowed by migrated group")
		outcome.add(models.MergedRecord{Type: item.Type, ID: item.ID, ShouldDrop: true}, models.MergeResult{ShouldDrop: true}, 0)
	}
	return kept
}

func (m *RecordMerger) mergeOne(ctx context.Context, version uint64, item models.MergeableItem, outcome *mergeCollector) {
	log := logger.FromContext(ctx)

	codec, supported := m.registry.Lookup(item.Type)
	if !supported {
		log.Info().
			Str("id", item.ID.Redacted()).
			Int32("type", int32(item.Type)).
			Msg("preserving record of unsupported type")
		outcome.add(models.MergedRecord{Type: item.Type, ID: item.ID, IsUnsupported: true}, models.MergeResult{}, version)
		return
	}

	result, err := m.applyRecord(ctx, version, codec, item)
	if err != nil {
		log.Err(err).
			Str("id", item.ID.Redacted()).
			Str("type", item.Type.String()).
			Msg("record merge failed, preserving as error record")
		outcome.add(models.MergedRecord{Type: item.Type, ID: item.ID, HasError: true}, models.MergeResult{}, version)
		return
	}

	outcome.add(models.MergedRecord{
		Type:        item.Type,
		ID:          item.ID,
		HasConflict: result.HasConflict,
		ShouldDrop:  result.ShouldDrop,
	}, result, version)
}

func (m *RecordMerger) applyRecord(ctx context.Context, version uint64, codec records.Codec, item models.MergeableItem) (models.MergeResult, error) {
	entityID, err := codec.EntityID(item.Record)
	if err != nil {
		return models.MergeResult{}, err
	}

	var local *models.Entity
	existing, err := m.entities.Get(ctx, codec.Kind(), entityID)
	switch {
	case err == nil:
		local = &existing
	case errors.Is(err, store.ErrEntityNotFound):
	default:
		return models.MergeResult{}, fmt.Errorf("load local %s/%s: %w", codec.Kind(), entityID, err)
	}

	result, err := codec.Merge(version, item, local)
	if err != nil {
		return models.MergeResult{}, err
	}

	if len(result.UpdatedEntities) > 0 {
		if err := m.entities.Save(ctx, result.UpdatedEntities...); err != nil {
			return models.MergeResult{}, fmt.Errorf("persist merged entities: %w", err)
		}
	}
	return result, nil
}

// mergeCollector accumulates per-record outcomes from concurrent merges.
type mergeCollector struct {
	mu      sync.Mutex
	outcome MergeOutcome
}

func (c *mergeCollector) add(record models.MergedRecord, result models.MergeResult, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcome.MergedRecords = append(c.outcome.MergedRecords, record)
	switch {
	case record.IsUnsupported:
		c.outcome.UnknownRecords = append(c.outcome.UnknownRecords, models.UnknownRecord{Type: record.Type, ID: record.ID, Version: version})
	case record.HasError:
		c.outcome.ErrorRecords = append(c.outcome.ErrorRecords, models.UnknownRecord{Type: record.Type, ID: record.ID, Version: version})
	}
	if record.ShouldDrop {
		c.outcome.DroppedKeys = append(c.outcome.DroppedKeys, record.ID)
	}
	if record.HasConflict {
		c.outcome.ConflictCount++
	}
	c.outcome.NeedsProfileFetch = append(c.outcome.NeedsProfileFetch, result.NeedsProfileFetch...)
}

func (c *mergeCollector) result() MergeOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}
