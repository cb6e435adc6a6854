// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/models"
)

// RecordFetcher retrieves and decrypts remote-only record slots in
// bounded-concurrency batches.
type RecordFetcher struct {
	transport   adapter.Transport
	cipher      crypto.RecordCipher
	maxReadKeys int
	concurrency int
	logger      *logger.Logger
}

func NewRecordFetcher(transport adapter.Transport, cipher crypto.RecordCipher, maxReadKeys, concurrency int, log *logger.Logger) *RecordFetcher {
	return &RecordFetcher{
		transport:   transport,
		cipher:      cipher,
		maxReadKeys: maxReadKeys,
		concurrency: concurrency,
		logger:      log,
	}
}

// Fetch retrieves every requested slot, decrypts the payloads, and
// reports requested keys absent from the response as missing (the store
// no longer has them; the caller folds those into pending deletes).
// A decryption failure is fatal to the whole fetch: it means the storage
// key is stale.
func (f *RecordFetcher) Fetch(ctx context.Context, storageKey, recordIKM []byte, wanted []models.RemoteRecord) (models.FetchResult, error) {
	log := logger.FromContext(ctx)

	if len(wanted) == 0 {
		return models.FetchResult{}, nil
	}

	typeByID := make(map[models.StorageID]models.ItemType, len(wanted))
	keys := make([]models.StorageID, 0, len(wanted))
	for _, record := range wanted {
		typeByID[record.ID] = record.Type
		keys = append(keys, record.ID)
	}

	var mu sync.Mutex
	items := make([]models.MergeableItem, 0, len(wanted))
	returned := make(map[models.StorageID]struct{}, len(wanted))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.concurrency)

	for _, chunk := range chunkKeys(keys, f.maxReadKeys) {
		chunk := chunk
		group.Go(func() error {
			fetched, err := f.transport.GetRecords(groupCtx, chunk)
			if errors.Is(err, adapter.ErrRecordNotFound) {
				// The store has none of this batch anymore; the keys fall
				// out below as missing.
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch %d records: %w", len(chunk), err)
			}

			decrypted := make([]models.MergeableItem, 0, len(fetched))
			for _, item := range fetched {
				itemKey, err := f.cipher.DeriveItemKey(storageKey, recordIKM, item.ID)
				if err != nil {
					return fmt.Errorf("derive item key for %s: %w", item.ID.Redacted(), err)
				}
				plaintext, err := f.cipher.Decrypt(item.Value, itemKey)
				if err != nil {
					return fmt.Errorf("decrypt record %s: %w", item.ID.Redacted(), err)
				}
				decrypted = append(decrypted, models.MergeableItem{
					Type:   typeByID[item.ID],
					ID:     item.ID,
					Record: plaintext,
				})
			}

			mu.Lock()
			defer mu.Unlock()
			items = append(items, decrypted...)
			for _, item := range fetched {
				returned[item.ID] = struct{}{}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return models.FetchResult{}, err
	}

	var missing []models.StorageID
	for _, id := range keys {
		if _, ok := returned[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		log.Warn().Int("count", len(missing)).Msg("remote store no longer has some requested records")
	}

	return models.FetchResult{Items: items, MissingKeys: missing}, nil
}

func chunkKeys(keys []models.StorageID, size int) [][]models.StorageID {
	if size <= 0 {
		size = len(keys)
	}
	var chunks [][]models.StorageID
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
