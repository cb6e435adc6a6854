// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MKhiriev/go-record-sync/models"
)

// recordEnvelope is the plaintext payload layout shared by every codec:
// the entity's local id plus its opaque attribute document.
type recordEnvelope struct {
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

func decodeEnvelope(record []byte) (recordEnvelope, error) {
	var envelope recordEnvelope
	if err := json.Unmarshal(record, &envelope); err != nil {
		return recordEnvelope{}, fmt.Errorf("%w: %w", ErrDecodingRecord, err)
	}
	if envelope.ID == "" {
		return recordEnvelope{}, fmt.Errorf("%w: empty entity id", ErrDecodingRecord)
	}
	return envelope, nil
}

// baseCodec handles every kind whose merge is a plain remote-wins
// overwrite. Type-specific codecs embed it and extend Merge.
type baseCodec struct {
	kind     models.EntityKind
	itemType models.ItemType
}

func newBaseCodec(kind models.EntityKind, itemType models.ItemType) *baseCodec {
	return &baseCodec{kind: kind, itemType: itemType}
}

func (c *baseCodec) Kind() models.EntityKind { return c.kind }

func (c *baseCodec) EntityID(record []byte) (string, error) {
	envelope, err := decodeEnvelope(record)
	if err != nil {
		return "", err
	}
	return envelope.ID, nil
}

func (c *baseCodec) Encode(entity models.Entity) ([]byte, error) {
	if entity.Kind != c.kind {
		return nil, fmt.Errorf("%w: got %s, codec is %s", ErrKindMismatch, entity.Kind, c.kind)
	}

	payload, err := json.Marshal(recordEnvelope{
		ID:         entity.ID,
		Attributes: entity.Attributes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingRecord, err)
	}
	return payload, nil
}

func (c *baseCodec) Merge(version uint64, item models.MergeableItem, local *models.Entity) (models.MergeResult, error) {
	envelope, err := decodeEnvelope(item.Record)
	if err != nil {
		return models.MergeResult{}, err
	}

	updated := models.Entity{
		Kind:       c.kind,
		ID:         envelope.ID,
		Attributes: envelope.Attributes,
		Sync: models.SyncFields{
			StorageID:      item.ID,
			StorageVersion: version,
		},
		UpdatedAt: time.Now().UTC(),
	}

	result := models.MergeResult{
		UpdatedEntities: []models.Entity{updated},
	}

	switch {
	case local == nil:
		result.Details = append(result.Details, "created "+string(c.kind))
	case local.Sync.NeedsSync:
		// Local has unsynced edits; remote wins here, local state is
		// re-pushed through the next manifest build.
		result.HasConflict = true
		result.Details = append(result.Details, "overwrote dirty local copy")
	case !bytes.Equal(local.Attributes, envelope.Attributes):
		result.Details = append(result.Details, "updated attributes")
	}

	return result, nil
}
