// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package records

import (
	"encoding/json"
	"fmt"

	"github.com/MKhiriev/go-record-sync/models"
)

// GroupAttributes is the interpreted subset of a group record. A v2
// group carries MasterKey; a legacy v1 group carries only LegacyID.
type GroupAttributes struct {
	MasterKey []byte `json:"masterKey,omitempty"`
	LegacyID  []byte `json:"legacyId,omitempty"`
	Blocked   bool   `json:"blocked,omitempty"`
	Archived  bool   `json:"archived,omitempty"`
}

func decodeGroupAttributes(raw []byte) (GroupAttributes, error) {
	var attrs GroupAttributes
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return GroupAttributes{}, fmt.Errorf("%w: %w", ErrDecodingRecord, err)
	}
	return attrs, nil
}

type groupV1Codec struct {
	*baseCodec
}

func newGroupV1Codec() *groupV1Codec {
	return &groupV1Codec{baseCodec: newBaseCodec(models.EntityGroup, models.ItemTypeGroupV1)}
}

type groupV2Codec struct {
	*baseCodec
}

func newGroupV2Codec() *groupV2Codec {
	return &groupV2Codec{baseCodec: newBaseCodec(models.EntityGroup, models.ItemTypeGroupV2)}
}

// GroupV1ID extracts the legacy group id from a v1 record. The merger
// derives a v2 master key from it to detect v1 records shadowed by
// their migrated successor in the same batch.
func GroupV1ID(record []byte) ([]byte, error) {
	envelope, err := decodeEnvelope(record)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeGroupAttributes(envelope.Attributes)
	if err != nil {
		return nil, err
	}
	if len(attrs.LegacyID) == 0 {
		return nil, fmt.Errorf("%w: group record has no legacy id", ErrDecodingRecord)
	}
	return attrs.LegacyID, nil
}

// GroupV2MasterKey extracts the master key from a v2 record.
func GroupV2MasterKey(record []byte) ([]byte, error) {
	envelope, err := decodeEnvelope(record)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeGroupAttributes(envelope.Attributes)
	if err != nil {
		return nil, err
	}
	if len(attrs.MasterKey) == 0 {
		return nil, fmt.Errorf("%w: group record has no master key", ErrDecodingRecord)
	}
	return attrs.MasterKey, nil
}
