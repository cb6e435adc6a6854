// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package records

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MKhiriev/go-record-sync/models"
)

// ContactAttributes is the interpreted subset of a contact record. Any
// extra fields round-trip untouched inside Entity.Attributes.
type ContactAttributes struct {
	ACI        string `json:"aci,omitempty"`
	PNI        string `json:"pni,omitempty"`
	E164       string `json:"e164,omitempty"`
	ProfileKey []byte `json:"profileKey,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	Blocked    bool   `json:"blocked,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
}

type contactCodec struct {
	*baseCodec
}

func newContactCodec() *contactCodec {
	return &contactCodec{baseCodec: newBaseCodec(models.EntityContact, models.ItemTypeContact)}
}

func (c *contactCodec) Merge(version uint64, item models.MergeableItem, local *models.Entity) (models.MergeResult, error) {
	result, err := c.baseCodec.Merge(version, item, local)
	if err != nil {
		return models.MergeResult{}, err
	}

	attrs, err := decodeContactAttributes(result.UpdatedEntities[0].Attributes)
	if err != nil {
		return models.MergeResult{}, err
	}

	// A new contact, or one whose profile key changed, needs its profile
	// refetched once the batch has settled.
	if len(attrs.ProfileKey) > 0 && (local == nil || profileKeyChanged(local.Attributes, attrs.ProfileKey)) {
		result.NeedsProfileFetch = append(result.NeedsProfileFetch, result.UpdatedEntities[0].ID)
	}

	return result, nil
}

func profileKeyChanged(localAttributes []byte, remoteKey []byte) bool {
	attrs, err := decodeContactAttributes(localAttributes)
	if err != nil {
		return true
	}
	return !bytes.Equal(attrs.ProfileKey, remoteKey)
}

func decodeContactAttributes(raw []byte) (ContactAttributes, error) {
	var attrs ContactAttributes
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return ContactAttributes{}, fmt.Errorf("%w: %w", ErrDecodingRecord, err)
	}
	return attrs, nil
}

// IsSplitPNIContact reports whether a contact record carries a PNI with
// no ACI. Such records may collide with an ACI contact for the same
// person and are merged only after all regular records in a batch.
func IsSplitPNIContact(record []byte) bool {
	envelope, err := decodeEnvelope(record)
	if err != nil {
		return false
	}
	attrs, err := decodeContactAttributes(envelope.Attributes)
	if err != nil {
		return false
	}
	return attrs.PNI != "" && attrs.ACI == ""
}
