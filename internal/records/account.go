// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package records

import (
	"fmt"

	"github.com/MKhiriev/go-record-sync/models"
)

// AccountEntityID is the fixed local id of the single account entity.
const AccountEntityID = "self"

type accountCodec struct {
	*baseCodec
}

func newAccountCodec() *accountCodec {
	return &accountCodec{baseCodec: newBaseCodec(models.EntityAccount, models.ItemTypeAccount)}
}

// EntityID always resolves to the singleton account entity regardless of
// what id the remote record claims.
func (c *accountCodec) EntityID(record []byte) (string, error) {
	if _, err := decodeEnvelope(record); err != nil {
		return "", err
	}
	return AccountEntityID, nil
}

func (c *accountCodec) Encode(entity models.Entity) ([]byte, error) {
	if entity.ID != AccountEntityID {
		return nil, fmt.Errorf("%w: account entity must have id %q", ErrKindMismatch, AccountEntityID)
	}
	return c.baseCodec.Encode(entity)
}

func (c *accountCodec) Merge(version uint64, item models.MergeableItem, local *models.Entity) (models.MergeResult, error) {
	result, err := c.baseCodec.Merge(version, item, local)
	if err != nil {
		return models.MergeResult{}, err
	}
	result.UpdatedEntities[0].ID = AccountEntityID
	return result, nil
}
