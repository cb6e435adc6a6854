// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package records maps manifest item types to per-entity-kind codecs.
// Every record payload is a JSON envelope {id, attributes}; the engine
// treats attributes as opaque and only the codecs interpret them.
package records

import (
	"fmt"

	"github.com/MKhiriev/go-record-sync/models"
)

// Codec encodes one local entity kind into its record payload and merges
// a fetched payload back onto local state. Codecs are pure: they never
// touch the store, the caller looks up and persists entities.
type Codec interface {
	Kind() models.EntityKind

	// EntityID extracts the local entity id a record refers to.
	EntityID(record []byte) (string, error)

	// Encode produces the plaintext record payload for an entity.
	Encode(entity models.Entity) ([]byte, error)

	// Merge applies a decrypted record onto the local entity (nil if none
	// exists yet). version is the manifest version the record came from.
	Merge(version uint64, item models.MergeableItem, local *models.Entity) (models.MergeResult, error)
}

// Registry is the item-type dispatch table, populated once at startup.
// Unknown item types are reported via the ok-bool, never a panic.
type Registry struct {
	codecs map[models.ItemType]Codec
}

func NewRegistry() *Registry {
	registry := &Registry{codecs: make(map[models.ItemType]Codec)}

	registry.register(models.ItemTypeContact, newContactCodec())
	registry.register(models.ItemTypeGroupV1, newGroupV1Codec())
	registry.register(models.ItemTypeGroupV2, newGroupV2Codec())
	registry.register(models.ItemTypeAccount, newAccountCodec())
	registry.register(models.ItemTypeDistributionList, newBaseCodec(models.EntityDistributionList, models.ItemTypeDistributionList))
	registry.register(models.ItemTypeStickerPack, newBaseCodec(models.EntityStickerPack, models.ItemTypeStickerPack))
	registry.register(models.ItemTypeCallLink, newBaseCodec(models.EntityCallLink, models.ItemTypeCallLink))
	registry.register(models.ItemTypeChatFolder, newBaseCodec(models.EntityChatFolder, models.ItemTypeChatFolder))
	registry.register(models.ItemTypeNotificationProfile, newBaseCodec(models.EntityNotificationProfile, models.ItemTypeNotificationProfile))

	return registry
}

func (r *Registry) register(itemType models.ItemType, codec Codec) {
	r.codecs[itemType] = codec
}

// Lookup returns the codec for an item type. A false return means the
// type is not understood by this client and the record must be preserved
// on the unknown-record path.
func (r *Registry) Lookup(itemType models.ItemType) (Codec, bool) {
	codec, ok := r.codecs[itemType]
	return codec, ok
}

// TypeForEntity resolves the item type an entity is uploaded under.
// Groups split into v1/v2 depending on whether a master key is present.
func (r *Registry) TypeForEntity(entity models.Entity) (models.ItemType, error) {
	switch entity.Kind {
	case models.EntityContact:
		return models.ItemTypeContact, nil
	case models.EntityGroup:
		attrs, err := decodeGroupAttributes(entity.Attributes)
		if err != nil {
			return models.ItemTypeUnknown, err
		}
		if len(attrs.MasterKey) > 0 {
			return models.ItemTypeGroupV2, nil
		}
		return models.ItemTypeGroupV1, nil
	case models.EntityAccount:
		return models.ItemTypeAccount, nil
	case models.EntityDistributionList:
		return models.ItemTypeDistributionList, nil
	case models.EntityStickerPack:
		return models.ItemTypeStickerPack, nil
	case models.EntityChatFolder:
		return models.ItemTypeChatFolder, nil
	case models.EntityCallLink:
		return models.ItemTypeCallLink, nil
	case models.EntityNotificationProfile:
		return models.ItemTypeNotificationProfile, nil
	default:
		return models.ItemTypeUnknown, fmt.Errorf("%w: %s", ErrKindMismatch, entity.Kind)
	}
}
