package models

import (
	"encoding/json"
	"time"
)

// EntityKind names one locally stored entity collection that participates
// in sync.
type EntityKind string

const (
	EntityContact             EntityKind = "contact"
	EntityGroup               EntityKind = "group"
	EntityAccount             EntityKind = "account"
	EntityDistributionList    EntityKind = "distribution_list"
	EntityStickerPack         EntityKind = "sticker_pack"
	EntityCallLink            EntityKind = "call_link"
	EntityChatFolder          EntityKind = "chat_folder"
	EntityNotificationProfile EntityKind = "notification_profile"
)

// AllEntityKinds lists every synced collection in manifest-build order.
var AllEntityKinds = []EntityKind{
	EntityAccount,
	EntityContact,
	EntityGroup,
	EntityDistributionList,
	EntityStickerPack,
	EntityCallLink,
	EntityChatFolder,
	EntityNotificationProfile,
}

// MyStoryID is the canonical id of the "my story" distribution list that
// must always exist locally.
const MyStoryID = "00000000-0000-0000-0000-000000000000"

// AllChatsFolderID is the canonical id of the "all chats" folder that
// must always exist locally.
const AllChatsFolderID = "all-chats"

// SyncFields is the storage linkage carried by every synced entity.
// NeedsSync forces allocation of a fresh StorageID on the next manifest
// build even if nothing else changed.
type SyncFields struct {
	StorageID      StorageID `json:"storage_id,omitempty"`
	StorageVersion uint64    `json:"storage_version,omitempty"`
	NeedsSync      bool      `json:"storage_needs_sync,omitempty"`
}

// Entity is one locally persisted record of any synced kind. The engine
// treats Attributes as opaque; only the per-type codecs interpret it.
type Entity struct {
	Kind       EntityKind      `json:"kind"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	Sync       SyncFields      `json:"sync"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ClearSync drops the storage linkage so the entity is treated as
// never-uploaded on the next manifest build.
func (e *Entity) ClearSync() {
	e.Sync = SyncFields{}
}
