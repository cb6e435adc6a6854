package models

// ExtendedStorageID is a StorageID together with the manifest version at
// which it was last seen. Used by the pending-delete side table.
type ExtendedStorageID struct {
	ID      StorageID `json:"id"`
	Version uint64    `json:"version"`
}

// UnknownRecord is a slot whose payload could not be interpreted, either
// because the item type is not understood yet (unknown-record list) or
// because its merge failed (error-record list). Both lists are
// round-tripped into every generated manifest so other devices do not
// lose the data.
type UnknownRecord struct {
	Type    ItemType  `json:"type"`
	ID      StorageID `json:"id"`
	Version uint64    `json:"version"`
}
