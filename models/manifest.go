package models

// ManifestKey is one (type, id) identifier inside a manifest.
type ManifestKey struct {
	Type ItemType  `json:"type"`
	ID   StorageID `json:"id"`
}

// Manifest is the complete description of the remote record set at one
// version: a monotonically increasing version number, the ordered
// identifier list, and an optional per-manifest key-derivation input.
type Manifest struct {
	Version      uint64        `json:"version"`
	SourceDevice uint32        `json:"source_device,omitempty"`
	Keys         []ManifestKey `json:"keys"`
	RecordIKM    []byte        `json:"record_ikm,omitempty"`
}

// KeySet returns the manifest identifiers as a lookup map.
func (m *Manifest) KeySet() map[StorageID]ItemType {
	set := make(map[StorageID]ItemType, len(m.Keys))
	for _, key := range m.Keys {
		set[key.ID] = key.Type
	}
	return set
}

// EncryptedManifest is a manifest as stored remotely: the version in the
// clear, the record ciphered with the version-derived manifest key.
type EncryptedManifest struct {
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}

// StorageItem is one encrypted record slot as held by the remote store.
type StorageItem struct {
	ID    StorageID `json:"id"`
	Value []byte    `json:"value"`
}

// WriteOperation is one atomic remote write: a new encrypted manifest,
// the records inserted at this version, and the identifiers removed. The
// remote store applies it only when its current version equals
// Manifest.Version-1.
type WriteOperation struct {
	Manifest    EncryptedManifest `json:"manifest"`
	InsertItems []StorageItem     `json:"insert_items,omitempty"`
	DeleteKeys  []StorageID       `json:"delete_keys,omitempty"`
}
