package models

// MergeableItem is one decrypted remote record, ready for per-type merge.
type MergeableItem struct {
	Type   ItemType
	ID     StorageID
	Record []byte
}

// RemoteRecord identifies a record that exists remotely but not locally.
type RemoteRecord struct {
	ID   StorageID
	Type ItemType
}

// FetchResult is the outcome of fetching a set of remote-only keys:
// every record the store returned, decrypted, plus the keys the store no
// longer has.
type FetchResult struct {
	Items       []MergeableItem
	MissingKeys []StorageID
}

// MergeResult is what a codec reports after applying one record to local
// state.
type MergeResult struct {
	// HasConflict is set when the local copy diverged from the record and
	// local changes must be re-pushed.
	HasConflict bool

	// ShouldDrop requests deletion of the record's slot (e.g. a GV1 record
	// shadowed by its GV2 successor).
	ShouldDrop bool

	// UpdatedEntities are the local entities the merge changed; the caller
	// persists them through the entity store's update path.
	UpdatedEntities []Entity

	// NeedsProfileFetch lists entity ids whose profile data should be
	// refetched after the batch completes.
	NeedsProfileFetch []string

	// Details carries short log fragments describing what changed.
	Details []string
}

// MergedRecord is the merger's bookkeeping for one processed record.
type MergedRecord struct {
	Type          ItemType
	ID            StorageID
	HasConflict   bool
	ShouldDrop    bool
	HasError      bool
	IsUnsupported bool
}
