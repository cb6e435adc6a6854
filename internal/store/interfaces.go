package store

import (
	"context"

	"github.com/MKhiriev/go-record-sync/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/store_mock.go -package=mock

// EntityRepository is the device-local store for synced entities. The
// engine only ever touches entities through this interface; concurrent
// merges must funnel every mutation through Update/Save so that two
// records referencing the same entity cannot race on shared state.
type EntityRepository interface {
	// ListAll returns every entity of one kind, including soft-deleted
	// ones (the manifest builder needs those for drop rules).
	ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error)

	// Get returns a single entity. Returns ErrEntityNotFound if absent.
	Get(ctx context.Context, kind models.EntityKind, id string) (models.Entity, error)

	// Save upserts entities by (kind, id).
	Save(ctx context.Context, entities ...models.Entity) error

	// Update overwrites an existing entity. Returns ErrEntityNotFound if
	// no row matched.
	Update(ctx context.Context, entity models.Entity) error

	// Delete removes an entity row entirely.
	Delete(ctx context.Context, kind models.EntityKind, id string) error
}

// StateRepository persists the engine's non-entity state: the last-known
// manifest version, the per-manifest record IKM, the account storage key,
// and the pending-delete / unknown-record / error-record side tables.
// All values are non-authoritative bookkeeping; the remote manifest is
// the source of truth.
type StateRepository interface {
	ManifestVersion(ctx context.Context) (uint64, error)
	SetManifestVersion(ctx context.Context, version uint64) error

	RecordIKM(ctx context.Context) ([]byte, error)
	SetRecordIKM(ctx context.Context, ikm []byte) error

	StorageKey(ctx context.Context) ([]byte, error)
	SetStorageKey(ctx context.Context, key []byte) error
	ClearStorageKey(ctx context.Context) error

	PendingDeletes(ctx context.Context) ([]models.ExtendedStorageID, error)
	SetPendingDeletes(ctx context.Context, deletes []models.ExtendedStorageID) error

	UnknownRecords(ctx context.Context) ([]models.UnknownRecord, error)
	SetUnknownRecords(ctx context.Context, records []models.UnknownRecord) error

	ErrorRecords(ctx context.Context) ([]models.UnknownRecord, error)
	SetErrorRecords(ctx context.Context, records []models.UnknownRecord) error

	// EraseAll wipes all persisted sync state. With keepUnknownRecords
	// set, the unknown-record list survives so that data understood by
	// newer clients is not lost across a reset.
	EraseAll(ctx context.Context, keepUnknownRecords bool) error
}
