package store

import "github.com/MKhiriev/go-record-sync/internal/logger"

// Storages bundles every repository the sync engine needs.
type Storages struct {
	EntityRepository EntityRepository
	StateRepository  StateRepository
}

func NewStorages(db *DB, log *logger.Logger) *Storages {
	return &Storages{
		EntityRepository: NewEntityRepository(db, log),
		StateRepository:  NewStateRepository(db, log),
	}
}
