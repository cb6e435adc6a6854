// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/models"
)

// entityRepository is the sqlite-backed implementation of
// [EntityRepository]. All CRUD operations run against the "sync_entities"
// table through the embedded [*DB] connection.
type entityRepository struct {
	*DB
	logger *logger.Logger
}

// NewEntityRepository constructs an [EntityRepository] backed by the
// provided database connection and logger.
func NewEntityRepository(db *DB, logger *logger.Logger) EntityRepository {
	return &entityRepository{
		DB:     db,
		logger: logger,
	}
}

var entityColumns = []string{
	"kind", "id", "attributes",
	"storage_id", "storage_version", "needs_sync",
	"deleted_at", "updated_at",
}

func (r *entityRepository) ListAll(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	log := logger.FromContext(ctx)

	query, args, err := sq.Select(entityColumns...).
		From("sync_entities").
		Where(sq.Eq{"kind": string(kind)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "entityRepository.ListAll").
			Str("kind", string(kind)).
			Msg("failed to list entities")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	entities := make([]models.Entity, 0, 64)
	for rows.Next() {
		entity, scanErr := scanEntity(rows)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "entityRepository.ListAll").
				Str("kind", string(kind)).
				Msg("failed to scan entity row")
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		entities = append(entities, entity)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return entities, nil
}

func (r *entityRepository) Get(ctx context.Context, kind models.EntityKind, id string) (models.Entity, error) {
	query, args, err := sq.Select(entityColumns...).
		From("sync_entities").
		Where(sq.Eq{"kind": string(kind), "id": id}).
		ToSql()
	if err != nil {
		return models.Entity{}, fmt.Errorf("build get query: %w", err)
	}

	row := r.DB.QueryRowContext(ctx, query, args...)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, kind, id)
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return entity, nil
}

func (r *entityRepository) Save(ctx context.Context, entities ...models.Entity) error {
	log := logger.FromContext(ctx)

	for _, entity := range entities {
		query, args, err := sq.Insert("sync_entities").
			Columns(entityColumns...).
			Values(
				string(entity.Kind), entity.ID, string(entity.Attributes),
				string(entity.Sync.StorageID), entity.Sync.StorageVersion, entity.Sync.NeedsSync,
				entity.DeletedAt, entity.UpdatedAt,
			).
			Suffix(`ON CONFLICT(kind, id) DO UPDATE SET
				attributes = excluded.attributes,
				storage_id = excluded.storage_id,
				storage_version = excluded.storage_version,
				needs_sync = excluded.needs_sync,
				deleted_at = excluded.deleted_at,
				updated_at = excluded.updated_at`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build save query: %w", err)
		}

		if _, err = r.DB.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "entityRepository.Save").
				Str("kind", string(entity.Kind)).
				Str("id", entity.ID).
				Msg("failed to save entity")
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
	}

	return nil
}

func (r *entityRepository) Update(ctx context.Context, entity models.Entity) error {
	log := logger.FromContext(ctx)

	query, args, err := sq.Update("sync_entities").
		Set("attributes", string(entity.Attributes)).
		Set("storage_id", string(entity.Sync.StorageID)).
		Set("storage_version", entity.Sync.StorageVersion).
		Set("needs_sync", entity.Sync.NeedsSync).
		Set("deleted_at", entity.DeletedAt).
		Set("updated_at", entity.UpdatedAt).
		Where(sq.Eq{"kind": string(entity.Kind), "id": entity.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	result, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "entityRepository.Update").
			Str("kind", string(entity.Kind)).
			Str("id", entity.ID).
			Msg("failed to update entity")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrEntityNotFound, entity.Kind, entity.ID)
	}

	return nil
}

func (r *entityRepository) Delete(ctx context.Context, kind models.EntityKind, id string) error {
	query, args, err := sq.Delete("sync_entities").
		Where(sq.Eq{"kind": string(kind), "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	if _, err = r.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (models.Entity, error) {
	var entity models.Entity
	var kind, attributes, storageID string
	var deletedAt sql.NullTime
	var updatedAt time.Time

	err := row.Scan(
		&kind,
		&entity.ID,
		&attributes,
		&storageID,
		&entity.Sync.StorageVersion,
		&entity.Sync.NeedsSync,
		&deletedAt,
		&updatedAt,
	)
	if err != nil {
		return models.Entity{}, err
	}

	entity.Kind = models.EntityKind(kind)
	entity.Attributes = []byte(attributes)
	entity.Sync.StorageID = models.StorageID(storageID)
	if deletedAt.Valid {
		t := deletedAt.Time
		entity.DeletedAt = &t
	}
	entity.UpdatedAt = updatedAt

	return entity, nil
}
