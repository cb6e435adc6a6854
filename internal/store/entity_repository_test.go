// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/models"
)

const selectEntitySQL = `SELECT kind, id, attributes, storage_id, storage_version, needs_sync, deleted_at, updated_at FROM sync_entities`

func newTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newDBFromSQL(db *sql.DB) *DB {
	return &DB{
		DB:     db,
		logger: logger.Nop(),
	}
}

func newTestEntityRepo(t *testing.T, db *sql.DB) EntityRepository {
	t.Helper()
	return NewEntityRepository(newDBFromSQL(db), logger.Nop())
}

func testContext() context.Context {
	l := zerolog.Nop()
	return l.WithContext(context.Background())
}

var entityTestColumns = []string{
	"kind", "id", "attributes",
	"storage_id", "storage_version", "needs_sync",
	"deleted_at", "updated_at",
}

func TestEntityRepository_ListAll(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(entityTestColumns).
		AddRow("contact", "aci-1", `{"name":"Alice"}`, "c3RvcmFnZWlkMDAwMDAx", int64(41), true, nil, now).
		AddRow("contact", "aci-2", `{"name":"Bob"}`, "c3RvcmFnZWlkMDAwMDAy", int64(40), false, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntitySQL)).
		WithArgs("contact").
		WillReturnRows(rows)

	entities, err := repo.ListAll(testContext(), models.EntityContact)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, models.EntityContact, entities[0].Kind)
	assert.Equal(t, "aci-1", entities[0].ID)
	assert.Equal(t, models.StorageID("c3RvcmFnZWlkMDAwMDAx"), entities[0].Sync.StorageID)
	assert.EqualValues(t, 41, entities[0].Sync.StorageVersion)
	assert.True(t, entities[0].Sync.NeedsSync)
	assert.Nil(t, entities[0].DeletedAt)

	require.NotNil(t, entities[1].DeletedAt)
	assert.Equal(t, now, *entities[1].DeletedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepository_ListAll_QueryError(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntitySQL)).
		WithArgs("group").
		WillReturnError(errors.New("disk I/O error"))

	_, err := repo.ListAll(testContext(), models.EntityGroup)
	assert.ErrorIs(t, err, ErrExecutingQuery)
}

func TestEntityRepository_Get(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(entityTestColumns).
		AddRow("account", "self", `{"e164":"+15550100"}`, "YWNjb3VudHN0b3JhZ2Vp", int64(7), false, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntitySQL)).
		WithArgs("account", "self").
		WillReturnRows(rows)

	entity, err := repo.Get(testContext(), models.EntityAccount, "self")
	require.NoError(t, err)
	assert.Equal(t, models.EntityAccount, entity.Kind)
	assert.JSONEq(t, `{"e164":"+15550100"}`, string(entity.Attributes))
	assert.EqualValues(t, 7, entity.Sync.StorageVersion)
}

func TestEntityRepository_Get_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	mock.ExpectQuery(regexp.QuoteMeta(selectEntitySQL)).
		WithArgs("contact", "missing").
		WillReturnRows(sqlmock.NewRows(entityTestColumns))

	_, err := repo.Get(testContext(), models.EntityContact, "missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestEntityRepository_Save_Upsert(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	entity := models.Entity{
		Kind:       models.EntityContact,
		ID:         "aci-1",
		Attributes: []byte(`{"name":"Alice"}`),
		Sync: models.SyncFields{
			StorageID:      "c3RvcmFnZWlkMDAwMDAx",
			StorageVersion: 41,
			NeedsSync:      true,
		},
		UpdatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sync_entities`)).
		WithArgs(
			"contact", "aci-1", `{"name":"Alice"}`,
			"c3RvcmFnZWlkMDAwMDAx", uint64(41), true,
			nil, now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Save(testContext(), entity)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepository_Update_NotFound(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sync_entities`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(testContext(), models.Entity{
		Kind: models.EntityContact,
		ID:   "missing",
	})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestEntityRepository_Delete(t *testing.T) {
	db, mock := newTestDB(t)
	repo := newTestEntityRepo(t, db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sync_entities`)).
		WithArgs("sticker_pack", "pack-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(testContext(), models.EntityStickerPack, "pack-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
