// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/models"
)

// Keys of the "sync_state" key/value table.
const (
	stateKeyManifestVersion = "manifest_version"
	stateKeyRecordIKM       = "manifest_record_ikm"
	stateKeyStorageKey      = "storage_key"
	stateKeyPendingDeletes  = "pending_deletes"
	stateKeyUnknownRecords  = "unknown_records"
	stateKeyErrorRecords    = "error_records"
)

// stateRepository is the sqlite-backed implementation of
// [StateRepository]: a flat key/value table holding scalars and
// JSON-encoded side tables.
type stateRepository struct {
	*DB
	logger *logger.Logger
}

// NewStateRepository constructs a [StateRepository] backed by the provided
// database connection and logger.
func NewStateRepository(db *DB, logger *logger.Logger) StateRepository {
	return &stateRepository{
		DB:     db,
		logger: logger,
	}
}

func (r *stateRepository) ManifestVersion(ctx context.Context) (uint64, error) {
	value, err := r.get(ctx, stateKeyManifestVersion)
	if errors.Is(err, ErrStateKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	version, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse manifest version: %w", err)
	}
	return version, nil
}

func (r *stateRepository) SetManifestVersion(ctx context.Context, version uint64) error {
	return r.put(ctx, stateKeyManifestVersion, strconv.FormatUint(version, 10))
}

func (r *stateRepository) RecordIKM(ctx context.Context) ([]byte, error) {
	return r.getBytes(ctx, stateKeyRecordIKM)
}

func (r *stateRepository) SetRecordIKM(ctx context.Context, ikm []byte) error {
	if len(ikm) == 0 {
		return r.delete(ctx, stateKeyRecordIKM)
	}
	return r.put(ctx, stateKeyRecordIKM, base64.StdEncoding.EncodeToString(ikm))
}

func (r *stateRepository) StorageKey(ctx context.Context) ([]byte, error) {
	return r.getBytes(ctx, stateKeyStorageKey)
}

func (r *stateRepository) SetStorageKey(ctx context.Context, key []byte) error {
	return r.put(ctx, stateKeyStorageKey, base64.StdEncoding.EncodeToString(key))
}

func (r *stateRepository) ClearStorageKey(ctx context.Context) error {
	return r.delete(ctx, stateKeyStorageKey)
}

func (r *stateRepository) PendingDeletes(ctx context.Context) ([]models.ExtendedStorageID, error) {
	var deletes []models.ExtendedStorageID
	if err := r.getJSON(ctx, stateKeyPendingDeletes, &deletes); err != nil {
		return nil, err
	}
	return deletes, nil
}

func (r *stateRepository) SetPendingDeletes(ctx context.Context, deletes []models.ExtendedStorageID) error {
	return r.putJSON(ctx, stateKeyPendingDeletes, deletes)
}

func (r *stateRepository) UnknownRecords(ctx context.Context) ([]models.UnknownRecord, error) {
	var records []models.UnknownRecord
	if err := r.getJSON(ctx, stateKeyUnknownRecords, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *stateRepository) SetUnknownRecords(ctx context.Context, records []models.UnknownRecord) error {
	return r.putJSON(ctx, stateKeyUnknownRecords, records)
}

func (r *stateRepository) ErrorRecords(ctx context.Context) ([]models.UnknownRecord, error) {
	var records []models.UnknownRecord
	if err := r.getJSON(ctx, stateKeyErrorRecords, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *stateRepository) SetErrorRecords(ctx context.Context, records []models.UnknownRecord) error {
	return r.putJSON(ctx, stateKeyErrorRecords, records)
}

func (r *stateRepository) EraseAll(ctx context.Context, keepUnknownRecords bool) error {
	keys := []string{
		stateKeyManifestVersion,
		stateKeyRecordIKM,
		stateKeyPendingDeletes,
		stateKeyErrorRecords,
	}
	if !keepUnknownRecords {
		keys = append(keys, stateKeyUnknownRecords)
	}

	for _, key := range keys {
		if err := r.delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ── low-level key/value helpers ─────────────────────────────────────────

func (r *stateRepository) get(ctx context.Context, key string) (string, error) {
	query, args, err := sq.Select("value").
		From("sync_state").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build state get query: %w", err)
	}

	var value string
	err = r.DB.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrStateKeyNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return value, nil
}

func (r *stateRepository) put(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("sync_state").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build state put query: %w", err)
	}

	if _, err = r.DB.ExecContext(ctx, query, args...); err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "stateRepository.put").
			Str("key", key).
			Msg("failed to persist state value")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return nil
}

func (r *stateRepository) delete(ctx context.Context, key string) error {
	query, args, err := sq.Delete("sync_state").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build state delete query: %w", err)
	}

	if _, err = r.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return nil
}

func (r *stateRepository) getBytes(ctx context.Context, key string) ([]byte, error) {
	value, err := r.get(ctx, key)
	if errors.Is(err, ErrStateKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingStateBlob, err)
	}
	return raw, nil
}

func (r *stateRepository) getJSON(ctx context.Context, key string, target any) error {
	value, err := r.get(ctx, key)
	if errors.Is(err, ErrStateKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err = json.Unmarshal([]byte(value), target); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingStateBlob, err)
	}
	return nil
}

func (r *stateRepository) putJSON(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingStateBlob, err)
	}
	return r.put(ctx, key, string(encoded))
}
