// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package adapter provides transport-layer abstractions for communicating
// with the remote record store.
//
// The primary abstraction is [Transport], which decouples the sync engine
// from the underlying protocol. The package ships an HTTP/REST
// implementation ([NewHTTPTransport]) built on resty.
//
// Error values defined in errors.go are mapped from HTTP status codes by
// mapHTTPError so that callers can use [errors.Is] for transport-agnostic
// error handling (e.g. [ErrVersionConflict] for 409, [ErrManifestMissing]
// for 404).
package adapter

import (
	"context"

	"github.com/MKhiriev/go-record-sync/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/transport_mock.go -package=mock

// Transport defines transport-agnostic communication with the remote
// record store. Implementations are responsible for serialisation,
// credential management, and mapping transport-level errors to the
// sentinel values defined in this package.
type Transport interface {
	// SetToken stores the bearer token that will be attached to all
	// subsequent requests. It should be called with a fresh storage
	// credential whenever the account layer rotates it.
	SetToken(token string)

	// Token returns the bearer token currently stored in the adapter, or
	// an empty string if no token has been set yet.
	Token() string

	// GetManifest fetches the newest encrypted manifest with a version
	// strictly greater than greaterThanVersion. Returns
	// [ErrNoNewerManifest] when the remote version is not newer, and
	// [ErrManifestMissing] when no manifest exists at all.
	GetManifest(ctx context.Context, greaterThanVersion uint64) (models.EncryptedManifest, error)

	// GetRecords retrieves the encrypted records stored under keys. Keys
	// absent from the response are simply not returned; the caller is
	// responsible for noticing them. Returns [ErrRecordNotFound] (wrapped)
	// when the store has none of the requested keys at all.
	GetRecords(ctx context.Context, keys []models.StorageID) ([]models.StorageItem, error)

	// Write submits one atomic write operation with the precondition that
	// the remote version equals op.Manifest.Version-1. Returns
	// [ErrVersionConflict] (wrapped) when the precondition fails.
	Write(ctx context.Context, op models.WriteOperation) error
}
