package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// StorageIDLength is the raw byte length of every storage identifier.
const StorageIDLength = 16

// StorageID names one slot in the remote record store. It holds the
// standard-base64 form of 16 random bytes and is safe to use as a map key.
// An ID is never reused across mutations of the same entity: every update
// allocates a fresh ID and schedules the old one for deletion.
type StorageID string

// NewStorageID reads 16 random bytes from the OS CSPRNG and returns them
// base64-encoded. Returns an error if the random read fails.
func NewStorageID() (StorageID, error) {
	raw := make([]byte, StorageIDLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate storage id: %w", err)
	}
	return StorageID(base64.StdEncoding.EncodeToString(raw)), nil
}

// StorageIDFromRaw converts the raw wire bytes of an identifier into its
// base64 StorageID form. Returns an error if the length is wrong.
func StorageIDFromRaw(raw []byte) (StorageID, error) {
	if len(raw) != StorageIDLength {
		return "", fmt.Errorf("storage id must be %d bytes, got %d", StorageIDLength, len(raw))
	}
	return StorageID(base64.StdEncoding.EncodeToString(raw)), nil
}

// Raw decodes the identifier back to its 16 wire bytes.
func (id StorageID) Raw() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("decode storage id: %w", err)
	}
	return raw, nil
}

// Redacted returns a log-safe suffix of the identifier. Full IDs never
// appear in logs.
func (id StorageID) Redacted() string {
	if len(id) < 3 {
		return "..."
	}
	return "..." + string(id[len(id)-3:])
}
