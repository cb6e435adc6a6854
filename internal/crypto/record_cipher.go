// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/MKhiriev/go-record-sync/models"
)

const (
	storageKeyLen = 32

	manifestKeyLabel = "Manifest_"
	itemKeyLabel     = "Item_"

	// Info string fixed by the group migration scheme; changing it would
	// break GV1/GV2 shadow detection across devices.
	groupMigrationInfo = "GV2 Migration"
)

// recordCipher is the private implementation of [RecordCipher]. It holds no
// state: every method is a pure function of its inputs, so a single value
// may be shared by any number of workers.
type recordCipher struct{}

// NewRecordCipher constructs a [RecordCipher].
func NewRecordCipher() RecordCipher {
	return &recordCipher{}
}

// GenerateStorageKey implements [RecordCipher]. It reads 32 random bytes
// from the OS CSPRNG. Returns an error if the random read fails.
func (c *recordCipher) GenerateStorageKey() ([]byte, error) {
	key := make([]byte, storageKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveManifestKey implements [RecordCipher]. The label domain-separates
// manifest keys from item keys derived from the same storage key.
func (c *recordCipher) DeriveManifestKey(storageKey []byte, version uint64) []byte {
	mac := hmac.New(sha256.New, storageKey)
	fmt.Fprintf(mac, "%s%d", manifestKeyLabel, version)
	return mac.Sum(nil)
}

// DeriveItemKey implements [RecordCipher].
func (c *recordCipher) DeriveItemKey(storageKey, recordIKM []byte, id models.StorageID) ([]byte, error) {
	if len(recordIKM) == 0 {
		mac := hmac.New(sha256.New, storageKey)
		mac.Write([]byte(itemKeyLabel))
		mac.Write([]byte(id))
		return mac.Sum(nil), nil
	}

	// Manifests that carry a record IKM switch item keys to HKDF so that
	// rotating the IKM re-keys every slot without touching the storage key.
	raw, err := id.Raw()
	if err != nil {
		return nil, fmt.Errorf("derive item key: %w", err)
	}
	info := append([]byte(itemKeyLabel), raw...)

	key := make([]byte, storageKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, recordIKM, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive item key: %w", err)
	}
	return key, nil
}

// DeriveGroupMasterKey implements [RecordCipher]. HKDF-SHA256 with a
// 32-byte zero salt, matching the group migration derivation used by every
// other client.
func (c *recordCipher) DeriveGroupMasterKey(groupV1ID []byte) ([]byte, error) {
	salt := make([]byte, 32)
	key := make([]byte, storageKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, groupV1ID, salt, []byte(groupMigrationInfo)), key); err != nil {
		return nil, fmt.Errorf("derive group master key: %w", err)
	}
	return key, nil
}

// Encrypt implements [RecordCipher]. The blob layout is
// nonce (12 bytes) ‖ ciphertext, so Decrypt can locate the nonce without
// any framing.
func (c *recordCipher) Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt implements [RecordCipher]. All failure modes (short blob, wrong
// key, tampered ciphertext) collapse into ErrDecryptionFailed so that the
// caller cannot distinguish them; the remote store is untrusted.
func (c *recordCipher) Decrypt(blob, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
