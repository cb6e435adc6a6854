package crypto

import "github.com/MKhiriev/go-record-sync/models"

//go:generate mockgen -source=interfaces.go -destination=../mock/record_cipher_mock.go -package=mock

// RecordCipher owns all cryptography of the storage sync engine. It knows
// nothing about the network, the database, or entities; its only job is to
// derive keys and protect record payloads.
//
// Every derivation is a deterministic function of the account storage key
// (plus the optional per-manifest record IKM), so two devices holding the
// same key independently derive identical item and manifest keys; no key
// material is ever transmitted.
type RecordCipher interface {
	// GenerateStorageKey generates a fresh random 32-byte account storage
	// key. Used only on first-device provisioning; normally the key is
	// supplied by the account layer.
	GenerateStorageKey() ([]byte, error)

	// DeriveManifestKey derives the encryption key for the manifest at the
	// given version: HMAC-SHA256(storageKey, "Manifest_" + version).
	DeriveManifestKey(storageKey []byte, version uint64) []byte

	// DeriveItemKey derives the encryption key for one record slot. Without
	// a record IKM it is HMAC-SHA256(storageKey, "Item_" + id). When the
	// manifest carries a record IKM the key is instead drawn from
	// HKDF-SHA256 keyed by the IKM, diversified by the raw slot id.
	DeriveItemKey(storageKey, recordIKM []byte, id models.StorageID) ([]byte, error)

	// DeriveGroupMasterKey derives the group-v2 master key implied by a
	// group-v1 identifier. Used to detect GV1 records shadowed by a GV2
	// record in the same batch.
	DeriveGroupMasterKey(groupV1ID []byte) ([]byte, error)

	// Encrypt seals plaintext with AES-256-GCM under key. The returned blob
	// is nonce ‖ ciphertext. Works for all payload sizes including empty.
	Encrypt(plaintext, key []byte) ([]byte, error)

	// Decrypt opens a blob produced by Encrypt. Returns ErrDecryptionFailed
	// (wrapped) if the blob is malformed or the authentication tag does not
	// verify; the caller treats that as a stale storage key.
	Decrypt(blob, key []byte) ([]byte, error)
}
