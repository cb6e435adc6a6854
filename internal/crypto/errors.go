package crypto

import "errors"

// ErrDecryptionFailed reports an authentication failure while opening a
// record or manifest blob. It almost always means the locally stored
// storage key is stale and the account secret must be re-fetched.
var ErrDecryptionFailed = errors.New("decryption failed")
