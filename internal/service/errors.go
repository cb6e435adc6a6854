package service

import "errors"

var (
	// ErrInvariantViolation marks a manifest build whose insert/delete
	// sets disagree with the known-good previous manifest. The upload is
	// aborted rather than sending corrupt data.
	ErrInvariantViolation = errors.New("manifest invariant violation")

	// ErrTooManyConflicts is returned when the consecutive version
	// conflict budget is exhausted. Not fatal: the next trigger retries.
	ErrTooManyConflicts = errors.New("too many consecutive version conflicts")

	// ErrUploadRateLimited rejects a sync-triggered upload that exceeds
	// the rolling upload budget.
	ErrUploadRateLimited = errors.New("upload rate limited")

	// ErrStorageKeyMissing means no account storage key is provisioned;
	// nothing can be synced until the account layer supplies one.
	ErrStorageKeyMissing = errors.New("storage key missing")

	ErrEncodingManifest = errors.New("error encoding manifest")
)
