package adapter

import "errors"

var (
	ErrUnauthorized     = errors.New("storage credentials rejected")
	ErrVersionConflict  = errors.New("version conflict")
	ErrManifestMissing  = errors.New("no manifest exists")
	ErrNoNewerManifest  = errors.New("no newer manifest")
	ErrRecordNotFound   = errors.New("record not found")
	ErrTransportFailure = errors.New("transport failure")
)
