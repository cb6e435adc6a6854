package store

import "errors"

var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrExecutingQuery    = errors.New("error executing query")
	ErrScanningRow       = errors.New("error scanning row")
	ErrStateKeyNotFound  = errors.New("state key not found")
	ErrEncodingStateBlob = errors.New("error encoding state value")
)
