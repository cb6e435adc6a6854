package records

import "errors"

var (
	ErrDecodingRecord = errors.New("error decoding record payload")
	ErrEncodingRecord = errors.New("error encoding record payload")
	ErrKindMismatch   = errors.New("entity kind does not match codec")
)
