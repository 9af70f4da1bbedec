package ledger

import "errors"

var (
	// ErrInvalidInput is returned for malformed records.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("session record not found")

	// ErrOpenExists is returned by Open when the account already has an open record.
	ErrOpenExists = errors.New("open session record exists")
)
