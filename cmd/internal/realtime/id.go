package realtime

import (
	"time"

	"vigil/cmd/ids"
)

// NewConnectionID returns a ULID identifying one feed connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
