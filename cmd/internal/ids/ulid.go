// Package ids provides identifier primitives used on the wire.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// A zero now falls back to the current UTC time.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewEnvelopeID returns a ULID used as the id of an outbound envelope.
// Envelope ids sort by emission time, which keeps client and server logs easy to line up.
func NewEnvelopeID(now time.Time) (string, error) {
	return NewULID(now)
}
