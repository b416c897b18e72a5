package rollout

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewTaskID generates a ULID string identifying one background task on the producer.
func NewTaskID() string {
	return ulid.Make().String()
}

// NewSessionID generates a runtime session identifier. Hosting platforms require
// session ids of at least 33 characters, which a canonical UUID satisfies.
func NewSessionID() string {
	return uuid.NewString()
}

// NewInputID generates an identifier for an input example.
func NewInputID() string {
	return uuid.NewString()
}
