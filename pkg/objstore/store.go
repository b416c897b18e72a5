// Package objstore provides the durable key/value object storage that rollout
// producers write results to and consumers poll. The existence of an object at
// a key is the completion signal; no separate marker is written.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Store is the object store contract shared by producers and consumers.
type Store interface {
	// Put atomically stores body at bucket/key, replacing any existing object.
	// Repeating a Put with the same body leaves the same observable state.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// Exists reports whether an object is present without transferring its body.
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Get returns the object body, or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	Close() error
}

// TransientError marks a store failure that is expected to clear on retry,
// such as the backend being unreachable or busy.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
