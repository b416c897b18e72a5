package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

// Write outcome metric label values.
const (
	writeOutcomeStored = "stored"
	writeOutcomeFailed = "failed"
)

// errUnencodableResult wraps Write failures that happened before any store
// call because the result could not be serialized.
var errUnencodableResult = errors.New("result cannot be encoded")

// ResultWriter persists finished rollouts to the object store.
type ResultWriter struct {
	store          objstore.Store
	logger         *slog.Logger
	maxRetries     uint64
	initialBackoff time.Duration
}

// NewResultWriter creates a writer that retries transient store failures up to
// maxRetries times with exponential backoff starting at initialBackoff.
func NewResultWriter(s objstore.Store, logger *slog.Logger, maxRetries uint64, initialBackoff time.Duration) *ResultWriter {
	return &ResultWriter{
		store:          s,
		logger:         logger,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}
}

// Write serializes r once and puts the bytes at bucket/key. Retries re-send the
// same bytes, so a retried write leaves the same end state as a single one.
func (w *ResultWriter) Write(ctx context.Context, bucket, key string, r *rollout.Result) error {
	body, err := r.Encode()
	if err != nil {
		resultWrites.WithLabelValues(writeOutcomeFailed).Inc()
		return fmt.Errorf("%w: %w", errUnencodableResult, err)
	}

	op := func() error {
		err := w.store.Put(ctx, bucket, key, body)
		if err != nil && !objstore.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, w.maxRetries), ctx)

	notify := func(err error, next time.Duration) {
		w.logger.Warn("result write failed, retrying",
			"result_key", key,
			"retry_in", next.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		resultWrites.WithLabelValues(writeOutcomeFailed).Inc()
		return fmt.Errorf("put result %s: %w", key, err)
	}
	resultWrites.WithLabelValues(writeOutcomeStored).Inc()
	return nil
}
