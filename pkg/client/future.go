package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

// FutureState is the lifecycle state of a Future.
type FutureState string

// Future states. Resolved and Failed are final. TimedOut records that the last
// Await gave up; a later Await may still move the future to a final state.
const (
	StatePending  FutureState = "pending"
	StateResolved FutureState = "resolved"
	StateFailed   FutureState = "failed"
	StateTimedOut FutureState = "timed_out"
)

// Final reports whether no further transition is possible.
func (s FutureState) Final() bool {
	return s == StateResolved || s == StateFailed
}

// ErrTimeout matches every *TimeoutError.
var ErrTimeout = errors.New("rollout result not ready")

// TimeoutError reports that an Await deadline passed before the result was
// written. The remote rollout is unaffected and may still complete.
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rollout result %s not ready after %s", e.Key, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true for any TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Future is the eventual result of one submitted rollout. It is safe for
// concurrent use.
type Future struct {
	store  objstore.Store
	bucket string
	key    string
	taskID string
	poll   PollConfig
	logger *slog.Logger
	token  *Token

	mu     sync.Mutex
	state  FutureState
	result *rollout.Result
	err    error
	done   chan struct{}
}

func newFuture(s objstore.Store, bucket, key, taskID string, poll PollConfig, tok *Token, logger *slog.Logger) *Future {
	return &Future{
		store:  s,
		bucket: bucket,
		key:    key,
		taskID: taskID,
		poll:   poll,
		logger: logger,
		token:  tok,
		state:  StatePending,
		done:   make(chan struct{}),
	}
}

// Key returns the result key the producer writes to.
func (f *Future) Key() string { return f.key }

// Bucket returns the result store target.
func (f *Future) Bucket() string { return f.bucket }

// TaskID returns the producer's task id, if the acknowledgment carried one.
func (f *Future) TaskID() string { return f.taskID }

// State returns the current state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Resolved returns a channel closed once the future reaches a final state.
func (f *Future) Resolved() <-chan struct{} {
	return f.done
}

// Done performs a single existence check without waiting. It reports true once
// the result object exists. It does not fetch the result.
func (f *Future) Done(ctx context.Context) (bool, error) {
	f.mu.Lock()
	final := f.state.Final()
	f.mu.Unlock()
	if final {
		return true, nil
	}
	return f.store.Exists(ctx, f.bucket, f.key)
}

// Await waits until the result is written, timeout elapses or ctx is done. A
// non-positive timeout waits until ctx is done.
//
// A stored error result is returned as data: the returned Result has status
// error, the error is nil and the future is in StateFailed. Use Result.Err to
// turn it into an *rollout.ExecutionError. When the timeout elapses first Await
// returns a *TimeoutError and the future moves to StateTimedOut; awaiting again
// continues polling. Transient store errors are retried on the polling
// schedule.
func (f *Future) Await(ctx context.Context, timeout time.Duration) (*rollout.Result, error) {
	if r, err, ok := f.finalOutcome(); ok {
		return r, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	sched := f.poll.schedule()

	for {
		r, err, stop := f.check(ctx)
		if stop {
			return r, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, f.timeOut(timeout)
		}

		timer := time.NewTimer(clampWait(sched.NextBackOff(), deadline))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-f.done:
			timer.Stop()
			r, err, _ := f.finalOutcome()
			return r, err
		}
	}
}

// Result returns the outcome if the future is final.
func (f *Future) Result() (*rollout.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.state.Final()
}

func (f *Future) finalOutcome() (*rollout.Result, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Final() {
		return nil, nil, false
	}
	return f.result, f.err, true
}

// check polls once. It reports stop when Await should return r and err: the
// future became final or the store failed permanently. Transient store errors
// count as a miss.
func (f *Future) check(ctx context.Context) (r *rollout.Result, err error, stop bool) {
	if r, err, ok := f.finalOutcome(); ok {
		return r, err, true
	}

	exists, err := f.store.Exists(ctx, f.bucket, f.key)
	if err != nil {
		if objstore.IsTransient(err) {
			f.logger.Debug("result existence check failed", "result_key", f.key, "error", err)
			return nil, nil, false
		}
		return nil, fmt.Errorf("check result %s: %w", f.key, err), true
	}
	if !exists {
		return nil, nil, false
	}

	body, err := f.store.Get(ctx, f.bucket, f.key)
	if errors.Is(err, objstore.ErrNotFound) || objstore.IsTransient(err) {
		return nil, nil, false
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result %s: %w", f.key, err), true
	}

	res, decodeErr := rollout.DecodeResult(body)
	if decodeErr != nil {
		return f.finish(nil, fmt.Errorf("result %s: %w", f.key, decodeErr))
	}
	return f.finish(res, nil)
}

// finish records the final outcome once and releases the admission token.
func (f *Future) finish(res *rollout.Result, err error) (*rollout.Result, error, bool) {
	f.mu.Lock()
	if f.state.Final() {
		r, e := f.result, f.err
		f.mu.Unlock()
		return r, e, true
	}
	f.result, f.err = res, err
	if err == nil && res.Succeeded() {
		f.state = StateResolved
	} else {
		f.state = StateFailed
	}
	state := f.state
	close(f.done)
	f.mu.Unlock()

	f.token.Release()
	f.logger.Debug("rollout future settled", "result_key", f.key, "state", state)
	return res, err, true
}

func (f *Future) timeOut(timeout time.Duration) error {
	f.mu.Lock()
	if !f.state.Final() {
		f.state = StateTimedOut
	}
	f.mu.Unlock()

	f.token.Release()
	return &TimeoutError{Key: f.key, Timeout: timeout}
}
