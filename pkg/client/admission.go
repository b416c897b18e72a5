package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultTPS is the default submission rate limit, in requests per second.
const DefaultTPS = 25

// RateLimiter admits at most tps events in any one-second window. A
// rate.Limiter spaces events 1/tps apart, and a ring of recent admission times
// holds back an event until the one it displaces is a full window old. A nil
// RateLimiter admits everything.
type RateLimiter struct {
	spacing *rate.Limiter

	mu     sync.Mutex
	span   time.Duration
	recent []time.Time
	next   int
}

// NewRateLimiter returns a limiter admitting tps events per second with no
// bursting. A non-positive tps disables rate limiting.
func NewRateLimiter(tps float64) *RateLimiter {
	if tps <= 0 {
		return &RateLimiter{spacing: rate.NewLimiter(rate.Inf, 1)}
	}
	// Below one per second the window widens so it still holds one event.
	n, span := int(tps), time.Second
	if n < 1 {
		n, span = 1, time.Duration(float64(time.Second)/tps)
	}
	return &RateLimiter{
		spacing: rate.NewLimiter(rate.Limit(tps), 1),
		span:    span,
		recent:  make([]time.Time, n),
	}
}

// Wait blocks until an event may proceed or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.spacing.Wait(ctx); err != nil {
		return err
	}
	if l.recent == nil {
		return nil
	}
	for {
		wait := l.admit(time.Now())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// admit records now as an admission if the oldest remembered one has left the
// window, and otherwise returns how long until it does.
func (l *RateLimiter) admit(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	oldest := l.recent[l.next]
	if !oldest.IsZero() {
		if wait := oldest.Add(l.span).Sub(now); wait > 0 {
			return wait
		}
	}
	l.recent[l.next] = now
	l.next = (l.next + 1) % len(l.recent)
	return 0
}

// Admission gates submissions behind two independent limits: a shared request
// rate and a cap on concurrently held Tokens. Limits never fail a caller; they
// only delay it until ctx is done.
type Admission struct {
	limiter *RateLimiter
	sem     *semaphore.Weighted
	max     int
	inUse   atomic.Int64
	peak    atomic.Int64
}

// NewAdmission combines limiter with a concurrency cap of maxConcurrent tokens.
// A non-positive maxConcurrent leaves concurrency unbounded. The limiter may be
// shared between several Admissions so they draw from one rate budget.
func NewAdmission(limiter *RateLimiter, maxConcurrent int) *Admission {
	a := &Admission{limiter: limiter, max: maxConcurrent}
	if maxConcurrent > 0 {
		a.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return a
}

// Acquire waits for a concurrency slot and then for the rate limiter. The slot
// is taken first so that waiting for a slot does not burn rate budget.
func (a *Admission) Acquire(ctx context.Context) (*Token, error) {
	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if a.sem != nil {
				a.sem.Release(1)
			}
			return nil, err
		}
	}
	n := a.inUse.Add(1)
	for {
		peak := a.peak.Load()
		if n <= peak || a.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return &Token{a: a}, nil
}

// InUse returns the number of tokens currently held.
func (a *Admission) InUse() int {
	return int(a.inUse.Load())
}

// Peak returns the most tokens that were held at once.
func (a *Admission) Peak() int {
	return int(a.peak.Load())
}

// Limit returns the concurrency cap, or 0 when unbounded.
func (a *Admission) Limit() int {
	return a.max
}

// Token is one admitted submission's concurrency slot.
type Token struct {
	a    *Admission
	once sync.Once
}

// Release returns the slot. Only the first call has an effect. Release on a
// nil Token is a no-op.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.a.inUse.Add(-1)
		if t.a.sem != nil {
			t.a.sem.Release(1)
		}
	})
}
