package client

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default polling schedule.
const (
	DefaultInitialInterval     = 500 * time.Millisecond
	DefaultMaxInterval         = 30 * time.Second
	DefaultMultiplier          = 1.5
	DefaultRandomizationFactor = 0.2
)

// PollConfig is the existence-check schedule used while awaiting a result.
// Each interval is the previous one times Multiplier, capped at MaxInterval,
// and randomized by ±RandomizationFactor so that many outstanding futures do
// not poll in lockstep.
type PollConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultPollConfig returns the default schedule: 500ms growing by 1.5x up to
// 30s, with 20% jitter.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
	}
}

// withDefaults fills zero fields from DefaultPollConfig.
func (p PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier == 0 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Validate rejects schedules that would not back off.
func (p PollConfig) Validate() error {
	switch {
	case p.InitialInterval < 0 || p.MaxInterval < 0:
		return fmt.Errorf("poll intervals must not be negative")
	case p.MaxInterval > 0 && p.InitialInterval > p.MaxInterval:
		return fmt.Errorf("poll initial interval %s exceeds max interval %s", p.InitialInterval, p.MaxInterval)
	case p.Multiplier != 0 && p.Multiplier < 1:
		return fmt.Errorf("poll multiplier must be >= 1, got %v", p.Multiplier)
	case p.RandomizationFactor < 0 || p.RandomizationFactor >= 1:
		return fmt.Errorf("poll randomization factor must be in [0, 1), got %v", p.RandomizationFactor)
	}
	return nil
}

// schedule returns a fresh backoff that never gives up on its own; the await
// deadline bounds it instead.
func (p PollConfig) schedule() *backoff.ExponentialBackOff {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// clampWait limits a polling wait to the time left before deadline.
func clampWait(wait time.Duration, deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return wait
	}
	if left := time.Until(deadline); left < wait {
		return max(left, 0)
	}
	return wait
}
