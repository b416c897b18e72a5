// Package workunit defines the user-supplied unit of work a producer runs in the
// background for each accepted invocation, and the execution strategies that let
// context-aware and plain blocking functions be registered interchangeably.
package workunit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seantiz/rollout/pkg/rollout"
)

// Payload is the decoded invocation body, including the rollout config field.
type Payload map[string]any

// String returns the payload field as a string, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Invocation carries everything one execution needs. Work units read their
// inference address, model and sampling settings from Config rather than from
// process-wide state, since invocations with different configs run concurrently.
type Invocation struct {
	TaskID  string
	Payload Payload
	Raw     json.RawMessage

	// Config is nil when the payload carried no rollout config.
	Config *rollout.Config

	// Log emits one line to subscribers of this task's log stream.
	Log func(line string)
}

// Logf formats and emits a log line. It is safe to call when Log is nil.
func (inv *Invocation) Logf(format string, args ...any) {
	if inv.Log == nil {
		return
	}
	inv.Log(fmt.Sprintf(format, args...))
}

// Output is what a work unit returns on success.
type Output struct {
	// RolloutData is the collected trace, one element per step or turn.
	RolloutData []any
	// Rewards holds one outcome reward or one reward per RolloutData element.
	Rewards []float64
	// StopReason defaults to rollout.StopReasonEndTurn when empty.
	StopReason string
}

// Strategy executes a work unit. Implementations are chosen once, when the work
// unit is registered, so the executor runs every invocation the same way.
type Strategy interface {
	Run(ctx context.Context, inv *Invocation) (*Output, error)
	Kind() string
}

// ContextFunc is a work unit that takes a context and the full invocation. It
// suits work that suspends on network calls and wants the task context.
type ContextFunc func(ctx context.Context, inv *Invocation) (*Output, error)

// Run calls f.
func (f ContextFunc) Run(ctx context.Context, inv *Invocation) (*Output, error) {
	return f(ctx, inv)
}

// Kind returns "context".
func (f ContextFunc) Kind() string { return "context" }

// BlockingFunc is a plain blocking work unit that receives the payload and the
// rollout config by value.
type BlockingFunc func(payload Payload, cfg rollout.Config) (*Output, error)

// Run calls f with a copy of the invocation config.
func (f BlockingFunc) Run(_ context.Context, inv *Invocation) (*Output, error) {
	var cfg rollout.Config
	if inv.Config != nil {
		cfg = *inv.Config
	}
	return f(inv.Payload, cfg)
}

// Kind returns "blocking".
func (f BlockingFunc) Kind() string { return "blocking" }

// New selects the Strategy for fn by its declared shape. Accepted shapes:
//
//	Strategy
//	func(context.Context, *Invocation) (*Output, error)
//	func(Payload, rollout.Config) (*Output, error)
//	func(Payload) (*Output, error)
func New(fn any) (Strategy, error) {
	switch f := fn.(type) {
	case nil:
		return nil, fmt.Errorf("work unit is nil")
	case Strategy:
		return f, nil
	case func(context.Context, *Invocation) (*Output, error):
		return ContextFunc(f), nil
	case func(Payload, rollout.Config) (*Output, error):
		return BlockingFunc(f), nil
	case func(Payload) (*Output, error):
		return BlockingFunc(func(p Payload, _ rollout.Config) (*Output, error) {
			return f(p)
		}), nil
	default:
		return nil, fmt.Errorf("unsupported work unit signature %T", fn)
	}
}

// MustNew is like New but panics on an unsupported shape. Intended for
// registration in main packages.
func MustNew(fn any) Strategy {
	s, err := New(fn)
	if err != nil {
		panic(err)
	}
	return s
}
