// Package engine provides the producer-side fire-and-forget execution engine.
// Submit acknowledges an invocation immediately and runs its work unit in a
// background goroutine; the outcome is written to the object store at the
// rollout's deterministic key, after which the task stops counting towards the
// busy health state.
package engine
