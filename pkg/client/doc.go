// Package client submits rollouts to a producer and collects their results from
// the shared object store.
//
// Submission is fire-and-forget: Client.Invoke returns a Future as soon as the
// producer acknowledges the invocation, and the Future discovers completion by
// polling the store for the deterministic result key. Admission applies a
// request rate limit and a concurrency limit before each submission, and
// Batch drives many submissions through a bounded sliding window.
//
// Giving up on a Future is local bookkeeping only. The producer keeps running
// an accepted rollout to completion regardless of what the client does.
package client
