// Package rollout defines the data exchanged between rollout producers and
// consumers: the per-invocation rollout configuration, the deterministic result
// key derived from it, the acknowledgment returned at submission and the result
// object written to the object store on completion.
package rollout
