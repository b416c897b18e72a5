package client

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/rollout/pkg/rollout"
)

// BatchOptions bounds a batch run.
type BatchOptions struct {
	// MaxConcurrent is the sliding window size: the most futures outstanding
	// at once. It must be positive.
	MaxConcurrent int
	// Timeout bounds each item's wait for its result. Zero waits until the
	// batch context is done.
	Timeout time.Duration
}

// BatchItem is the outcome of one batch payload.
//
// Success is true only for a stored success result. A stored error result has
// Success false with Result set and Err an *rollout.ExecutionError. Submission
// failures and timeouts have Success false and a nil Result.
type BatchItem struct {
	Index   int
	Key     string
	Success bool
	Result  *rollout.Result
	Err     error
}

// Progress is a snapshot of a batch run.
type Progress struct {
	Total     int
	Completed int
	InFlight  int
	Pending   int
}

// Batch is a lazy batch run. Work starts when All is iterated.
type Batch struct {
	client   *Client
	ctx      context.Context
	payloads []map[string]any
	opts     BatchOptions

	started   atomic.Bool
	adm       atomic.Pointer[Admission]
	completed atomic.Int64
}

// RunBatch prepares a batch of payloads. Submissions share the client's rate
// limit; at most opts.MaxConcurrent futures are outstanding at any time.
func (c *Client) RunBatch(ctx context.Context, payloads []map[string]any, opts BatchOptions) *Batch {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Batch{
		client:   c,
		ctx:      ctx,
		payloads: payloads,
		opts:     opts,
	}
}

// Progress returns current counts. It is safe to call during iteration.
func (b *Batch) Progress() Progress {
	total := len(b.payloads)
	completed := int(b.completed.Load())
	inFlight := 0
	if adm := b.adm.Load(); adm != nil {
		inFlight = adm.InUse()
	}
	return Progress{
		Total:     total,
		Completed: completed,
		InFlight:  inFlight,
		Pending:   max(total-completed-inFlight, 0),
	}
}

// PeakInFlight returns the most submissions that were admitted at once.
func (b *Batch) PeakInFlight() int {
	if adm := b.adm.Load(); adm != nil {
		return adm.Peak()
	}
	return 0
}

// All yields one BatchItem per payload in completion order. Item failures do
// not stop the batch. If the batch context is cancelled the remaining items
// are yielded as failures carrying the context error. Breaking out of the loop
// abandons the remaining items; their remote rollouts still run.
//
// A Batch can be iterated once; later iterations yield nothing.
func (b *Batch) All() iter.Seq[BatchItem] {
	return func(yield func(BatchItem) bool) {
		if !b.started.CompareAndSwap(false, true) {
			return
		}

		ctx, cancel := context.WithCancel(b.ctx)
		defer cancel()

		adm := NewAdmission(b.client.limiter, b.opts.MaxConcurrent)
		b.adm.Store(adm)
		results := make(chan BatchItem)
		stop := make(chan struct{})
		var stopOnce sync.Once

		go func() {
			defer close(results)
			var g errgroup.Group
			g.SetLimit(b.opts.MaxConcurrent)
		feed:
			for i, p := range b.payloads {
				select {
				case <-stop:
					break feed
				default:
				}
				g.Go(func() error {
					item := b.runItem(ctx, adm, i, p)
					select {
					case results <- item:
					case <-stop:
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for item := range results {
			if !yield(item) {
				stopOnce.Do(func() { close(stop) })
				cancel()
				for range results {
				}
				return
			}
		}
	}
}

// runItem drives one payload from admission to a final outcome. The token is
// held until the item's future settles or gives up.
func (b *Batch) runItem(ctx context.Context, adm *Admission, index int, payload map[string]any) BatchItem {
	item := BatchItem{Index: index}
	defer b.completed.Add(1)

	fut, err := b.client.submit(ctx, adm, payload)
	if err != nil {
		item.Err = err
		return item
	}
	item.Key = fut.Key()
	defer fut.token.Release()

	res, err := fut.Await(ctx, b.opts.Timeout)
	switch {
	case err != nil:
		item.Err = err
	case res.Succeeded():
		item.Success = true
		item.Result = res
	default:
		item.Result = res
		item.Err = res.Err()
	}
	return item
}
