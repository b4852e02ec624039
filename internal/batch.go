package internal

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchConcurrency is the default worker count for RunBatch (§4.6).
const BatchConcurrency = 10

// ProgressFunc reports batch progress after each individual item
// completes. completed/total are monotonic; currentLabel identifies the
// item that just finished; hadError reports whether that item failed.
type ProgressFunc func(completed, total int, currentLabel string, hadError bool)

// BatchResult pairs one input item's outcome with its original index, so
// callers can restore submission order regardless of completion order.
type BatchResult[Out any] struct {
	Index int
	Value Out
	Err   error
}

// RunBatch runs op over every item with at most concurrency operations in
// flight, preserves input order in the returned slice, and never aborts the
// batch on an individual item's error — failures are carried in each
// result's Err field (§4.6).
//
// Grounded in the worker-pool shape of a job-queue processor in the
// retrieval pack, adapted here to errgroup's bounded fan-out instead of a
// hand-rolled channel/worker-count pair, and to produce an order-preserving
// result slice instead of an unordered result channel.
func RunBatch[In, Out any](ctx context.Context, items []In, concurrency int, label func(In) string, op func(context.Context, In) (Out, error), progress ProgressFunc) []BatchResult[Out] {
	if concurrency <= 0 {
		concurrency = BatchConcurrency
	}

	results := make([]BatchResult[Out], len(items))
	var completed atomic.Int64
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			value, err := op(gctx, item)
			results[i] = BatchResult[Out]{Index: i, Value: value, Err: err}

			progressMu.Lock()
			n := completed.Add(1)
			if progress != nil {
				progress(int(n), len(items), label(item), err != nil)
			}
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // op never returns a group-level error; failures live in results.

	return results
}
