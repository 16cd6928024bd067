// Package pool implements C2, the bounded worker pool: mapping a function
// over N inputs with concurrency capped at K, honoring a shared
// cancellation context. The admission semaphore uses
// golang.org/x/sync/semaphore.Weighted, the teacher's own concurrency
// dependency (used for request gating in server/router/api/v1/v1.go),
// rather than a hand-rolled channel-based limiter.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MaxConcurrency is the system-wide ceiling every caller is clamped to.
const MaxConcurrency = 8

// Clamp returns min(requested, MaxConcurrency, items), never less than 1
// when items > 0.
func Clamp(requested, items int) int {
	k := requested
	if k > MaxConcurrency {
		k = MaxConcurrency
	}
	if items > 0 && k > items {
		k = items
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Result holds one item's outcome, or none if the item never started
// because the context was already cancelled at its turn.
type Result[T any] struct {
	Value   T
	Started bool
}

// Map runs worker(ctx, i) for every index in [0, n) with at most k
// concurrently in flight, preserving input order in the returned slice.
// Once ctx is cancelled, no new worker is started; already-running workers
// are expected to observe ctx themselves. Map returns once every started
// worker has resolved; aborted reports whether the context had fired by
// the time Map returned.
func Map[T any](ctx context.Context, n, k int, worker func(ctx context.Context, i int) T) (results []Result[T], aborted bool) {
	results = make([]Result[T], n)
	if n == 0 {
		return results, ctx.Err() != nil
	}
	k = Clamp(k, n)
	sem := semaphore.NewWeighted(int64(k))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		select {
		case <-ctx.Done():
			continue
		default:
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = Result[T]{Value: worker(ctx, i), Started: true}
		}()
	}
	wg.Wait()

	return results, ctx.Err() != nil
}
