package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampBoundsToMaxConcurrency(t *testing.T) {
	assert.Equal(t, MaxConcurrency, Clamp(100, 100))
	assert.Equal(t, 1, Clamp(0, 0))
	assert.Equal(t, 3, Clamp(5, 3))
	assert.Equal(t, 1, Clamp(-1, 5))
}

func TestMapPreservesOrder(t *testing.T) {
	results, aborted := Map(context.Background(), 5, 2, func(_ context.Context, i int) int {
		return i * i
	})
	assert.False(t, aborted)
	for i, r := range results {
		assert.True(t, r.Started)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestMapNeverExceedsConcurrencyCap(t *testing.T) {
	var inFlight, maxSeen int32
	_, _ = Map(context.Background(), 20, 3, func(_ context.Context, i int) int {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxSeen)
			if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i
	})
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 3)
}

func TestMapStopsStartingAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int32
	cancel()
	results, aborted := Map(ctx, 10, 2, func(_ context.Context, i int) int {
		atomic.AddInt32(&started, 1)
		return i
	})
	assert.True(t, aborted)
	assert.Equal(t, int32(0), atomic.LoadInt32(&started))
	assert.Len(t, results, 10)
}

func TestMapZeroItemsReturnsEmpty(t *testing.T) {
	results, aborted := Map(context.Background(), 0, 4, func(_ context.Context, i int) int { return i })
	assert.False(t, aborted)
	assert.Empty(t, results)
}
