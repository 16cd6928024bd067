// Package race implements C3, the race selector: running N tasks
// concurrently and returning the first to succeed, aborting the rest. All
// racers share one context derived from the caller's, cancelled once a
// winner is found; only the standard library's context and sync are used.
package race

import (
	"context"
	"sync"

	"github.com/pi-parallel/parallel/internal/types"
)

// Outcome is the result of one racer.
type Outcome struct {
	Index  int
	Result types.TaskResult
}

// Run launches every task in tasks concurrently, each receiving a context
// derived from ctx. The first task whose TaskResult has ExitCode 0 and is
// not Aborted becomes the winner; every other derived context is cancelled
// immediately. If ctx fires before any success, or if every task finishes
// without success, Run reports aborted=true with no winner.
func Run(ctx context.Context, tasks []func(ctx context.Context) types.TaskResult) (winner *Outcome, all []Outcome, aborted bool) {
	n := len(tasks)
	all = make([]Outcome, n)
	if n == 0 {
		return nil, all, true
	}

	raceCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var won *Outcome
	remaining := n

	done := make(chan struct{})

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := task(raceCtx)
			mu.Lock()
			all[i] = Outcome{Index: i, Result: res}
			remaining--
			success := res.ExitCode == 0 && !res.Aborted
			if success && won == nil {
				won = &Outcome{Index: i, Result: res}
				cancelAll()
			}
			if remaining == 0 {
				close(done)
			}
			mu.Unlock()
		}()
	}

	select {
	case <-ctx.Done():
		cancelAll()
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return won, all, won == nil
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return won, all, won == nil
	}
}
