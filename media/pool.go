package media

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one blob transfer.
type Task func(ctx context.Context) error

// Report summarizes one transfer phase.
type Report struct {
	Total     int
	Completed int
	Failed    int
	// Skipped counts tasks never started because the watchdog fired first.
	Skipped  int
	TimedOut bool
}

// RunPool runs tasks on at most workers goroutines. The phase ends when every task has
// finished or when deadline elapses, whichever comes first; on timeout RunPool returns
// immediately and in-flight tasks see a cancelled context.
func RunPool(ctx context.Context, workers int, deadline time.Duration, tasks []Task) Report {
	if workers <= 0 {
		workers = 1
	}
	report := Report{Total: len(tasks)}
	if len(tasks) == 0 {
		return report
	}

	wctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var completed, failed, started atomic.Int64
	g, gctx := errgroup.WithContext(wctx)
	g.SetLimit(workers)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, task := range tasks {
			task := task
			if gctx.Err() != nil {
				break
			}
			started.Add(1)
			g.Go(func() error {
				if err := task(gctx); err != nil {
					failed.Add(1)
					return nil
				}
				completed.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-wctx.Done():
		report.TimedOut = true
	}

	report.Completed = int(completed.Load())
	report.Failed = int(failed.Load())
	report.Skipped = len(tasks) - int(started.Load())
	if !report.TimedOut && wctx.Err() == context.DeadlineExceeded {
		report.TimedOut = true
	}
	return report
}
