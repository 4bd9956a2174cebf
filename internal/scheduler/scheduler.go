// Package scheduler runs housekeeping tasks on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type Task func(ctx context.Context) error

// Every runs task once right away and then on every tick until ctx is done.
// Runs never overlap; a slow run delays the next tick. Errors are logged
// and do not stop the schedule.
func Every(ctx context.Context, lg *slog.Logger, interval time.Duration, name string, task Task) {
	if lg == nil {
		lg = slog.Default()
	}
	lg = lg.With("component", "scheduler", "task", name)

	run := func() {
		start := time.Now()
		if err := task(ctx); err != nil {
			lg.Warn("task failed", "error", err)
			return
		}
		lg.Debug("task done", "took", time.Since(start))
	}

	if ctx.Err() != nil {
		return
	}
	run()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}
