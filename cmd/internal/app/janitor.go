package app

import (
	"context"
	"log/slog"
	"time"
)

type pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// runJanitor deletes idle sessions every interval until ctx is done.
// Failures are logged and retried on the next tick.
func runJanitor(ctx context.Context, log *slog.Logger, p pruner, interval time.Duration, now func() time.Time) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Prune(ctx, now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("janitor.prune.fail", "err", err)
				continue
			}
			if n > 0 {
				log.Info("janitor.prune", "removed", n)
			}
		}
	}
}
