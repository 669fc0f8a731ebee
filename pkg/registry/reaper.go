package registry

import (
	"context"
	"log/slog"
	"time"
)

// reaperStore is the slice of Service the reaper needs.
type reaperStore interface {
	DeleteExpiredAgents(ctx context.Context) (int64, error)
	DeleteOrphanCapabilities(ctx context.Context) (int64, error)
}

// Reaper periodically enforces agent liveness:
//   - Deletes agents whose heartbeat is older than the TTL
//   - Removes capability rows whose agent no longer exists
//
// All operations are idempotent and safe to run from multiple pods.
type Reaper struct {
	store    reaperStore
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper sweeping at the given interval.
func NewReaper(store reaperStore, interval time.Duration) *Reaper {
	return &Reaper{store: store, interval: interval}
}

// Start launches the background reaper loop.
func (r *Reaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	slog.Info("Agent reaper started", "interval", r.interval)
}

// Stop signals the reaper loop to exit and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Agent reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	count, err := r.store.DeleteExpiredAgents(ctx)
	if err != nil {
		slog.Error("Reaper: delete expired agents failed", "error", err)
	} else if count > 0 {
		slog.Info("Reaper: deleted expired agents", "count", count)
	}

	count, err = r.store.DeleteOrphanCapabilities(ctx)
	if err != nil {
		slog.Error("Reaper: orphan capability sweep failed", "error", err)
	} else if count > 0 {
		slog.Info("Reaper: deleted orphan capabilities", "count", count)
	}
}
