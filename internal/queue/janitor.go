package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"speakerline/internal/logging"
)

// SweepResult reports what a single janitor pass changed.
type SweepResult struct {
	Skipped  bool
	Requeued int64
	Failed   int64
	Purged   int64
}

// Janitor reclaims tasks abandoned by dead workers and purges expired groups.
// Several server processes may share one database; the sweep lock ensures only
// one of them sweeps at a time.
type Janitor struct {
	store            *Store
	logger           *slog.Logger
	lock             *flock.Flock
	interval         time.Duration
	heartbeatTimeout time.Duration
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(store *Store, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Janitor {
	return &Janitor{
		store:            store,
		logger:           logging.NewComponentLogger(logger, "queue-janitor"),
		lock:             flock.New(store.Path() + ".sweep.lock"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Sweep runs one pass. It is skipped when another process holds the lock.
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	ok, err := j.lock.TryLock()
	if err != nil {
		return SweepResult{}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return SweepResult{Skipped: true}, nil
	}
	defer func() {
		if err := j.lock.Unlock(); err != nil {
			j.logger.Warn("failed to release sweep lock", logging.Error(err))
		}
	}()

	var result SweepResult
	now := j.store.now()
	if j.heartbeatTimeout > 0 {
		result.Requeued, result.Failed, err = j.store.ReclaimStale(ctx, now.Add(-j.heartbeatTimeout))
		if err != nil {
			return result, err
		}
	}
	result.Purged, err = j.store.PurgeExpired(ctx, now)
	if err != nil {
		return result, err
	}
	return result, nil
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		result, err := j.Sweep(ctx)
		switch {
		case err != nil:
			j.logger.Warn("queue sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_sweep_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		case result.Requeued > 0 || result.Failed > 0 || result.Purged > 0:
			j.logger.Info("queue sweep complete",
				logging.Int64("requeued", result.Requeued),
				logging.Int64("failed", result.Failed),
				logging.Int64("purged_groups", result.Purged),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
