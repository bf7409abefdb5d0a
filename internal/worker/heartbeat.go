package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"speakerline/internal/logging"
	"speakerline/internal/queue"
)

// heartbeatMonitor keeps running tasks alive and reclaims abandoned ones.
type heartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

func newHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *heartbeatMonitor {
	return &heartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// reclaimStale returns tasks with expired heartbeats to the queue.
func (h *heartbeatMonitor) reclaimStale(ctx context.Context, logger *slog.Logger) error {
	if h.timeout <= 0 {
		return nil
	}
	requeued, failed, err := h.store.ReclaimStale(ctx, time.Now().Add(-h.timeout))
	if err != nil {
		return err
	}
	if requeued > 0 || failed > 0 {
		logger.Info("reclaimed stale tasks",
			logging.Int64("requeued", requeued),
			logging.Int64("failed", failed),
		)
	}
	return nil
}

// run refreshes the heartbeat for taskID until ctx is cancelled.
func (h *heartbeatMonitor) run(ctx context.Context, wg *sync.WaitGroup, taskID string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "worker-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_update_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}
