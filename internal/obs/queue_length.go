// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/queue"
)

// StartQueueLengthUpdater periodically samples the queue backend's ready
// and dead-letter sizes into the QueueLength gauge.
func StartQueueLengthUpdater(ctx context.Context, backend queue.Backend, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := backend.Size(ctx); err != nil {
					log.Debug("queue size poll error", Err(err))
				} else {
					QueueLength.WithLabelValues("ready").Set(float64(n))
				}
				if n, err := backend.DLQSize(ctx); err != nil {
					log.Debug("dlq size poll error", Err(err))
				} else {
					QueueLength.WithLabelValues("dead_letter").Set(float64(n))
				}
			}
		}
	}()
}
