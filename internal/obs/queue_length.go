// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/llmscope/llmscope/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater periodically samples the primary queue and DLQ
// depths and publishes them as a gauge. This is the background half of the
// Metrics Surface: /api/v1/events/queue/stats reads the same depths
// point-in-time on request; this loop keeps the Prometheus gauge warm.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}
	queues := []string{cfg.Broker.QueueName, cfg.Broker.DLQName}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range queues {
					n, err := rdb.LLen(ctx, q).Result()
					if err != nil {
						log.Debug("queue length poll error", String("queue", q), Err(err))
						continue
					}
					QueueLength.WithLabelValues(q).Set(float64(n))
				}
			}
		}
	}()
}
