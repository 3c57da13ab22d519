// Copyright 2025 James Ross
// Package reaper recovers events abandoned in a worker's processing list
// after that worker's heartbeat expires without a clean shutdown. This is
// the other half of the Queue Broker Adapter's reliable-pop guarantee: a pop
// only becomes permanent once the worker commits it, so a crash mid-batch
// leaves recoverable, not lost, payloads.
package reaper

import (
	"context"
	"time"

	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/obs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Reaper struct {
	cfg *config.Config
	rdb *redis.Client
	log *zap.Logger
}

func New(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, rdb: rdb, log: log}
}

// Run scans every 5 seconds until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

// scanOnce walks every worker's processing list; any list whose owning
// worker's heartbeat key has expired is drained back onto the primary queue,
// tail-first so FIFO order within the recovered batch is preserved.
func (r *Reaper) scanOnce(ctx context.Context) {
	glob := broker.ProcessingListGlob(r.cfg.Broker)
	var cursor uint64
	for {
		keys, cur, err := r.rdb.Scan(ctx, cursor, glob, 100).Result()
		if err != nil {
			r.log.Warn("reaper scan error", obs.Err(err))
			return
		}
		cursor = cur
		for _, plist := range keys {
			workerID, ok := broker.WorkerIDFromProcessingListKey(r.cfg.Broker, plist)
			if !ok {
				continue
			}
			hbKey := broker.HeartbeatKey(r.cfg.Broker, workerID)
			exists, err := r.rdb.Exists(ctx, hbKey).Result()
			if err != nil {
				r.log.Warn("reaper heartbeat check error", obs.Err(err))
				continue
			}
			if exists == 1 {
				continue
			}
			r.requeueAbandoned(ctx, plist, workerID)
		}
		if cursor == 0 {
			break
		}
	}
}

func (r *Reaper) requeueAbandoned(ctx context.Context, processingList, workerID string) {
	for {
		payload, err := r.rdb.RPop(ctx, processingList).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			r.log.Warn("reaper rpop error", obs.Err(err))
			return
		}
		if err := r.rdb.LPush(ctx, r.cfg.Broker.QueueName, payload).Err(); err != nil {
			r.log.Error("requeue failed", obs.Err(err), obs.String("worker_id", workerID))
			continue
		}
		obs.ReaperRecovered.Inc()
		r.log.Warn("requeued abandoned event", obs.String("worker_id", workerID), obs.String("queue", r.cfg.Broker.QueueName))
	}
}
