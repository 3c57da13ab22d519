// Copyright 2025 James Ross
// Package broker implements the Queue Broker Adapter: an ordered FIFO of
// opaque JSON strings plus a DLQ list, both served by the same Redis
// connection. Durability is delegated to Redis; the adapter performs a
// reliable, not destructive, pop — see PopBatch.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/obs"
	"github.com/redis/go-redis/v9"
)


// TransportError wraps a broker-unreachable condition. At ingest it maps to
// 500; at the worker it triggers a backoff-and-continue.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("broker %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Broker is the Queue Broker Adapter over a Redis list pair.
type Broker struct {
	rdb *redis.Client
	cfg config.Broker
}

func New(rdb *redis.Client, cfg config.Broker) *Broker {
	return &Broker{rdb: rdb, cfg: cfg}
}

func (b *Broker) QueueName() string { return b.cfg.QueueName }
func (b *Broker) DLQName() string   { return b.cfg.DLQName }

// Enqueue appends payload to the tail of queue. O(1); never fails under
// normal conditions. Broker unavailability surfaces as TransportError.
func (b *Broker) Enqueue(ctx context.Context, queue, payload string) error {
	ctx, span := obs.StartEnqueueSpan(ctx, queue)
	defer span.End()
	if err := b.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		obs.RecordError(ctx, err)
		return &TransportError{Op: "enqueue", Err: err}
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

// Length returns the best-effort current depth of queue. Advisory only.
func (b *Broker) Length(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, &TransportError{Op: "length", Err: err}
	}
	return n, nil
}

// processingListKey and heartbeatKey derive the per-worker reliable-pop
// bookkeeping keys from the worker ID.
func (b *Broker) processingListKey(workerID string) string {
	return ProcessingListKey(b.cfg, workerID)
}

func (b *Broker) heartbeatKey(workerID string) string {
	return HeartbeatKey(b.cfg, workerID)
}

// ProcessingListKey and HeartbeatKey are exported so the reaper, which scans
// across all workers rather than acting as one, can derive and match the
// same keys without duplicating the pattern logic.
func ProcessingListKey(cfg config.Broker, workerID string) string {
	return fmt.Sprintf(cfg.ProcessingListPattern, workerID)
}

func HeartbeatKey(cfg config.Broker, workerID string) string {
	return fmt.Sprintf(cfg.HeartbeatKeyPattern, workerID)
}

// ProcessingListGlob returns the key-space glob the reaper scans to find
// every worker's processing list, e.g. "llmscope:worker:*:processing".
func ProcessingListGlob(cfg config.Broker) string {
	return fmt.Sprintf(cfg.ProcessingListPattern, "*")
}

// WorkerIDFromProcessingListKey recovers the worker ID embedded in a
// processing list key matched by ProcessingListGlob, by splitting the
// pattern on its single "%s" verb and trimming the fixed prefix/suffix.
func WorkerIDFromProcessingListKey(cfg config.Broker, key string) (string, bool) {
	parts := strings.SplitN(cfg.ProcessingListPattern, "%s", 2)
	if len(parts) != 2 {
		return "", false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix), true
}

// PopBatch removes up to n items from the head of queue without blocking:
// it drains whatever is immediately available and returns an empty slice
// when the queue is empty. It never waits for the batch to fill — a pop of
// N < batch_size returns all available items. Each item is
// atomically moved into the worker's processing list (a reliable pop, not a
// destructive one) so a crash mid-batch can be recovered by the reaper.
func (b *Broker) PopBatch(ctx context.Context, queue, workerID string, n int) ([]string, error) {
	procList := b.processingListKey(workerID)
	items := make([]string, 0, n)

	ctx, span := obs.StartDequeueSpan(ctx, queue)
	defer span.End()

	for len(items) < n {
		v, err := b.rdb.RPopLPush(ctx, queue, procList).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			obs.RecordError(ctx, err)
			return items, &TransportError{Op: "pop_batch", Err: err}
		}
		items = append(items, v)
	}
	if len(items) > 0 {
		obs.SetSpanSuccess(ctx)
		obs.AddEvent(ctx, "batch_popped", obs.KeyValue("count", len(items)))
	}
	return items, nil
}

// Commit removes a successfully-terminal payload (stored or dead-lettered)
// from the worker's processing list, closing the reliable-pop obligation.
func (b *Broker) Commit(ctx context.Context, workerID, payload string) error {
	procList := b.processingListKey(workerID)
	return b.rdb.LRem(ctx, procList, 1, payload).Err()
}

// Heartbeat marks the worker alive so the reaper does not recover its
// processing list out from under it.
func (b *Broker) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	return b.rdb.Set(ctx, b.heartbeatKey(workerID), "1", ttl).Err()
}

// ClearHeartbeat removes the worker's heartbeat key, e.g. on clean shutdown.
func (b *Broker) ClearHeartbeat(ctx context.Context, workerID string) error {
	return b.rdb.Del(ctx, b.heartbeatKey(workerID)).Err()
}

// EnqueueDLQ appends an already-serialized DLQ entry to the DLQ list.
func (b *Broker) EnqueueDLQ(ctx context.Context, payload string) error {
	return b.Enqueue(ctx, b.cfg.DLQName, payload)
}
