// Copyright 2025 James Ross
// Package worker implements the Worker Pool: the component that pops
// batches of events off the broker, writes them to the event store behind
// a circuit breaker, retries failed writes in-process with exponential
// backoff, and dead-letters events that exhaust their retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/llmscope/llmscope/internal/breaker"
	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/events"
	"github.com/llmscope/llmscope/internal/livebus"
	"github.com/llmscope/llmscope/internal/obs"
	"go.uber.org/zap"
)

// EventStore is the subset of the Event Store Adapter the worker needs.
// Defined here, rather than depended on concretely, so the retry/backoff/
// dead-letter ladder can be exercised against a fake in tests without a
// live Postgres.
type EventStore interface {
	Store(ctx context.Context, e *events.Event) error
}

type Worker struct {
	cfg    *config.Config
	br     *broker.Broker
	st     EventStore
	hub    *livebus.Hub
	log    *zap.Logger
	cb     *breaker.CircuitBreaker
	baseID string
}

func New(cfg *config.Config, br *broker.Broker, st EventStore, hub *livebus.Hub, log *zap.Logger) *Worker {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	host, _ := os.Hostname()
	pid := os.Getpid()
	randSfx := fmt.Sprintf("%04x", time.Now().UnixNano()&0xffff)
	base := fmt.Sprintf("%s-%d-%s", host, pid, randSfx)
	return &Worker{cfg: cfg, br: br, st: st, hub: hub, log: log, cb: cb, baseID: base}
}

func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Worker.Count; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", w.baseID, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			defer func() { _ = w.br.ClearHeartbeat(context.Background(), workerID) }()
			w.runOne(ctx, workerID)
		}(id)
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				switch w.cb.State() {
				case breaker.Closed:
					obs.CircuitBreakerState.Set(0)
				case breaker.HalfOpen:
					obs.CircuitBreakerState.Set(1)
				case breaker.Open:
					obs.CircuitBreakerState.Set(2)
				}
			}
		}
	}()

	wg.Wait()
	return nil
}

func (w *Worker) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		if !w.cb.Allow() {
			time.Sleep(w.cfg.Worker.BreakerPause)
			continue
		}

		if err := w.br.Heartbeat(ctx, workerID, w.cfg.Worker.HeartbeatTTL); err != nil {
			w.log.Warn("heartbeat set failed", obs.Err(err))
		}

		payloads, err := w.br.PopBatch(ctx, w.br.QueueName(), workerID, w.cfg.Worker.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("pop batch error", obs.Err(err))
			time.Sleep(w.cfg.Worker.BreakerPause)
			continue
		}
		if len(payloads) == 0 {
			time.Sleep(w.cfg.Worker.PollInterval)
			continue
		}

		obs.EventsConsumed.Add(float64(len(payloads)))
		for _, payload := range payloads {
			w.processPayload(ctx, workerID, payload)
		}
	}
}

// processPayload owns one popped payload end to end: parse, store (with
// retry-then-dead-letter on failure), and finally commit it out of the
// worker's processing list so the reaper no longer considers it abandoned.
func (w *Worker) processPayload(ctx context.Context, workerID, payload string) {
	defer func() {
		if err := w.br.Commit(ctx, workerID, payload); err != nil {
			w.log.Warn("commit failed", obs.Err(err), obs.String("worker_id", workerID))
		}
	}()

	e, err := events.Unmarshal(payload)
	if err != nil {
		w.deadLetter(ctx, payload, "unknown", err)
		return
	}

	for {
		start := time.Now()
		storeErr := w.writeWithBreaker(ctx, e)
		obs.EventProcessingDuration.Observe(time.Since(start).Seconds())

		if storeErr == nil {
			w.notifyLiveBus()
			return
		}

		e.Retries++
		if e.Retries > w.cfg.Worker.MaxRetries {
			w.deadLetter(ctx, mustMarshal(e, payload), e.ID, storeErr)
			return
		}

		obs.EventsRetried.Inc()
		bo := backoff(e.Retries, w.cfg.Worker.Backoff.Base, w.cfg.Worker.Backoff.Max)
		w.log.Warn("store write failed, retrying", obs.String("id", e.ID), obs.Int("retries", e.Retries), obs.Err(storeErr))
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo):
		}
	}
}

var errBreakerOpen = errors.New("circuit breaker open")

// writeWithBreaker guards the store write with the circuit breaker: when
// the breaker is open the write is not attempted at all, counting as a
// failure for retry purposes so the event still works through the backoff
// ladder instead of spinning tight against a known-down store. The HalfOpen
// probe is admitted by runOne's Allow, so writes in that batch go through
// and their result closes or reopens the breaker.
func (w *Worker) writeWithBreaker(ctx context.Context, e *events.Event) error {
	if w.cb.State() == breaker.Open {
		return errBreakerOpen
	}
	ctx, span := obs.ContextWithEventSpan(ctx, e)
	defer span.End()

	err := w.st.Store(ctx, e)
	prev := w.cb.State()
	w.cb.Record(err == nil)
	curr := w.cb.State()
	if prev != curr && curr == breaker.Open {
		obs.CircuitBreakerTrips.Inc()
	}
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

func (w *Worker) notifyLiveBus() {
	if w.hub == nil {
		return
	}
	w.hub.Publish(livebus.NewTick())
}

func (w *Worker) deadLetter(ctx context.Context, rawPayload, eventID string, cause error) {
	entry := events.NewDLQEntry(rawPayload, eventID, cause)
	dlqPayload, err := entry.Marshal()
	if err != nil {
		w.log.Error("failed to marshal DLQ entry", obs.Err(err))
		return
	}
	if err := w.br.EnqueueDLQ(ctx, dlqPayload); err != nil {
		w.log.Error("failed to enqueue DLQ entry", obs.Err(err))
		return
	}
	obs.EventsDeadLetter.Inc()
	w.log.Error("event dead-lettered", obs.String("id", eventID), obs.Err(cause))
}

func mustMarshal(e *events.Event, fallback string) string {
	b, err := e.Marshal()
	if err != nil {
		return fallback
	}
	return b
}

// backoff implements base_seconds^(retries-1): with the default 2s base,
// 1/2/4/8... seconds rather than a doubling multiplier on top of base.
func backoff(retries int, base, max time.Duration) time.Duration {
	if retries < 1 {
		retries = 1
	}
	seconds := math.Pow(base.Seconds(), float64(retries-1))
	d := time.Duration(seconds * float64(time.Second))
	if d > max || d <= 0 {
		return max
	}
	return d
}
