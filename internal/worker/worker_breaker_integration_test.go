// Copyright 2025 James Ross
package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/llmscope/llmscope/internal/breaker"
	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/events"
	"github.com/llmscope/llmscope/internal/livebus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// alwaysFailStore fails every write, to force the breaker open.
type alwaysFailStore struct{}

func (alwaysFailStore) Store(ctx context.Context, e *events.Event) error {
	return errors.New("simulated downstream outage")
}

// TestWorkerBreakerTripsAndPausesConsumption verifies that repeated
// store-write failures trip the circuit breaker and that, while Open, the
// worker stops draining the queue until the cooldown elapses.
func TestWorkerBreakerTripsAndPausesConsumption(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		Broker: config.Broker{
			QueueName:             "llmscope:events",
			DLQName:               "llmscope:events:dlq",
			ProcessingListPattern: "llmscope:worker:%s:processing",
			HeartbeatKeyPattern:   "llmscope:worker:%s:heartbeat",
		},
		Worker: config.Worker{
			Count:        1,
			BatchSize:    10,
			PollInterval: 5 * time.Millisecond,
			HeartbeatTTL: 30 * time.Second,
			MaxRetries:   1,
			Backoff:      config.Backoff{Base: 1 * time.Millisecond, Max: 2 * time.Millisecond},
			BreakerPause: 5 * time.Millisecond,
		},
		CircuitBreaker: config.CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           20 * time.Millisecond,
			CooldownPeriod:   100 * time.Millisecond,
			MinSamples:       1,
		},
	}

	br := broker.New(rdb, cfg.Broker)
	hub := livebus.NewHub(4, zap.NewNop())
	w := New(cfg, br, alwaysFailStore{}, hub, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := &events.Event{ID: "id-fail", Time: "2026-01-01T00:00:00Z", Model: "gpt-4", Provider: "openai"}
		payload, err := e.Marshal()
		require.NoError(t, err)
		require.NoError(t, br.Enqueue(ctx, br.QueueName(), payload))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	opened := false
	for time.Now().Before(deadline) {
		if w.cb.State() == breaker.Open {
			opened = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !opened {
		cancel()
		<-done
		t.Fatalf("breaker did not open under failures")
	}

	n1, err := br.Length(context.Background(), br.QueueName())
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // less than cooldown
	n2, err := br.Length(context.Background(), br.QueueName())
	require.NoError(t, err)
	if n2 < n1 {
		cancel()
		<-done
		t.Fatalf("queue drained during breaker open: before=%d after=%d", n1, n2)
	}

	cancel()
	<-done
}
