// Copyright 2025 James Ross
package reaper

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testReaper(t *testing.T) (*Reaper, *config.Config, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{
		Redis: config.Redis{Addr: mr.Addr()},
		Broker: config.Broker{
			QueueName:             "llmscope:events",
			DLQName:               "llmscope:events:dlq",
			ProcessingListPattern: "llmscope:worker:%s:processing",
			HeartbeatKeyPattern:   "llmscope:worker:%s:heartbeat",
		},
	}
	log := zap.NewNop()
	return New(cfg, rdb, log), cfg, rdb, mr
}

func TestReaper_RequeuesAbandonedProcessingList(t *testing.T) {
	rep, cfg, rdb, mr := testReaper(t)
	ctx := context.Background()

	workerID := "w1"
	plist := broker.ProcessingListKey(cfg.Broker, workerID)
	hbKey := broker.HeartbeatKey(cfg.Broker, workerID)

	require.NoError(t, rdb.LPush(ctx, plist, `{"id":"e1"}`).Err())

	rep.scanOnce(ctx)

	n, err := rdb.LLen(ctx, cfg.Broker.QueueName).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.False(t, mr.Exists(hbKey))
}

func TestReaper_SkipsListWithLiveHeartbeat(t *testing.T) {
	rep, cfg, rdb, _ := testReaper(t)
	ctx := context.Background()

	workerID := "w2"
	plist := broker.ProcessingListKey(cfg.Broker, workerID)
	hbKey := broker.HeartbeatKey(cfg.Broker, workerID)

	require.NoError(t, rdb.LPush(ctx, plist, `{"id":"e2"}`).Err())
	require.NoError(t, rdb.Set(ctx, hbKey, "1", 0).Err())

	rep.scanOnce(ctx)

	n, err := rdb.LLen(ctx, cfg.Broker.QueueName).Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	remaining, err := rdb.LLen(ctx, plist).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, remaining)
}

func TestReaper_DrainsMultipleAbandonedPayloads(t *testing.T) {
	rep, cfg, rdb, _ := testReaper(t)
	ctx := context.Background()

	workerID := "w3"
	plist := broker.ProcessingListKey(cfg.Broker, workerID)

	require.NoError(t, rdb.LPush(ctx, plist, `{"id":"a"}`).Err())
	require.NoError(t, rdb.LPush(ctx, plist, `{"id":"b"}`).Err())
	require.NoError(t, rdb.LPush(ctx, plist, `{"id":"c"}`).Err())

	rep.scanOnce(ctx)

	n, err := rdb.LLen(ctx, cfg.Broker.QueueName).Result()
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	remaining, err := rdb.LLen(ctx, plist).Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, remaining)
}
