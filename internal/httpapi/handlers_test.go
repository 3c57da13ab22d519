// Copyright 2025 James Ross
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeEventReader is a fake httpapi.EventReader so handler tests never need
// a live Postgres, mirroring worker.EventStore's fakeStore on the write side.
type fakeEventReader struct {
	recent []*events.Event
	count  int64
	err    error
}

func (f *fakeEventReader) Recent(ctx context.Context, tenantID, projectID string, limit int) ([]*events.Event, error) {
	return f.recent, f.err
}

func (f *fakeEventReader) Count(ctx context.Context, tenantID, projectID string) (int64, error) {
	return f.count, f.err
}

func testServerAndBroker(t *testing.T, st EventReader) (*Server, *broker.Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{
		Broker: config.Broker{
			QueueName:             "llmscope:events",
			DLQName:               "llmscope:events:dlq",
			ProcessingListPattern: "llmscope:worker:%s:processing",
			HeartbeatKeyPattern:   "llmscope:worker:%s:heartbeat",
		},
		HTTP: config.HTTP{
			APIKey:             "test-key",
			APIKeyHeader:       "X-API-Key",
			RecentDefaultLimit: 50,
			RecentMaxLimit:     1000,
		},
		Scope: config.Scope{DefaultTenantID: "t1", DefaultProjectID: "p1"},
	}
	br := broker.New(rdb, cfg.Broker)
	return newServer(cfg, br, st), br
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleIngest_HappyPath(t *testing.T) {
	s, br := testServerAndBroker(t, &fakeEventReader{})
	body := map[string]any{
		"model": "gpt-4", "provider": "openai",
		"tokens_prompt": 1000, "tokens_completion": 500, "latency_ms": 1200,
	}
	rec := postJSON(t, s.handleIngest, "/api/v1/events/ingest", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp["status"])
	require.NotEmpty(t, resp["event_id"])

	n, err := br.Length(context.Background(), br.QueueName())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestHandleIngest_MissingRequiredField(t *testing.T) {
	s, _ := testServerAndBroker(t, &fakeEventReader{})
	body := map[string]any{"model": "gpt-4", "provider": "openai", "tokens_prompt": 1000, "tokens_completion": 500}
	rec := postJSON(t, s.handleIngest, "/api/v1/events/ingest", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestBatch_BoundaryBehavior(t *testing.T) {
	s, _ := testServerAndBroker(t, &fakeEventReader{})

	validEvent := map[string]any{
		"model": "gpt-4", "provider": "openai",
		"tokens_prompt": 10, "tokens_completion": 5, "latency_ms": 100,
	}

	t.Run("zero events rejected", func(t *testing.T) {
		rec := postJSON(t, s.handleIngestBatch, "/api/v1/events/ingest/batch", map[string]any{"events": []any{}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("101 events rejected", func(t *testing.T) {
		events := make([]any, 101)
		for i := range events {
			events[i] = validEvent
		}
		rec := postJSON(t, s.handleIngestBatch, "/api/v1/events/ingest/batch", map[string]any{"events": events})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("100 events accepted", func(t *testing.T) {
		events := make([]any, 100)
		for i := range events {
			events[i] = validEvent
		}
		rec := postJSON(t, s.handleIngestBatch, "/api/v1/events/ingest/batch", map[string]any{"events": events})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.EqualValues(t, 100, resp["count"])
	})
}

func TestHandleIngestBatch_PartialFailureRejectsWholeBatchBeforeEnqueue(t *testing.T) {
	s, br := testServerAndBroker(t, &fakeEventReader{})

	valid := map[string]any{"model": "gpt-4", "provider": "openai", "tokens_prompt": 10, "tokens_completion": 5, "latency_ms": 100}
	invalid := map[string]any{"model": "gpt-4", "provider": "openai", "tokens_completion": 5, "latency_ms": 100} // missing tokens_prompt

	rec := postJSON(t, s.handleIngestBatch, "/api/v1/events/ingest/batch", map[string]any{"events": []any{valid, invalid}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := br.Length(context.Background(), br.QueueName())
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "no events should be enqueued when any event in the batch fails normalization")
}

func TestHandleRecent_RejectsNonPositiveLimit(t *testing.T) {
	s, _ := testServerAndBroker(t, &fakeEventReader{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/recent?limit=0", nil)
	rec := httptest.NewRecorder()
	s.handleRecent(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecent_ReturnsStoredEvents(t *testing.T) {
	fake := &fakeEventReader{recent: []*events.Event{{ID: "evt-1"}, {ID: "evt-2"}}}
	s, _ := testServerAndBroker(t, fake)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/recent", nil)
	rec := httptest.NewRecorder()
	s.handleRecent(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp["count"])
}

func TestHandleStats_ComposesSpecShapeFromBrokerAndStore(t *testing.T) {
	fake := &fakeEventReader{count: 42}
	s, br := testServerAndBroker(t, fake)

	ctx := context.Background()
	require.NoError(t, br.Enqueue(ctx, br.QueueName(), "p1"))
	require.NoError(t, br.Enqueue(ctx, br.QueueName(), "p2"))
	require.NoError(t, br.EnqueueDLQ(ctx, "d1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp["queue_length"])
	require.EqualValues(t, 1, resp["dlq_length"])
	require.EqualValues(t, 42, resp["total_events_stored"])
	require.Equal(t, br.QueueName(), resp["queue_name"])
	require.Equal(t, br.DLQName(), resp["dlq_name"])
	require.Equal(t, "t1", resp["tenant_id"])
	require.Equal(t, "p1", resp["project_id"])
	require.EqualValues(t, 2, resp["processing_lag"], "processing_lag must be reported as queue_length verbatim")
}

func TestHandleQueueStats(t *testing.T) {
	s, br := testServerAndBroker(t, &fakeEventReader{})
	ctx := context.Background()
	require.NoError(t, br.Enqueue(ctx, br.QueueName(), "p1"))
	require.NoError(t, br.EnqueueDLQ(ctx, "d1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/queue/stats", nil)
	rec := httptest.NewRecorder()
	s.handleQueueStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp["queue_length"])
	require.EqualValues(t, 1, resp["dlq_length"])
}
