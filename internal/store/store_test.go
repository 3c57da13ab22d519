//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package store

import (
	"context"
	"os"
	"testing"

	"github.com/llmscope/llmscope/internal/events"
	"github.com/stretchr/testify/require"
)

// These tests require a live Postgres/TimescaleDB reachable at
// LLMSCOPE_TEST_DATABASE_URL, loaded with schema.sql. lib/pq's $N
// placeholder dialect and the (id, time) ON CONFLICT target are
// Postgres-specific, so unlike the broker and reaper packages this adapter
// has no faithful in-memory substitute.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("LLMSCOPE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LLMSCOPE_TEST_DATABASE_URL not set")
	}
	s, err := Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_WriteThenRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &events.Event{
		ID: "store-test-1", Time: "2026-01-01T00:00:00Z",
		TenantID: "t1", ProjectID: "p1", Model: "gpt-4", Provider: "openai",
		TokensPrompt: 100, TokensCompletion: 50, TokensTotal: 150,
		LatencyMs: 200, CostUSD: 0.006, Status: events.StatusSuccess,
	}
	require.NoError(t, s.Store(ctx, e))

	recent, err := s.Recent(ctx, "t1", "p1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	require.Equal(t, "store-test-1", recent[0].ID)
}

func TestStore_WriteIsIdempotentOnConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &events.Event{
		ID: "store-test-2", Time: "2026-01-01T00:00:00Z",
		TenantID: "t1", ProjectID: "p1", Model: "gpt-4", Provider: "openai",
		TokensPrompt: 10, TokensCompletion: 5, TokensTotal: 15,
		LatencyMs: 10, CostUSD: 0.001, Status: events.StatusSuccess,
	}
	require.NoError(t, s.Store(ctx, e))
	require.NoError(t, s.Store(ctx, e))
}
