// Copyright 2025 James Ross
// Package store implements the Event Store Adapter: durable, idempotent
// writes of normalized events into a time-partitioned Postgres/TimescaleDB
// table, plus the small read paths the HTTP surface needs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/llmscope/llmscope/internal/events"
	"github.com/llmscope/llmscope/internal/obs"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
}

func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Store writes e to llm_events. The (id, time) conflict target makes the
// write idempotent under at-least-once redelivery: a retried or
// reaper-recovered event that already landed is a silent no-op, not an
// error.
func (s *Store) Store(ctx context.Context, e *events.Event) error {
	t, err := e.ParsedTime()
	if err != nil {
		return fmt.Errorf("store: parse time: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_events (
			id, time, tenant_id, project_id, model, provider,
			tokens_prompt, tokens_completion, tokens_total, latency_ms,
			cost_usd, status, has_error, user_id, session_id,
			trace_id, span_id, retries
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (id, time) DO NOTHING
	`,
		e.ID, t, e.TenantID, e.ProjectID, e.Model, e.Provider,
		e.TokensPrompt, e.TokensCompletion, e.TokensTotal, e.LatencyMs,
		e.CostUSD, e.Status, e.HasError, e.UserID, e.SessionID,
		e.TraceID, e.SpanID, e.Retries,
	)
	if err != nil {
		obs.EventsFailed.Inc()
		return fmt.Errorf("store: insert: %w", err)
	}
	obs.EventsStored.Inc()
	return nil
}

// Recent returns the most recent limit events for a tenant/project, newest
// first. Backs GET /api/v1/events/recent.
func (s *Store) Recent(ctx context.Context, tenantID, projectID string, limit int) ([]*events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time, tenant_id, project_id, model, provider,
		       tokens_prompt, tokens_completion, tokens_total, latency_ms,
		       cost_usd, status, has_error, user_id, session_id,
		       trace_id, span_id, retries
		FROM llm_events
		WHERE tenant_id = $1 AND project_id = $2
		ORDER BY time DESC
		LIMIT $3
	`, tenantID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		e, t, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan recent: %w", err)
		}
		e.Time = t.Format(time.RFC3339Nano)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of events stored for a tenant/project.
// Backs the total_events_stored field of the Metrics Surface
// (GET /api/v1/events/stats); analytics aggregation (latency percentiles,
// cost rollups) is the continuous-aggregate views' job, not this adapter's
// — the core never queries hourly_stats/daily_stats itself.
func (s *Store) Count(ctx context.Context, tenantID, projectID string) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM llm_events WHERE tenant_id = $1 AND project_id = $2
	`, tenantID, projectID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func scanEvent(rows *sql.Rows) (*events.Event, time.Time, error) {
	var e events.Event
	var t time.Time
	err := rows.Scan(
		&e.ID, &t, &e.TenantID, &e.ProjectID, &e.Model, &e.Provider,
		&e.TokensPrompt, &e.TokensCompletion, &e.TokensTotal, &e.LatencyMs,
		&e.CostUSD, &e.Status, &e.HasError, &e.UserID, &e.SessionID,
		&e.TraceID, &e.SpanID, &e.Retries,
	)
	return &e, t, err
}
