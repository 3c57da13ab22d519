// Copyright 2025 James Ross
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/events"
	"github.com/llmscope/llmscope/internal/obs"
)

// EventReader is the read surface the Ingest Endpoint needs from the Event
// Store Adapter. Defined here, at the point of use, so handler tests can
// substitute a fake instead of requiring a live Postgres — the same
// seam worker.EventStore provides on the write side.
type EventReader interface {
	Recent(ctx context.Context, tenantID, projectID string, limit int) ([]*events.Event, error)
	Count(ctx context.Context, tenantID, projectID string) (int64, error)
}

type Server struct {
	cfg *config.Config
	br  *broker.Broker
	st  EventReader
}

func newServer(cfg *config.Config, br *broker.Broker, st EventReader) *Server {
	return &Server{cfg: cfg, br: br, st: st}
}

func (s *Server) scope() events.Scope {
	return events.Scope{TenantID: s.cfg.Scope.DefaultTenantID, ProjectID: s.cfg.Scope.DefaultProjectID}
}

// handleIngest implements POST /api/v1/events/ingest: normalize, enqueue,
// return the assigned ID. No backpressure: a healthy broker always accepts.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw events.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	e, err := events.Normalize(raw, s.scope())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.enqueue(r, e); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	obs.EventsIngested.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "event_id": e.ID})
}

// handleIngestBatch implements POST /api/v1/events/ingest/batch. Batch is
// not transactional: any normalization error across the whole batch fails
// it before anything is enqueued; a transport error partway through leaves
// the already-enqueued prefix in the queue (documented best-effort).
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []events.RawEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(body.Events) < 1 || len(body.Events) > 100 {
		writeError(w, http.StatusBadRequest, "batch size must be between 1 and 100")
		return
	}

	scope := s.scope()
	normalized := make([]*events.Event, 0, len(body.Events))
	for _, raw := range body.Events {
		e, err := events.Normalize(raw, scope)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		normalized = append(normalized, e)
	}

	ids := make([]string, 0, len(normalized))
	for _, e := range normalized {
		if err := s.enqueue(r, e); err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue failed after partial batch")
			return
		}
		ids = append(ids, e.ID)
	}

	obs.EventsIngested.Add(float64(len(ids)))
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "count": len(ids), "event_ids": ids})
}

func (s *Server) enqueue(r *http.Request, e *events.Event) error {
	e.TraceID, e.SpanID = obs.GetTraceAndSpanID(r.Context())
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	return s.br.Enqueue(r.Context(), s.br.QueueName(), payload)
}

// handleRecent implements GET /api/v1/events/recent?limit=N.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.HTTP.RecentDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > s.cfg.HTTP.RecentMaxLimit {
		limit = s.cfg.HTTP.RecentMaxLimit
	}

	scope := s.scope()
	recent, err := s.st.Recent(r.Context(), scope.TenantID, scope.ProjectID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recent, "count": len(recent)})
}

// handleStats implements GET /api/v1/events/stats, the Metrics Surface:
// point-in-time queue/dlq depths plus the stored event count for the
// current scope. processing_lag is reported as queue_length verbatim — a
// rough proxy, not a time measurement.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := s.scope()

	qlen, err := s.br.Length(ctx, s.br.QueueName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue length unavailable")
		return
	}
	dlqLen, err := s.br.Length(ctx, s.br.DLQName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq length unavailable")
		return
	}
	total, err := s.st.Count(ctx, scope.TenantID, scope.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue_length":        qlen,
		"dlq_length":          dlqLen,
		"total_events_stored": total,
		"queue_name":          s.br.QueueName(),
		"dlq_name":            s.br.DLQName(),
		"tenant_id":           scope.TenantID,
		"project_id":          scope.ProjectID,
		"processing_lag":      qlen,
	})
}

// handleQueueStats implements GET /api/v1/events/queue/stats: the same
// broker depths without the store-backed total, for operators who only
// care about queue health and don't want a database round trip.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qlen, err := s.br.Length(ctx, s.br.QueueName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue length unavailable")
		return
	}
	dlqLen, err := s.br.Length(ctx, s.br.DLQName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dlq length unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_length": qlen,
		"dlq_length":   dlqLen,
		"queue_name":   s.br.QueueName(),
		"dlq_name":     s.br.DLQName(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
