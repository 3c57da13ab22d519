// Copyright 2025 James Ross
// Package httpapi implements the Ingest Endpoint and the read-only query
// surface layered on top of it, routed with gorilla/mux as the teacher does.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/llmscope/llmscope/internal/broker"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/livebus"
	"github.com/llmscope/llmscope/internal/store"
	"go.uber.org/zap"
)

// New builds the router: ingest and query routes behind API-key auth, plus
// the unauthenticated websocket upgrade for the live bus. Deliberately NOT
// wired: rate limiting on the ingest routes (spec.md §4.C requires no
// HTTP-layer backpressure).
func New(cfg *config.Config, br *broker.Broker, st *store.Store, hub *livebus.Hub, audit *AuditLogger, log *zap.Logger) http.Handler {
	s := newServer(cfg, br, st)
	r := mux.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(log))
	r.Use(CORSMiddleware(cfg))
	r.Use(AuditMiddleware(audit))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(APIKeyMiddleware(cfg))

	api.HandleFunc("/events/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/events/ingest/batch", s.handleIngestBatch).Methods(http.MethodPost)
	api.HandleFunc("/events/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/events/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events/queue/stats", s.handleQueueStats).Methods(http.MethodGet)

	r.Handle("/ws/events", hub).Methods(http.MethodGet)

	return r
}

// StartServer binds New's router on cfg.HTTP.ListenAddr.
func StartServer(cfg *config.Config, br *broker.Broker, st *store.Store, hub *livebus.Hub, audit *AuditLogger, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      New(cfg, br, st, hub, audit, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ingest http server stopped", zap.Error(err))
		}
	}()
	return srv
}

// Shutdown gracefully drains in-flight requests.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
