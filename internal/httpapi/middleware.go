// Copyright 2025 James Ross
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/llmscope/llmscope/internal/config"
	"github.com/llmscope/llmscope/internal/obs"
	"go.uber.org/zap"
)

// APIKeyMiddleware is adapted down from the teacher's bearer-JWT
// AuthMiddleware to spec.md §6's simpler model: one static key compared
// against a configurable header, constant-time to avoid a timing
// side-channel on the comparison.
func APIKeyMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	header := cfg.HTTP.APIKeyHeader
	key := []byte(cfg.HTTP.APIKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(header))
			if len(got) != len(key) || subtle.ConstantTimeCompare(got, key) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// RequestIDMiddleware stamps every request with an ID for correlation
// across logs, metrics, and the audit trail.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware converts a panic in a handler into a 500 instead of
// taking down the listener goroutine.
func RecoveryMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered in handler", obs.String("path", r.URL.Path), obs.String("panic", toString(rec)))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows the configured origins to call the ingest and
// query endpoints from a browser-hosted dashboard.
func CORSMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	origins := cfg.HTTP.CORSOrigins
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+"X-API-Key")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// AuditMiddleware records every request's method, path, status, and
// duration to the audit logger. Ingest is the only route with
// externally-visible side effects worth auditing in this system.
func AuditMiddleware(audit *AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			audit.Record(AuditEntry{
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rw.status,
				DurationMs: time.Since(start).Milliseconds(),
				RequestID:  w.Header().Get("X-Request-ID"),
			})
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}
