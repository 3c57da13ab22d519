// Copyright 2025 James Ross
// Audit logging is grounded on internal/rbac-and-tokens/audit.go's use of
// lumberjack for rotation, preferred over admin-api/audit.go's hand-rolled
// rotation logic.
package httpapi

import (
	"encoding/json"
	"time"

	"github.com/llmscope/llmscope/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type AuditEntry struct {
	Timestamp  string `json:"timestamp"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	RequestID  string `json:"request_id"`
}

type AuditLogger struct {
	out *lumberjack.Logger
}

func NewAuditLogger(cfg config.Audit) *AuditLogger {
	return &AuditLogger{
		out: &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
	}
}

func (a *AuditLogger) Record(e AuditEntry) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = a.out.Write(b)
}

func (a *AuditLogger) Close() error { return a.out.Close() }
