// Copyright 2025 James Ross
// Package events implements the Event Model & Normalizer: the canonical
// record flowing through the ingestion pipeline, and the steps that turn a
// client-submitted partial record into that canonical form.
package events

import (
	"encoding/json"
	"time"
)

// Event is the canonical record flowing from ingest through the queue into
// the store. The JSON tags are the queue wire format. The store writes only
// a subset of these fields as columns (see store.Store); endpoint,
// time_to_first_token_ms, messages, response, temperature, top_p,
// max_tokens, pii_detected, error_message and metadata are not persisted.
type Event struct {
	ID       string `json:"id"`
	Time     string `json:"time"`
	TenantID string `json:"tenant_id"`
	ProjectID string `json:"project_id"`

	Model    string `json:"model"`
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	TokensPrompt     int64 `json:"tokens_prompt"`
	TokensCompletion int64 `json:"tokens_completion"`
	TokensTotal      int64 `json:"tokens_total"`

	LatencyMs           int64 `json:"latency_ms"`
	TimeToFirstTokenMs  int64 `json:"time_to_first_token_ms,omitempty"`

	CostUSD float64 `json:"cost_usd"`

	Messages json.RawMessage `json:"messages,omitempty"`
	Response string          `json:"response,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`

	Status       string `json:"status"`
	HasError     bool   `json:"has_error"`
	PIIDetected  bool   `json:"pii_detected"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`

	// TraceID and SpanID carry W3C trace context through the queue so the
	// worker can reconstruct a remote-parent span for store-write tracing.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// Retries counts in-process retry attempts made by a worker; the store
	// writes it to the retries column alongside the event.
	Retries int `json:"retries,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ParsedTime parses the Time field, which is always set by the time
// normalization finishes.
func (e *Event) ParsedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Time)
}

// Marshal produces the canonical JSON string for queueing or storage.
func (e *Event) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal parses a payload popped from the queue. A parse failure here is
// the Unretriable error case: the payload goes straight to the DLQ.
func Unmarshal(payload string) (*Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DLQEntry wraps a failed event with the error that sent it there.
type DLQEntry struct {
	Event     json.RawMessage `json:"event"`
	Error     string          `json:"error"`
	Timestamp string          `json:"timestamp"`
	EventID   string          `json:"event_id"`
}

// NewDLQEntry builds a DLQ entry from a raw queue payload (which may not
// even be valid JSON) and the failure reason.
func NewDLQEntry(rawPayload string, eventID string, err error) DLQEntry {
	id := eventID
	if id == "" {
		id = "unknown"
	}
	event := json.RawMessage(rawPayload)
	if !json.Valid(event) {
		// Carry an unparseable payload as a JSON string so the entry itself
		// still marshals.
		quoted, _ := json.Marshal(rawPayload)
		event = quoted
	}
	return DLQEntry{
		Event:     event,
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventID:   id,
	}
}

func (d DLQEntry) Marshal() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
