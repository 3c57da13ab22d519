// Copyright 2025 James Ross
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawEvent is the client-submitted partial record accepted at the ingest
// boundary, before normalization. Pointer fields distinguish "absent" from
// "zero value" for the fields normalization is allowed to fill in.
type RawEvent struct {
	ID       string `json:"id,omitempty"`
	Time     string `json:"time,omitempty"`

	Model    *string `json:"model,omitempty"`
	Provider *string `json:"provider,omitempty"`
	Endpoint string  `json:"endpoint,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	TokensPrompt     *int64 `json:"tokens_prompt,omitempty"`
	TokensCompletion *int64 `json:"tokens_completion,omitempty"`
	TokensTotal      *int64 `json:"tokens_total,omitempty"`

	LatencyMs          *int64 `json:"latency_ms,omitempty"`
	TimeToFirstTokenMs int64  `json:"time_to_first_token_ms,omitempty"`

	CostUSD *float64 `json:"cost_usd,omitempty"`

	Messages json.RawMessage `json:"messages,omitempty"`
	Response string          `json:"response,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`

	Status       string `json:"status,omitempty"`
	PIIDetected  bool   `json:"pii_detected,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Normalize turns a client-submitted partial record into a canonical Event,
// following the steps of spec.md §4.B in order: reject, scope-inject,
// identity, derive, price, serialize (serialization happens at the caller
// via Event.Marshal).
func Normalize(raw RawEvent, scope Scope) (*Event, error) {
	if raw.Model == nil || *raw.Model == "" {
		return nil, missingField("model")
	}
	if raw.Provider == nil || *raw.Provider == "" {
		return nil, missingField("provider")
	}
	if raw.TokensPrompt == nil {
		return nil, missingField("tokens_prompt")
	}
	if raw.TokensCompletion == nil {
		return nil, missingField("tokens_completion")
	}
	if raw.LatencyMs == nil {
		return nil, missingField("latency_ms")
	}
	if *raw.TokensPrompt < 0 || *raw.TokensCompletion < 0 {
		return nil, &ValidationError{Field: "tokens_prompt/tokens_completion", Msg: "must be non-negative"}
	}
	if *raw.LatencyMs < 0 {
		return nil, &ValidationError{Field: "latency_ms", Msg: "must be non-negative"}
	}

	e := &Event{
		ID:                 raw.ID,
		Time:               raw.Time,
		TenantID:           scope.TenantID,
		ProjectID:          scope.ProjectID,
		Model:              *raw.Model,
		Provider:           *raw.Provider,
		Endpoint:           raw.Endpoint,
		UserID:             raw.UserID,
		SessionID:          raw.SessionID,
		TokensPrompt:       *raw.TokensPrompt,
		TokensCompletion:   *raw.TokensCompletion,
		LatencyMs:          *raw.LatencyMs,
		TimeToFirstTokenMs: raw.TimeToFirstTokenMs,
		Messages:           raw.Messages,
		Response:           raw.Response,
		Temperature:        raw.Temperature,
		TopP:               raw.TopP,
		MaxTokens:          raw.MaxTokens,
		Status:             raw.Status,
		PIIDetected:        raw.PIIDetected,
		ErrorMessage:       raw.ErrorMessage,
		Metadata:           raw.Metadata,
		TraceID:            raw.TraceID,
		SpanID:             raw.SpanID,
	}

	// Identity.
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time == "" {
		e.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}

	// Status defaults and has_error derivation.
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	e.HasError = e.Status == StatusError

	// tokens_total is always derived, even if the client sent one: the
	// invariant tokens_total == tokens_prompt + tokens_completion must hold
	// at write, so a client-supplied value cannot be trusted to stand.
	e.TokensTotal = e.TokensPrompt + e.TokensCompletion

	// Price if absent.
	if raw.CostUSD != nil {
		e.CostUSD = roundToMicros(*raw.CostUSD)
	} else {
		e.CostUSD = calculateCost(e.Model, e.TokensPrompt, e.TokensCompletion)
	}

	return e, nil
}
