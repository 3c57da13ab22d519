// Copyright 2025 James Ross
package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func testScope() Scope {
	return Scope{TenantID: "tenant-1", ProjectID: "project-1"}
}

func TestNormalize_HappyPath(t *testing.T) {
	raw := RawEvent{
		Model:            ptr("gpt-4"),
		Provider:         ptr("openai"),
		TokensPrompt:     ptr(int64(1000)),
		TokensCompletion: ptr(int64(500)),
		LatencyMs:        ptr(int64(1200)),
	}
	e, err := Normalize(raw, testScope())
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Time)
	assert.Equal(t, int64(1500), e.TokensTotal)
	assert.Equal(t, 0.06, e.CostUSD)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.False(t, e.HasError)
	assert.Equal(t, "tenant-1", e.TenantID)
	assert.Equal(t, "project-1", e.ProjectID)
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		raw  RawEvent
	}{
		{"missing model", RawEvent{Provider: ptr("openai"), TokensPrompt: ptr(int64(1)), TokensCompletion: ptr(int64(1)), LatencyMs: ptr(int64(1))}},
		{"missing provider", RawEvent{Model: ptr("gpt-4"), TokensPrompt: ptr(int64(1)), TokensCompletion: ptr(int64(1)), LatencyMs: ptr(int64(1))}},
		{"missing tokens_prompt", RawEvent{Model: ptr("gpt-4"), Provider: ptr("openai"), TokensCompletion: ptr(int64(1)), LatencyMs: ptr(int64(1))}},
		{"missing tokens_completion", RawEvent{Model: ptr("gpt-4"), Provider: ptr("openai"), TokensPrompt: ptr(int64(1)), LatencyMs: ptr(int64(1))}},
		{"missing latency_ms", RawEvent{Model: ptr("gpt-4"), Provider: ptr("openai"), TokensPrompt: ptr(int64(1)), TokensCompletion: ptr(int64(1))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.raw, testScope())
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestNormalize_TokensTotalDerivedEvenIfSupplied(t *testing.T) {
	raw := RawEvent{
		Model:            ptr("gpt-4"),
		Provider:         ptr("openai"),
		TokensPrompt:     ptr(int64(10)),
		TokensCompletion: ptr(int64(5)),
		LatencyMs:        ptr(int64(50)),
		TokensTotal:      ptr(int64(999)),
	}
	e, err := Normalize(raw, testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(15), e.TokensTotal)
}

func TestNormalize_UnknownModelZeroCost(t *testing.T) {
	raw := RawEvent{
		Model:            ptr("mystery-x"),
		Provider:         ptr("x"),
		TokensPrompt:     ptr(int64(10)),
		TokensCompletion: ptr(int64(10)),
		LatencyMs:        ptr(int64(50)),
	}
	e, err := Normalize(raw, testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(0), e.CostUSD)
}

func TestCalculateCost_Pure(t *testing.T) {
	c1 := calculateCost("claude-3-sonnet", 2000, 1000)
	c2 := calculateCost("claude-3-sonnet", 2000, 1000)
	assert.Equal(t, c1, c2)
	assert.Equal(t, roundToMicros(2*0.003+1*0.015), c1)
}

func TestNormalize_IdentityPreservedOnRetry(t *testing.T) {
	raw := RawEvent{
		ID:               "11111111-1111-1111-1111-111111111111",
		Model:            ptr("gpt-4"),
		Provider:         ptr("openai"),
		TokensPrompt:     ptr(int64(1)),
		TokensCompletion: ptr(int64(1)),
		LatencyMs:        ptr(int64(1)),
	}
	e1, err := Normalize(raw, testScope())
	require.NoError(t, err)
	e2, err := Normalize(raw, testScope())
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
}
