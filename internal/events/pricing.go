// Copyright 2025 James Ross
package events

import "math"

// priceRate is a per-1000-token rate pair.
type priceRate struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// pricingTable is the static model pricing table. Additions require a
// deploy — this is a deliberate simplification carried from the original
// system (original_source/backend/app/core/metrics.py:calculate_cost).
var pricingTable = map[string]priceRate{
	"gpt-4":           {PromptPer1K: 0.03, CompletionPer1K: 0.06},
	"gpt-3.5-turbo":    {PromptPer1K: 0.0015, CompletionPer1K: 0.002},
	"claude-3-opus":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
	"claude-3-sonnet": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
}

// calculateCost prices an event purely from (model, tokens_prompt,
// tokens_completion). Unknown models price to zero rather than rejecting —
// cost derivation never fails.
func calculateCost(model string, tokensPrompt, tokensCompletion int64) float64 {
	rate, ok := pricingTable[model]
	if !ok {
		return 0
	}
	cost := float64(tokensPrompt)/1000*rate.PromptPer1K + float64(tokensCompletion)/1000*rate.CompletionPer1K
	return roundToMicros(cost)
}

// roundToMicros rounds to 6 decimal places, matching the store's fixed-point
// (10,6) cost_usd column.
func roundToMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
