// Package cost prices LLM calls against a frozen per-model pricing table.
package cost

import (
	"log/slog"
	"strings"
)

// Pricing is USD per 1,000,000 tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// modelPricing mirrors the original implementation's pricing table.
var modelPricing = map[string]Pricing{
	// Anthropic
	"claude-sonnet-4-20250514": {InputPer1M: 3.0, OutputPer1M: 15.0},
	"claude-haiku-4-20250514":  {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-opus-4-20250514":   {InputPer1M: 15.0, OutputPer1M: 75.0},
	// OpenAI
	"gpt-4o":      {InputPer1M: 2.5, OutputPer1M: 10.0},
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.6},
	"gpt-4-turbo": {InputPer1M: 10.0, OutputPer1M: 30.0},
	// Google
	"gemini-2.5-flash": {InputPer1M: 0.15, OutputPer1M: 0.6},
	"gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.0},
}

// Result is the priced outcome of one LLM call.
type Result struct {
	Model          string  `json:"model"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	InputCostUSD   float64 `json:"input_cost_usd"`
	OutputCostUSD  float64 `json:"output_cost_usd"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// Tracker looks up pricing and computes the USD cost of a call.
type Tracker struct {
	logger *slog.Logger
}

// NewTracker builds a Tracker. A nil logger falls back to slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger.With("component", "cost.tracker")}
}

// LookupPricing resolves a model name to its pricing: exact match first,
// then case-insensitive substring match in either direction (defensive
// against version-suffixed model names), else (Pricing{}, false).
func LookupPricing(model string) (Pricing, bool) {
	if p, ok := modelPricing[model]; ok {
		return p, true
	}
	lower := strings.ToLower(model)
	for key, p := range modelPricing {
		keyLower := strings.ToLower(key)
		if strings.Contains(lower, keyLower) || strings.Contains(keyLower, lower) {
			return p, true
		}
	}
	return Pricing{}, false
}

// Price computes the USD cost of a call. An unknown model prices at 0.0 and
// logs a warning.
func (t *Tracker) Price(model string, inputTokens, outputTokens int) Result {
	pricing, ok := LookupPricing(model)
	if !ok {
		t.logger.Warn("unregistered model, pricing as 0.0", "model", model)
		return Result{Model: model, InputTokens: inputTokens, OutputTokens: outputTokens}
	}
	inputCost := float64(inputTokens) * pricing.InputPer1M / 1_000_000
	outputCost := float64(outputTokens) * pricing.OutputPer1M / 1_000_000
	return Result{
		Model:         model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		InputCostUSD:  inputCost,
		OutputCostUSD: outputCost,
		TotalCostUSD:  inputCost + outputCost,
	}
}

// SupportedModels returns every model name registered in the pricing table.
func SupportedModels() []string {
	out := make([]string, 0, len(modelPricing))
	for k := range modelPricing {
		out = append(out, k)
	}
	return out
}
