package usage

import (
	"log/slog"

	"llmrouter/internal/core"
)

// CalculateCost prices one call. Rates are per 1000 tokens. An unknown pricing
// type costs nothing and is logged.
func CalculateCost(provider string, u core.Usage, pricing core.Pricing) float64 {
	switch pricing.Type {
	case core.PricingFree:
		return 0
	case core.PricingFlat:
		return float64(u.TotalTokens) / 1000 * pricing.CostPer1K
	case core.PricingInputOutput:
		return float64(u.PromptTokens)/1000*pricing.InputCostPer1K +
			float64(u.CompletionTokens)/1000*pricing.OutputCostPer1K
	default:
		slog.Warn("unknown pricing type, cost recorded as zero",
			"provider", provider,
			"pricing_type", string(pricing.Type),
		)
		return 0
	}
}
