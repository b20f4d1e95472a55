package config

import "strings"

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPricing maps model base names to their pricing.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-5":   {InputPerMTok: 5.00, OutputPerMTok: 25.00},
	"claude-opus-4-1":   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-opus-4":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4-5": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-sonnet-4":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-4-5":  {InputPerMTok: 1.00, OutputPerMTok: 5.00},
	"claude-haiku-3-5":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
}

// FallbackPricing is used for models absent from the table. Unknown models
// cost something, not nothing, so sessions never silently price at zero.
var FallbackPricing = ModelPricing{InputPerMTok: 3.00, OutputPerMTok: 15.00}

// NormalizeModelName strips date suffixes from model identifiers.
// e.g., "claude-sonnet-4-5-20250929" -> "claude-sonnet-4-5"
func NormalizeModelName(raw string) string {
	if _, ok := DefaultPricing[raw]; ok {
		return raw
	}

	// Strip the last segment if it looks like a date (8+ digits)
	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if _, ok := DefaultPricing[candidate]; ok {
				return candidate
			}
		}
	}

	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// LookupPricing returns the pricing for a model, normalizing the name first.
// Unknown models fall back to FallbackPricing; ok reports whether the model
// was found in the table.
func LookupPricing(model string) (ModelPricing, bool) {
	p, ok := DefaultPricing[NormalizeModelName(model)]
	if !ok {
		return FallbackPricing, false
	}
	return p, true
}

// CalculateCost computes the estimated cost in USD for the given token counts
// against the default table. Override-aware callers go through a PriceTable.
func CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	return PriceTable{}.Cost(model, inputTokens, outputTokens)
}

// PriceTable resolves model pricing with user overrides applied over the
// default table. The zero value resolves against the defaults alone.
type PriceTable struct {
	overrides map[string]ModelPricing
}

// Table materializes the configured overrides. Partial overrides keep the
// unset rate from the default (or fallback) pricing for that model.
func (p PricingOverrides) Table() PriceTable {
	if len(p.Overrides) == 0 {
		return PriceTable{}
	}

	merged := make(map[string]ModelPricing, len(p.Overrides))
	for model, o := range p.Overrides {
		base, _ := LookupPricing(model)
		if o.InputPerMTok != nil {
			base.InputPerMTok = *o.InputPerMTok
		}
		if o.OutputPerMTok != nil {
			base.OutputPerMTok = *o.OutputPerMTok
		}
		merged[NormalizeModelName(model)] = base
	}
	return PriceTable{overrides: merged}
}

// Lookup returns the pricing for a model, preferring overrides.
func (t PriceTable) Lookup(model string) (ModelPricing, bool) {
	if p, ok := t.overrides[NormalizeModelName(model)]; ok {
		return p, true
	}
	return LookupPricing(model)
}

// Cost computes the estimated cost in USD for the given token counts.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int64) float64 {
	pricing, _ := t.Lookup(model)
	cost := float64(inputTokens) * pricing.InputPerMTok / 1_000_000
	cost += float64(outputTokens) * pricing.OutputPerMTok / 1_000_000
	return cost
}
