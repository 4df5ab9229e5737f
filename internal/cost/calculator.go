// Package cost estimates the USD cost of enrichment calls.
package cost

import (
	"sort"

	"github.com/rotisserie/eris"
)

// ContextSize selects the per-request fee band of a search call.
type ContextSize string

const (
	ContextLow    ContextSize = "low"
	ContextMedium ContextSize = "medium"
	ContextHigh   ContextSize = "high"
)

// Rates is the pricing table, keyed by model identifier.
type Rates struct {
	Perplexity map[string]ModelRate `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens) and the
// per-request fee for each search context size.
type ModelRate struct {
	Input      float64                 `yaml:"input" mapstructure:"input"`
	Output     float64                 `yaml:"output" mapstructure:"output"`
	RequestFee map[ContextSize]float64 `yaml:"request_fee" mapstructure:"request_fee"`
}

// Validate rejects negative prices and fees.
func (r Rates) Validate() error {
	for _, model := range r.Models() {
		rate := r.Perplexity[model]
		if rate.Input < 0 || rate.Output < 0 {
			return eris.Errorf("cost: model %s has a negative token price", model)
		}
		for size, fee := range rate.RequestFee {
			if fee < 0 {
				return eris.Errorf("cost: model %s has a negative %s request fee", model, size)
			}
		}
	}
	return nil
}

// Models returns the priced model identifiers in sorted order.
func (r Rates) Models() []string {
	models := make([]string, 0, len(r.Perplexity))
	for m := range r.Perplexity {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Calculator computes cost estimates from a pricing table.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate returns the estimated USD cost of one search call. The second
// return value is false when the estimate is unknown: the model is not
// priced, a token count is negative, or the context size has no fee.
//
// The value is advisory and is never used for billing reconciliation.
func (c *Calculator) Estimate(model string, promptTokens, completionTokens int, size ContextSize) (float64, bool) {
	rate, ok := c.rates.Perplexity[model]
	if !ok {
		return 0, false
	}
	if promptTokens < 0 || completionTokens < 0 {
		return 0, false
	}
	fee, ok := rate.RequestFee[size]
	if !ok {
		return 0, false
	}

	inCost := (float64(promptTokens) / 1e6) * rate.Input
	outCost := (float64(completionTokens) / 1e6) * rate.Output

	return inCost + outCost + fee, true
}

// DefaultRates returns the published Perplexity prices. They are estimates;
// the provider's invoice may differ by rounding.
func DefaultRates() Rates {
	return Rates{
		Perplexity: map[string]ModelRate{
			"sonar": {
				Input: 1.0, Output: 1.0,
				RequestFee: map[ContextSize]float64{
					ContextLow: 0.005, ContextMedium: 0.008, ContextHigh: 0.012,
				},
			},
			"sonar-pro": {
				Input: 3.0, Output: 15.0,
				RequestFee: map[ContextSize]float64{
					ContextLow: 0.006, ContextMedium: 0.010, ContextHigh: 0.014,
				},
			},
		},
	}
}
