// Package builtins provides the parameter presets that ship with dipper.
package builtins

import (
	"fmt"

	"dipper/internal/strategy"
)

// Presets returns the built-in presets keyed by name. Capital figures are in
// the quote currency of the backtested symbol.
func Presets() map[string]strategy.Params {
	return map[string]strategy.Params{
		// Buys a 5% dip off any of the last four sessions, sells at +8%.
		"dip-default": {
			TotalCapital:     100000,
			PerTradeCapital:  20000,
			ProfitCeiling:    1e9,
			LookbackWindow:   5,
			BuyThresholdPct:  5,
			SellThresholdPct: 8,
		},
		"dip-patient": {
			TotalCapital:     100000,
			PerTradeCapital:  10000,
			ProfitCeiling:    1e9,
			LookbackWindow:   20,
			BuyThresholdPct:  12,
			SellThresholdPct: 20,
		},
		"dip-scalp": {
			TotalCapital:     100000,
			PerTradeCapital:  25000,
			ProfitCeiling:    1e9,
			LookbackWindow:   3,
			BuyThresholdPct:  2,
			SellThresholdPct: 3,
		},
	}
}

// Register adds every built-in preset to r.
func Register(r *strategy.Registry) error {
	for name, p := range Presets() {
		if err := r.Register(name, p); err != nil {
			return fmt.Errorf("builtin %s: %w", name, err)
		}
	}
	return nil
}
