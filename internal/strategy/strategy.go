// Package strategy defines the parameters of the dip-buying strategy, the
// per-day buy and sell signal rules, and a Registry of named parameter
// presets.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidConfig is matched by every error returned from Params.Validate.
var ErrInvalidConfig = errors.New("invalid strategy config")

// ConfigError describes a single rejected Params field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid strategy config: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Params holds the immutable inputs for one backtest run.
type Params struct {
	// Symbol is informational only; the engine never reads it for decisions.
	Symbol string `yaml:"symbol" json:"symbol"`

	// TotalCapital bounds the capital committed to simultaneously open
	// positions.
	TotalCapital float64 `yaml:"total_capital" json:"totalCapital"`

	// PerTradeCapital is committed by every opened position.
	PerTradeCapital float64 `yaml:"per_trade_capital" json:"perTradeCapital"`

	// ProfitCeiling disqualifies reference days whose close is at or above
	// it.
	ProfitCeiling float64 `yaml:"profit_ceiling" json:"profitCeiling"`

	// LookbackWindow counts the current day; offsets 1..LookbackWindow-1 are
	// scanned for a reference day.
	LookbackWindow int `yaml:"lookback_window" json:"lookbackWindow"`

	SellThresholdPct float64 `yaml:"sell_threshold_pct" json:"sellThresholdPct"`
	BuyThresholdPct  float64 `yaml:"buy_threshold_pct" json:"buyThresholdPct"`
}

// Validate rejects non-positive capital or lookback values and non-finite or
// negative ratio fields.
func (p Params) Validate() error {
	if !(p.TotalCapital > 0) || math.IsInf(p.TotalCapital, 0) {
		return &ConfigError{Field: "total_capital", Reason: fmt.Sprintf("must be positive and finite, got %v", p.TotalCapital)}
	}
	if !(p.PerTradeCapital > 0) || math.IsInf(p.PerTradeCapital, 0) {
		return &ConfigError{Field: "per_trade_capital", Reason: fmt.Sprintf("must be positive and finite, got %v", p.PerTradeCapital)}
	}
	if p.LookbackWindow < 1 {
		return &ConfigError{Field: "lookback_window", Reason: fmt.Sprintf("must be at least 1, got %d", p.LookbackWindow)}
	}

	ratios := []struct {
		name string
		v    float64
	}{
		{"profit_ceiling", p.ProfitCeiling},
		{"sell_threshold_pct", p.SellThresholdPct},
		{"buy_threshold_pct", p.BuyThresholdPct},
	}
	for _, r := range ratios {
		if math.IsNaN(r.v) || math.IsInf(r.v, 0) || r.v < 0 {
			return &ConfigError{Field: r.name, Reason: fmt.Sprintf("must be finite and non-negative, got %v", r.v)}
		}
	}
	return nil
}

// MaxOpenPositions is the number of positions that may be open at once
// under the strict committed-capital rule.
func (p Params) MaxOpenPositions() int {
	if p.PerTradeCapital <= 0 {
		return 0
	}
	return int(math.Ceil(p.TotalCapital / p.PerTradeCapital))
}

// Registry holds named parameter presets for lookup and enumeration.
type Registry struct {
	presets map[string]Params
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]Params),
	}
}

// Register validates p and stores it under name, replacing any existing
// preset with the same name.
func (r *Registry) Register(name string, p Params) error {
	if name == "" {
		return fmt.Errorf("registering preset: empty name")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("registering preset %q: %w", name, err)
	}
	r.presets[name] = p
	return nil
}

// Get retrieves a preset by name. The second return value indicates whether
// the preset was found.
func (r *Registry) Get(name string) (Params, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// List returns a sorted slice of all registered preset names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
