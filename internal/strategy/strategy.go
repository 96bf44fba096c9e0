// Package strategy defines the signal-generation capability consumed by the
// backtest and live loops, plus the built-in strategy variants.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quantlab/papertrade/internal/market"
)

// ErrUnknownStrategy is returned by New for an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Signal carries per-bar entry and exit flags aligned with the input window.
type Signal struct {
	Entries []bool `json:"entries"`
	Exits   []bool `json:"exits"`
}

// Params is a numeric strategy parameter map. Periods are stored as floats
// and truncated where a whole number is needed.
type Params map[string]float64

// Get returns the parameter value or a fallback when absent.
func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Int returns the parameter truncated to int.
func (p Params) Int(key string) int { return int(p[key]) }

// Validate checks that every required parameter is present.
func (p Params) Validate(required []string) error {
	var missing []string
	for _, name := range required {
		if _, ok := p[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required parameters: %v", missing)
	}
	return nil
}

// Strategy turns an OHLCV window into entry/exit signals. Implementations
// are pure: the same window and parameters always produce the same signals.
type Strategy interface {
	Name() string
	RequiredParameters() []string
	Parameters() Params
	GenerateSignals(bars []market.Bar) (Signal, error)
}

// New constructs a registered strategy by name.
func New(name string, params Params) (Strategy, error) {
	switch name {
	case "simple_ma":
		return NewSimpleMA(params)
	case "rsi_ma":
		return NewRSIMA(params)
	case "combined":
		return NewCombined(params)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
}

// DefaultParams returns the stock parameter set for a registered strategy
// name, empty for unknown names.
func DefaultParams(name string) Params {
	switch name {
	case "simple_ma":
		return Params{
			"ma_fast":         10,
			"ma_slow":         30,
			"stop_loss_pct":   0.02,
			"take_profit_pct": 0.04,
		}
	case "rsi_ma":
		return Params{
			"ma_slow":         50,
			"rsi_period":      14,
			"rsi_oversold":    30,
			"rsi_overbought":  70,
			"stop_loss_pct":   0.03,
			"take_profit_pct": 0.06,
		}
	case "combined":
		return Params{
			"ma_fast":          10,
			"ma_slow":          30,
			"rsi_period":       14,
			"rsi_oversold":     30,
			"rsi_overbought":   70,
			"bollinger_period": 20,
			"bollinger_std":    2.0,
			"macd_fast":        12,
			"macd_slow":        26,
			"macd_signal":      9,
			"stop_loss_pct":    0.02,
			"take_profit_pct":  0.04,
		}
	}
	return Params{}
}
