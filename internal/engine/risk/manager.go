// Package risk implements pre-trade checks, risk-based position sizing, and
// drawdown / daily-loss tracking.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/engine/portfolio"
)

// Limits configures the risk checks. All values are fractions of portfolio
// value (0.2 = 20%).
type Limits struct {
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxTotalExposurePct float64 `yaml:"max_total_exposure_pct" json:"max_total_exposure_pct"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxLossPerTradePct  float64 `yaml:"max_loss_per_trade_pct" json:"max_loss_per_trade_pct"`
	EnableDailyLimit    bool    `yaml:"enable_daily_limit" json:"enable_daily_limit"`
}

// DefaultLimits returns the stock limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct:  0.20,
		MaxTotalExposurePct: 0.95,
		MaxDrawdownPct:      0.15,
		MaxDailyLossPct:     0.05,
		MaxLossPerTradePct:  0.02,
		EnableDailyLimit:    true,
	}
}

// ViolationError is a pre-trade rejection carrying the violated limit and
// the measured value, both as percent.
type ViolationError struct {
	Check    string  `json:"check"` // "position_size", "exposure", "daily_loss", "drawdown"
	Measured float64 `json:"measured_pct"`
	Limit    float64 `json:"limit_pct"`
}

func (e *ViolationError) Error() string {
	switch e.Check {
	case "position_size":
		return fmt.Sprintf("position size %.1f%% exceeds limit %.1f%%", e.Measured, e.Limit)
	case "exposure":
		return fmt.Sprintf("total exposure %.1f%% exceeds limit %.1f%%", e.Measured, e.Limit)
	case "daily_loss":
		return fmt.Sprintf("daily loss %.1f%% exceeds limit %.1f%%", e.Measured, e.Limit)
	case "drawdown":
		return fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", e.Measured, e.Limit)
	}
	return fmt.Sprintf("risk violation: %s %.1f%% > %.1f%%", e.Check, e.Measured, e.Limit)
}

// Metrics is a read-only snapshot of the rolling risk state.
type Metrics struct {
	CurrentDrawdownPct  float64 `json:"current_drawdown_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	PeakPortfolioValue  float64 `json:"peak_portfolio_value"`
	DailyPnL            float64 `json:"daily_pnl"`
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`
	MaxPositionSizePct  float64 `json:"max_position_size_pct"`
	MaxTotalExposurePct float64 `json:"max_total_exposure_pct"`
}

// Manager holds the risk limits plus small rolling state: the running peak
// portfolio value and a per-day realized P&L map. Checks are read-only; the
// rolling state is mutated only by the engine after fills and price ticks.
type Manager struct {
	limits Limits

	dailyPnL           map[string]float64 // ISO date -> realized P&L
	peakValue          float64
	currentDrawdownPct float64
}

// NewManager returns a Manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{
		limits:   limits,
		dailyPnL: make(map[string]float64),
	}
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits { return m.limits }

// CheckOrder applies the pre-trade checks in position-size, exposure,
// daily-loss order and returns a *ViolationError for the first one that
// fails. The exposure check applies to buys only.
func (m *Manager) CheckOrder(symbol string, quantity, price, portfolioValue float64, positions map[string]*portfolio.Position, side string) error {
	orderValue := quantity * price

	positionSizePct := orderValue / portfolioValue * 100
	if positionSizePct > m.limits.MaxPositionSizePct*100 {
		v := &ViolationError{Check: "position_size", Measured: positionSizePct, Limit: m.limits.MaxPositionSizePct * 100}
		log.Warn().Str("symbol", symbol).Str("reason", v.Error()).Msg("risk violation")
		return v
	}

	if side == "buy" {
		var exposure float64
		for _, pos := range positions {
			exposure += pos.MarketValue
		}
		exposurePct := (exposure + orderValue) / portfolioValue * 100
		if exposurePct > m.limits.MaxTotalExposurePct*100 {
			v := &ViolationError{Check: "exposure", Measured: exposurePct, Limit: m.limits.MaxTotalExposurePct * 100}
			log.Warn().Str("symbol", symbol).Str("reason", v.Error()).Msg("risk violation")
			return v
		}
	}

	if m.limits.EnableDailyLimit {
		if pnl := m.DailyPnL(""); pnl < 0 {
			lossPct := math.Abs(pnl) / portfolioValue * 100
			if lossPct > m.limits.MaxDailyLossPct*100 {
				v := &ViolationError{Check: "daily_loss", Measured: lossPct, Limit: m.limits.MaxDailyLossPct * 100}
				log.Warn().Str("symbol", symbol).Str("reason", v.Error()).Msg("risk violation")
				return v
			}
		}
	}

	return nil
}

// PositionSize returns the quantity that risks riskPct of portfolio value
// between entry and stop, capped at the max position size. A zero risk span
// falls back directly to the cap. Pass riskPct <= 0 to use the configured
// per-trade default.
func (m *Manager) PositionSize(portfolioValue, entryPrice, stopPrice, riskPct float64) float64 {
	if riskPct <= 0 {
		riskPct = m.limits.MaxLossPerTradePct
	}

	maxQuantity := portfolioValue * m.limits.MaxPositionSizePct / entryPrice

	riskPerUnit := math.Abs(entryPrice - stopPrice)
	if riskPerUnit == 0 {
		return maxQuantity
	}

	quantity := portfolioValue * riskPct / riskPerUnit
	return math.Min(quantity, maxQuantity)
}

// UpdateDrawdown records the current portfolio value against the running
// peak and refreshes the current drawdown percent.
func (m *Manager) UpdateDrawdown(currentValue float64) {
	if currentValue > m.peakValue {
		m.peakValue = currentValue
	}
	if m.peakValue > 0 {
		m.currentDrawdownPct = (m.peakValue - currentValue) / m.peakValue * 100
	} else {
		m.currentDrawdownPct = 0
	}
}

// CurrentDrawdownPct returns the drawdown from peak as percent, zero when at
// or above the peak.
func (m *Manager) CurrentDrawdownPct() float64 { return m.currentDrawdownPct }

// CheckDrawdownLimit returns a *ViolationError when the current drawdown
// exceeds the configured limit.
func (m *Manager) CheckDrawdownLimit() error {
	if m.currentDrawdownPct > m.limits.MaxDrawdownPct*100 {
		v := &ViolationError{Check: "drawdown", Measured: m.currentDrawdownPct, Limit: m.limits.MaxDrawdownPct * 100}
		log.Warn().Str("reason", v.Error()).Msg("risk violation")
		return v
	}
	return nil
}

// UpdateDailyPnL accumulates realized P&L for a trading day. An empty date
// means today.
func (m *Manager) UpdateDailyPnL(pnl float64, date string) {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	m.dailyPnL[date] += pnl
}

// DailyPnL returns the accumulated P&L for a date (empty means today).
func (m *Manager) DailyPnL(date string) float64 {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	return m.dailyPnL[date]
}

// StopLossPrice returns the stop level for an entry: below entry for longs,
// above for shorts.
func StopLossPrice(entryPrice float64, side string, stopLossPct float64) float64 {
	if side == "buy" {
		return entryPrice * (1 - stopLossPct)
	}
	return entryPrice * (1 + stopLossPct)
}

// TakeProfitPrice returns the profit target for an entry, mirrored for
// shorts.
func TakeProfitPrice(entryPrice float64, side string, takeProfitPct float64) float64 {
	if side == "buy" {
		return entryPrice * (1 + takeProfitPct)
	}
	return entryPrice * (1 - takeProfitPct)
}

// ShouldClosePosition reports whether the current price breaches the stop
// or target level. Zero levels are ignored. The returned reason is
// "stop_loss" or "take_profit".
func ShouldClosePosition(currentPrice, stopLossPrice, takeProfitPrice float64, side string) (bool, string) {
	if side == "buy" {
		if stopLossPrice > 0 && currentPrice <= stopLossPrice {
			return true, "stop_loss"
		}
		if takeProfitPrice > 0 && currentPrice >= takeProfitPrice {
			return true, "take_profit"
		}
		return false, ""
	}
	if stopLossPrice > 0 && currentPrice >= stopLossPrice {
		return true, "stop_loss"
	}
	if takeProfitPrice > 0 && currentPrice <= takeProfitPrice {
		return true, "take_profit"
	}
	return false, ""
}

// Metrics returns the current risk snapshot.
func (m *Manager) Metrics() Metrics {
	return Metrics{
		CurrentDrawdownPct:  m.currentDrawdownPct,
		MaxDrawdownPct:      m.limits.MaxDrawdownPct * 100,
		PeakPortfolioValue:  m.peakValue,
		DailyPnL:            m.DailyPnL(""),
		MaxDailyLossPct:     m.limits.MaxDailyLossPct * 100,
		MaxPositionSizePct:  m.limits.MaxPositionSizePct * 100,
		MaxTotalExposurePct: m.limits.MaxTotalExposurePct * 100,
	}
}

// ResetDailyLimits prunes daily P&L records older than 30 days. Call at the
// start of a trading day.
func (m *Manager) ResetDailyLimits() {
	cutoff := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	for date := range m.dailyPnL {
		if date < cutoff {
			delete(m.dailyPnL, date)
		}
	}
	log.Info().Msg("daily risk limits reset")
}
