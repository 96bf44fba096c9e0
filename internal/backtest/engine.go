// Package backtest replays a strategy over historical bars in a single
// deterministic pass and derives aggregate performance metrics.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantlab/papertrade/internal/market"
	"github.com/quantlab/papertrade/internal/strategy"
)

// MinBars is the minimum usable window; shorter runs fail before simulation
// starts.
const MinBars = 50

// ErrInsufficientData aborts a run whose bar window is shorter than MinBars.
var ErrInsufficientData = errors.New("insufficient data for backtest")

// Config holds the simulation cost and sizing model.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	CommissionPct  float64 `yaml:"commission_pct" json:"commission_pct"`
	SlippagePct    float64 `yaml:"slippage_pct" json:"slippage_pct"`
	RiskPerTrade   float64 `yaml:"risk_per_trade" json:"risk_per_trade"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" json:"risk_free_rate"`
}

// DefaultConfig returns the stock simulation settings.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10000,
		CommissionPct:  0.001,
		SlippagePct:    0.0005,
		RiskPerTrade:   0.02,
		RiskFreeRate:   0.02,
	}
}

// Trade is one completed round trip, tagged with the exit trigger.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason"` // "signal", "stop_loss", "take_profit"
}

// EquityPoint is one sample of the running equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result is the immutable outcome of one replay run.
type Result struct {
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	RecoveryFactor float64 `json:"recovery_factor"`
	Volatility     float64 `json:"volatility"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Expectancy    float64 `json:"expectancy"`

	AvgTradeDurationHours float64 `json:"avg_trade_duration"`
	MaxTradeDurationHours float64 `json:"max_trade_duration"`

	EquityCurve   []EquityPoint `json:"equity_curve"`
	DrawdownCurve []float64     `json:"drawdown_curve"`
	Trades        []Trade       `json:"trades"`
}

// Engine runs replay simulations. It is stateless between runs; each Run
// owns its own transient equity curve and trade list.
type Engine struct {
	cfg Config
}

// NewEngine returns a backtest engine with the given cost model.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's cost model.
func (e *Engine) Config() Config { return e.cfg }

// openPosition is the single open lot during a replay (long-only).
type openPosition struct {
	entryTime  time.Time
	entryPrice float64
	quantity   float64
	stopLoss   float64
	takeProfit float64
	commission float64
}

// Run replays the strategy over bars in chronological order: one open
// position at a time, entries on the strategy's entry signal with risk-based
// sizing, exits by signal, stop-loss, or take-profit in that precedence.
func (e *Engine) Run(bars []market.Bar, strat strategy.Strategy, symbol string) (*Result, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("%w: got %d bars, need %d", ErrInsufficientData, len(bars), MinBars)
	}

	log.Info().
		Str("symbol", symbol).
		Str("strategy", strat.Name()).
		Int("bars", len(bars)).
		Time("from", bars[0].Timestamp).
		Time("to", bars[len(bars)-1].Timestamp).
		Msg("starting backtest")

	signals, err := strat.GenerateSignals(bars)
	if err != nil {
		return nil, fmt.Errorf("generate signals: %w", err)
	}

	stopLossPct := strat.Parameters().Get("stop_loss_pct", 0.02)
	takeProfitPct := strat.Parameters().Get("take_profit_pct", 0.04)

	var (
		trades  []Trade
		equity  = make([]EquityPoint, 0, len(bars))
		capital = e.cfg.InitialCapital
		pos     *openPosition
	)

	for i, bar := range bars {
		price := bar.Close

		total := capital
		if pos != nil {
			total += pos.quantity * price
		}
		equity = append(equity, EquityPoint{Timestamp: bar.Timestamp, Equity: total})

		if pos == nil {
			if !signals.Entries[i] {
				continue
			}

			stopLoss := price * (1 - stopLossPct)
			quantity := e.positionSize(total, price, stopLoss)
			entryPrice := price * (1 + e.cfg.SlippagePct)
			cost := quantity * entryPrice
			commission := cost * e.cfg.CommissionPct

			if capital < cost+commission {
				continue
			}

			capital -= cost + commission
			pos = &openPosition{
				entryTime:  bar.Timestamp,
				entryPrice: entryPrice,
				quantity:   quantity,
				stopLoss:   stopLoss,
				takeProfit: price * (1 + takeProfitPct),
				commission: commission,
			}
			continue
		}

		// Exit precedence: strategy signal, then stop-loss, then
		// take-profit.
		var reason string
		switch {
		case signals.Exits[i]:
			reason = "signal"
		case price <= pos.stopLoss:
			reason = "stop_loss"
		case price >= pos.takeProfit:
			reason = "take_profit"
		default:
			continue
		}

		exitPrice := price * (1 - e.cfg.SlippagePct)
		proceeds := pos.quantity * exitPrice
		commission := proceeds * e.cfg.CommissionPct
		costBasis := pos.quantity * pos.entryPrice
		pnl := proceeds - costBasis - commission

		trades = append(trades, Trade{
			EntryTime:  pos.entryTime,
			ExitTime:   bar.Timestamp,
			Symbol:     symbol,
			Side:       "long",
			EntryPrice: pos.entryPrice,
			ExitPrice:  exitPrice,
			Quantity:   pos.quantity,
			PnL:        pnl,
			PnLPct:     pnl / costBasis * 100,
			Commission: pos.commission + commission,
			Reason:     reason,
		})

		capital += proceeds - commission
		pos = nil
	}

	result := computeMetrics(e.cfg, equity, trades)

	log.Info().
		Str("symbol", symbol).
		Int("trades", len(trades)).
		Float64("return_pct", result.TotalReturnPct).
		Msg("backtest complete")

	return result, nil
}

// positionSize risks RiskPerTrade of total equity between entry and stop,
// with a flat 10% fallback when the stop sits on the entry.
func (e *Engine) positionSize(total, price, stopLoss float64) float64 {
	riskPerUnit := price - stopLoss
	if riskPerUnit <= 0 {
		return total * 0.1 / price
	}
	return total * e.cfg.RiskPerTrade / riskPerUnit
}
