// Package persistence defines the storage surface for strategies, backtest
// results, and completed trades. The engine and loops run fine without a
// database; persistence is an optional collaborator wired in by the server.
package persistence

import (
	"context"
	"time"
)

// StrategyRecord is a stored strategy configuration.
type StrategyRecord struct {
	ID          int64              `json:"id" db:"id"`
	Name        string             `json:"name" db:"name"`
	Description string             `json:"description" db:"description"`
	Parameters  map[string]float64 `json:"parameters" db:"-"`
	IsActive    bool               `json:"is_active" db:"is_active"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// BacktestRecord is a stored backtest outcome. Curves and per-trade detail
// stay in the result payload served over HTTP; only the summary is stored.
type BacktestRecord struct {
	ID             int64     `json:"id" db:"id"`
	StrategyName   string    `json:"strategy_name" db:"strategy_name"`
	Symbol         string    `json:"symbol" db:"symbol"`
	Timeframe      string    `json:"timeframe" db:"timeframe"`
	StartDate      time.Time `json:"start_date" db:"start_date"`
	EndDate        time.Time `json:"end_date" db:"end_date"`
	InitialCapital float64   `json:"initial_capital" db:"initial_capital"`
	TotalReturn    float64   `json:"total_return" db:"total_return"`
	TotalReturnPct float64   `json:"total_return_pct" db:"total_return_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio" db:"sharpe_ratio"`
	SortinoRatio   float64   `json:"sortino_ratio" db:"sortino_ratio"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct" db:"max_drawdown_pct"`
	TotalTrades    int       `json:"total_trades" db:"total_trades"`
	WinningTrades  int       `json:"winning_trades" db:"winning_trades"`
	LosingTrades   int       `json:"losing_trades" db:"losing_trades"`
	WinRate        float64   `json:"win_rate" db:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor" db:"profit_factor"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TradeRecord is a completed round trip persisted for history queries.
type TradeRecord struct {
	ID         int64     `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Quantity   float64   `json:"quantity" db:"quantity"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	ExitPrice  float64   `json:"exit_price" db:"exit_price"`
	PnL        float64   `json:"pnl" db:"pnl"`
	PnLPct     float64   `json:"pnl_pct" db:"pnl_pct"`
	Commission float64   `json:"commission" db:"commission"`
	OpenedAt   time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time `json:"closed_at" db:"closed_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// StrategiesRepo stores named strategy configurations.
type StrategiesRepo interface {
	// Save inserts or updates by name and returns the row id.
	Save(ctx context.Context, rec StrategyRecord) (int64, error)

	// Get returns the strategy by name, or nil when absent.
	Get(ctx context.Context, name string) (*StrategyRecord, error)
}

// ResultsRepo stores backtest summaries.
type ResultsRepo interface {
	Insert(ctx context.Context, rec BacktestRecord) (int64, error)

	// List returns recent results, newest first, optionally filtered by
	// symbol ("" matches all).
	List(ctx context.Context, symbol string, limit int) ([]BacktestRecord, error)
}

// TradesRepo stores completed trades.
type TradesRepo interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)
}
