package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantlab/papertrade/internal/persistence"
)

type resultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewResultsRepo creates a PostgreSQL backtest-results repository.
func NewResultsRepo(db *sqlx.DB) persistence.ResultsRepo {
	return &resultsRepo{db: db, timeout: defaultTimeout}
}

func (r *resultsRepo) Insert(ctx context.Context, rec persistence.BacktestRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO backtest_results (
			strategy_name, symbol, timeframe, start_date, end_date,
			initial_capital, total_return, total_return_pct,
			sharpe_ratio, sortino_ratio, max_drawdown_pct,
			total_trades, winning_trades, losing_trades, win_rate, profit_factor
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		rec.StrategyName, rec.Symbol, rec.Timeframe, rec.StartDate, rec.EndDate,
		rec.InitialCapital, rec.TotalReturn, rec.TotalReturnPct,
		rec.SharpeRatio, rec.SortinoRatio, rec.MaxDrawdownPct,
		rec.TotalTrades, rec.WinningTrades, rec.LosingTrades, rec.WinRate, rec.ProfitFactor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert backtest result: %w", err)
	}
	return id, nil
}

func (r *resultsRepo) List(ctx context.Context, symbol string, limit int) ([]persistence.BacktestRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, strategy_name, symbol, timeframe, start_date, end_date,
		       initial_capital, total_return, total_return_pct,
		       sharpe_ratio, sortino_ratio, max_drawdown_pct,
		       total_trades, winning_trades, losing_trades, win_rate, profit_factor,
		       created_at
		FROM backtest_results
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	var out []persistence.BacktestRecord
	if err := r.db.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("list backtest results: %w", err)
	}
	return out, nil
}
