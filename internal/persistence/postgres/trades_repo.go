package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantlab/papertrade/internal/persistence"
)

type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a PostgreSQL trades repository.
func NewTradesRepo(db *sqlx.DB) persistence.TradesRepo {
	return &tradesRepo{db: db, timeout: defaultTimeout}
}

func (r *tradesRepo) Insert(ctx context.Context, rec persistence.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (symbol, quantity, entry_price, exit_price, pnl, pnl_pct, commission, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	if _, err := r.db.ExecContext(ctx, query,
		rec.Symbol, rec.Quantity, rec.EntryPrice, rec.ExitPrice,
		rec.PnL, rec.PnLPct, rec.Commission, rec.OpenedAt, rec.ClosedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade: %w", err)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (r *tradesRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, symbol, quantity, entry_price, exit_price, pnl, pnl_pct, commission, opened_at, closed_at, created_at
		FROM trades
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY closed_at DESC
		LIMIT $2`

	var out []persistence.TradeRecord
	if err := r.db.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}
