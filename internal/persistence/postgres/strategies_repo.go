package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantlab/papertrade/internal/persistence"
)

type strategiesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStrategiesRepo creates a PostgreSQL strategies repository.
func NewStrategiesRepo(db *sqlx.DB) persistence.StrategiesRepo {
	return &strategiesRepo{db: db, timeout: defaultTimeout}
}

func (r *strategiesRepo) Save(ctx context.Context, rec persistence.StrategyRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return 0, fmt.Errorf("marshal parameters: %w", err)
	}

	query := `
		INSERT INTO strategies (name, description, parameters, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    parameters = EXCLUDED.parameters,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
		RETURNING id`

	var id int64
	if err := r.db.QueryRowxContext(ctx, query, rec.Name, rec.Description, params, rec.IsActive).Scan(&id); err != nil {
		return 0, fmt.Errorf("save strategy: %w", err)
	}
	return id, nil
}

func (r *strategiesRepo) Get(ctx context.Context, name string) (*persistence.StrategyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, name, description, parameters, is_active, created_at, updated_at
		FROM strategies WHERE name = $1`

	var (
		rec    persistence.StrategyRecord
		params []byte
	)
	row := r.db.QueryRowxContext(ctx, query, name)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &params, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	if err := json.Unmarshal(params, &rec.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return &rec, nil
}
