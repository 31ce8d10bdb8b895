package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

// BenchmarkRepository stores daily benchmark index closes in Postgres.
type BenchmarkRepository struct {
	pool *pgxpool.Pool
}

// NewBenchmarkRepository creates a new benchmark repository
func NewBenchmarkRepository(pool *pgxpool.Pool) *BenchmarkRepository {
	return &BenchmarkRepository{pool: pool}
}

// Upsert writes the close for a trading date. Market-close re-runs replace
// the row, so the operation is idempotent.
func (r *BenchmarkRepository) Upsert(ctx context.Context, close *models.BenchmarkClose) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO benchmark_closes (trading_date, close_value, degraded, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (trading_date)
		DO UPDATE SET
			close_value = EXCLUDED.close_value,
			degraded = EXCLUDED.degraded,
			created_at = EXCLUDED.created_at
	`, close.TradingDate, close.CloseValue, close.Degraded, close.CreatedAt)
	if err != nil {
		return errors.NewDatabaseError("upsert benchmark close", err)
	}
	return nil
}

// CloseAtOrBefore returns the latest close at or before the given trading
// date, or nil when no close exists that early.
func (r *BenchmarkRepository) CloseAtOrBefore(ctx context.Context, date time.Time) (*models.BenchmarkClose, error) {
	var c models.BenchmarkClose
	err := r.pool.QueryRow(ctx, `
		SELECT trading_date, close_value, degraded, created_at
		FROM benchmark_closes
		WHERE trading_date <= $1
		ORDER BY trading_date DESC
		LIMIT 1
	`, date).Scan(&c.TradingDate, &c.CloseValue, &c.Degraded, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("query benchmark close", err)
	}
	return &c, nil
}

// FirstCloseAtOrAfter returns the earliest close at or after the given
// trading date, or nil. Used for period starts that predate benchmark
// history.
func (r *BenchmarkRepository) FirstCloseAtOrAfter(ctx context.Context, date time.Time) (*models.BenchmarkClose, error) {
	var c models.BenchmarkClose
	err := r.pool.QueryRow(ctx, `
		SELECT trading_date, close_value, degraded, created_at
		FROM benchmark_closes
		WHERE trading_date >= $1
		ORDER BY trading_date ASC
		LIMIT 1
	`, date).Scan(&c.TradingDate, &c.CloseValue, &c.Degraded, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("query benchmark close", err)
	}
	return &c, nil
}
