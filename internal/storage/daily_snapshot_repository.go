package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

const pgUniqueViolation = "23505"

// DailySnapshotRepository handles the end-of-day snapshot ledger in
// Postgres. Rows are append-only; the only mutation is a superseding write
// under an explicit overwrite flag.
type DailySnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewDailySnapshotRepository creates a new daily snapshot repository
func NewDailySnapshotRepository(pool *pgxpool.Pool) *DailySnapshotRepository {
	return &DailySnapshotRepository{pool: pool}
}

// Append stores one daily snapshot. Without overwrite, a second write for
// the same (user, trading date) fails with DuplicateSnapshot and leaves the
// stored row untouched. With overwrite, the row is replaced and the write is
// idempotent. Either way the user's max-cash-deployed ratchet is raised in
// the same transaction when the snapshot implies new deployed capital.
func (r *DailySnapshotRepository) Append(ctx context.Context, snapshot *models.DailySnapshot, overwrite bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.NewDatabaseError("begin daily snapshot append", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO daily_snapshots (
			user_id, trading_date, stock_value, cash_proceeds,
			max_cash_deployed, cash_flow, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if overwrite {
		query += `
		ON CONFLICT (user_id, trading_date)
		DO UPDATE SET
			stock_value = EXCLUDED.stock_value,
			cash_proceeds = EXCLUDED.cash_proceeds,
			max_cash_deployed = EXCLUDED.max_cash_deployed,
			cash_flow = EXCLUDED.cash_flow,
			created_at = EXCLUDED.created_at
		`
	}

	_, err = tx.Exec(ctx, query,
		snapshot.UserID,
		snapshot.TradingDate,
		snapshot.Valuation.StockValue,
		snapshot.Valuation.CashProceeds,
		snapshot.Valuation.MaxCashDeployed,
		snapshot.CashFlow,
		snapshot.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errors.NewDuplicateSnapshotError(snapshot.UserID, snapshot.TradingDate)
		}
		return errors.NewDatabaseError("insert daily snapshot", err)
	}

	// Ratchet: GREATEST keeps it monotonically non-decreasing.
	_, err = tx.Exec(ctx, `
		UPDATE users
		SET max_cash_deployed = GREATEST(max_cash_deployed, $2), updated_at = now()
		WHERE id = $1
	`, snapshot.UserID, snapshot.Valuation.MaxCashDeployed)
	if err != nil {
		return errors.NewDatabaseError("raise max cash deployed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewDatabaseError("commit daily snapshot append", err)
	}
	return nil
}

const dailySnapshotColumns = `
	user_id, trading_date, stock_value, cash_proceeds,
	max_cash_deployed, cash_flow, created_at
`

func scanDailySnapshot(row pgx.Row) (*models.DailySnapshot, error) {
	var s models.DailySnapshot
	err := row.Scan(
		&s.UserID,
		&s.TradingDate,
		&s.Valuation.StockValue,
		&s.Valuation.CashProceeds,
		&s.Valuation.MaxCashDeployed,
		&s.CashFlow,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// QueryRange returns daily snapshots within [from, to], ordered by trading
// date ascending. An empty result is valid, not an error.
func (r *DailySnapshotRepository) QueryRange(ctx context.Context, userID string, from, to time.Time) ([]*models.DailySnapshot, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM daily_snapshots
		WHERE user_id = $1 AND trading_date >= $2 AND trading_date <= $3
		ORDER BY trading_date ASC
	`, dailySnapshotColumns), userID, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("query daily snapshots", err)
	}
	defer rows.Close()

	var snapshots []*models.DailySnapshot
	for rows.Next() {
		s, err := scanDailySnapshot(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan daily snapshot", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate daily snapshots", err)
	}
	return snapshots, nil
}

// Latest returns the most recent daily snapshot for a user, or nil when the
// user has none.
func (r *DailySnapshotRepository) Latest(ctx context.Context, userID string) (*models.DailySnapshot, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s
		FROM daily_snapshots
		WHERE user_id = $1
		ORDER BY trading_date DESC
		LIMIT 1
	`, dailySnapshotColumns), userID)

	s, err := scanDailySnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("query latest daily snapshot", err)
	}
	return s, nil
}

// LatestCreatedAt returns the creation timestamp of the newest daily
// snapshot for a user; zero time when none exists. Feeds the cache
// staleness watermark.
func (r *DailySnapshotRepository) LatestCreatedAt(ctx context.Context, userID string) (time.Time, error) {
	var latest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(created_at) FROM daily_snapshots WHERE user_id = $1
	`, userID).Scan(&latest)
	if err != nil {
		return time.Time{}, errors.NewDatabaseError("query latest daily snapshot time", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}
