package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

// IntradaySnapshotRepository persists the intraday capture series in
// ClickHouse. The series is append-only and high volume: many rows per user
// per trading day, strictly ordered by capture instant.
type IntradaySnapshotRepository struct {
	db *ClickHouseDB
}

// NewIntradaySnapshotRepository creates a new intraday snapshot repository
func NewIntradaySnapshotRepository(db *ClickHouseDB) *IntradaySnapshotRepository {
	return &IntradaySnapshotRepository{db: db}
}

// Append inserts a single intraday snapshot.
func (r *IntradaySnapshotRepository) Append(ctx context.Context, snapshot *models.IntradaySnapshot) error {
	err := r.db.Conn().Exec(ctx, `
		INSERT INTO intraday_snapshots (
			user_id, captured_at, trading_date,
			stock_value, cash_proceeds, max_cash_deployed
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		snapshot.UserID,
		snapshot.CapturedAt,
		snapshot.TradingDate,
		snapshot.Valuation.StockValue.InexactFloat64(),
		snapshot.Valuation.CashProceeds.InexactFloat64(),
		snapshot.Valuation.MaxCashDeployed.InexactFloat64(),
	)
	if err != nil {
		return errors.NewDatabaseError("insert intraday snapshot", err)
	}
	return nil
}

// BatchAppend inserts multiple intraday snapshots in one batch. Used by the
// collection fan-out.
func (r *IntradaySnapshotRepository) BatchAppend(ctx context.Context, snapshots []*models.IntradaySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO intraday_snapshots (
			user_id, captured_at, trading_date,
			stock_value, cash_proceeds, max_cash_deployed
		)
	`)
	if err != nil {
		return errors.NewDatabaseError("prepare intraday batch", err)
	}

	for _, s := range snapshots {
		if err := batch.Append(
			s.UserID,
			s.CapturedAt,
			s.TradingDate,
			s.Valuation.StockValue.InexactFloat64(),
			s.Valuation.CashProceeds.InexactFloat64(),
			s.Valuation.MaxCashDeployed.InexactFloat64(),
		); err != nil {
			return errors.NewDatabaseError("append to intraday batch", err)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.NewDatabaseError("send intraday batch", err)
	}
	return nil
}

// QueryRange returns intraday snapshots with capture instants in [from, to],
// ordered by capture instant ascending.
func (r *IntradaySnapshotRepository) QueryRange(ctx context.Context, userID string, from, to time.Time) ([]*models.IntradaySnapshot, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT user_id, captured_at, trading_date,
		       stock_value, cash_proceeds, max_cash_deployed
		FROM intraday_snapshots
		WHERE user_id = ? AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC
	`, userID, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("query intraday snapshots", err)
	}
	defer rows.Close()

	var snapshots []*models.IntradaySnapshot
	for rows.Next() {
		var s models.IntradaySnapshot
		var stockValue, cashProceeds, maxDeployed float64
		if err := rows.Scan(
			&s.UserID,
			&s.CapturedAt,
			&s.TradingDate,
			&stockValue,
			&cashProceeds,
			&maxDeployed,
		); err != nil {
			return nil, errors.NewDatabaseError("scan intraday snapshot", err)
		}
		s.Valuation = models.Valuation{
			StockValue:      decimal.NewFromFloat(stockValue),
			CashProceeds:    decimal.NewFromFloat(cashProceeds),
			MaxCashDeployed: decimal.NewFromFloat(maxDeployed),
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate intraday snapshots", err)
	}
	return snapshots, nil
}

// LatestCapturedAt returns the newest capture instant for a user; zero time
// when the user has no intraday snapshots.
func (r *IntradaySnapshotRepository) LatestCapturedAt(ctx context.Context, userID string) (time.Time, error) {
	row := r.db.Conn().QueryRow(ctx, `
		SELECT max(captured_at) FROM intraday_snapshots WHERE user_id = ?
	`, userID)

	var latest time.Time
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, errors.NewDatabaseError("query latest intraday capture", err)
	}
	return latest, nil
}
