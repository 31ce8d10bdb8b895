package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/marketcal"
)

// HolidayRepository reads the exchange holiday set from Postgres. The set
// seeds the market calendar at startup.
type HolidayRepository struct {
	pool *pgxpool.Pool
}

// NewHolidayRepository creates a new holiday repository
func NewHolidayRepository(pool *pgxpool.Pool) *HolidayRepository {
	return &HolidayRepository{pool: pool}
}

// All returns every configured holiday date.
func (r *HolidayRepository) All(ctx context.Context) ([]marketcal.Date, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT holiday_date FROM exchange_holidays ORDER BY holiday_date ASC
	`)
	if err != nil {
		return nil, errors.NewDatabaseError("query holidays", err)
	}
	defer rows.Close()

	var holidays []marketcal.Date
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, errors.NewDatabaseError("scan holiday", err)
		}
		holidays = append(holidays, marketcal.Date{Year: d.Year(), Month: d.Month(), Day: d.Day()})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate holidays", err)
	}
	return holidays, nil
}
