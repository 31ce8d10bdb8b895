package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/models"
)

// DailyLedger is the persistence surface of the end-of-day ledger.
type DailyLedger interface {
	Append(ctx context.Context, snapshot *models.DailySnapshot, overwrite bool) error
	QueryRange(ctx context.Context, userID string, from, to time.Time) ([]*models.DailySnapshot, error)
	LatestCreatedAt(ctx context.Context, userID string) (time.Time, error)
}

// IntradayLedger is the persistence surface of the intraday series.
type IntradayLedger interface {
	Append(ctx context.Context, snapshot *models.IntradaySnapshot) error
	QueryRange(ctx context.Context, userID string, from, to time.Time) ([]*models.IntradaySnapshot, error)
	LatestCapturedAt(ctx context.Context, userID string) (time.Time, error)
}

// SnapshotStore is the ingestion and query surface over the two snapshot
// ledgers. All date assignment goes through the market calendar; the store
// never trusts a caller-supplied trading date for intraday captures and
// rejects captures taken on non-trading days.
type SnapshotStore struct {
	daily    DailyLedger
	intraday IntradayLedger
	calendar *marketcal.Calendar
	logger   *logging.Logger
}

// NewSnapshotStore creates a snapshot store over the daily and intraday
// repositories.
func NewSnapshotStore(daily DailyLedger, intraday IntradayLedger, calendar *marketcal.Calendar, logger *logging.Logger) *SnapshotStore {
	return &SnapshotStore{
		daily:    daily,
		intraday: intraday,
		calendar: calendar,
		logger:   logger,
	}
}

// AppendDaily writes one end-of-day snapshot for the given trading date.
// Duplicate (user, date) writes without overwrite fail with
// DuplicateSnapshot; overwrite replaces transactionally and raises the
// ratchet either way.
func (s *SnapshotStore) AppendDaily(ctx context.Context, userID string, date marketcal.Date, valuation models.Valuation, cashFlow decimal.Decimal, overwrite bool) error {
	snapshot := &models.DailySnapshot{
		UserID:      userID,
		TradingDate: date.UTC(),
		Valuation:   valuation,
		CashFlow:    cashFlow,
		CreatedAt:   time.Now().UTC(),
	}
	return s.daily.Append(ctx, snapshot, overwrite)
}

// AppendIntraday writes one intraday capture. The trading date is derived
// from the capture instant through the calendar and stored redundantly;
// instants on non-trading days are rejected with NonTradingInstant even
// when the collection scheduler misfires.
func (s *SnapshotStore) AppendIntraday(ctx context.Context, userID string, capturedAt time.Time, valuation models.Valuation) error {
	date := s.calendar.LocalDate(capturedAt)
	if !s.calendar.IsTradingDay(date) {
		return errors.NewNonTradingInstantError(userID, capturedAt)
	}

	snapshot := &models.IntradaySnapshot{
		UserID:      userID,
		CapturedAt:  capturedAt.UTC(),
		TradingDate: date.UTC(),
		Valuation:   valuation,
	}
	return s.intraday.Append(ctx, snapshot)
}

// QueryDaily returns the daily snapshots with trading dates in [from, to],
// ordered ascending.
func (s *SnapshotStore) QueryDaily(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.DailySnapshot, error) {
	return s.daily.QueryRange(ctx, userID, from.UTC(), to.UTC())
}

// QueryIntraday returns the intraday snapshots captured during the
// exchange-local days [from, to], ordered by capture instant. Rows whose
// stored trading date disagrees with the calendar's recomputation of their
// capture instant are a data-integrity fault: they are logged and excluded
// rather than silently used.
func (s *SnapshotStore) QueryIntraday(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.IntradaySnapshot, error) {
	loc := s.calendar.Location()
	snapshots, err := s.intraday.QueryRange(ctx, userID, from.Time(loc), to.AddDays(1).Time(loc))
	if err != nil {
		return nil, err
	}

	aligned := snapshots[:0]
	for _, snap := range snapshots {
		recomputed := s.calendar.LocalDate(snap.CapturedAt)
		if !recomputed.UTC().Equal(snap.TradingDate) {
			misalignErr := errors.NewTimezoneMisalignmentError(snap.UserID, snap.CapturedAt, snap.TradingDate)
			s.logger.WithError(misalignErr).WithFields(map[string]interface{}{
				"userId":     snap.UserID,
				"capturedAt": snap.CapturedAt,
			}).Error("Excluding misaligned intraday snapshot from computation")
			continue
		}
		aligned = append(aligned, snap)
	}
	return aligned, nil
}

// LatestSnapshotTime returns the timestamp of the newest snapshot the store
// holds for a user across both resolutions. This is the source of the cache
// staleness watermark; zero time means the user has no snapshots.
func (s *SnapshotStore) LatestSnapshotTime(ctx context.Context, userID string) (time.Time, error) {
	dailyAt, err := s.daily.LatestCreatedAt(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	intradayAt, err := s.intraday.LatestCapturedAt(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if intradayAt.After(dailyAt) {
		return intradayAt, nil
	}
	return dailyAt, nil
}

// Calendar exposes the calendar the store validates against.
func (s *SnapshotStore) Calendar() *marketcal.Calendar {
	return s.calendar
}
