package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/models"
)

// ChartProvider yields the authoritative per-user return the leaderboard
// ranks by. In production this is the ChartManager.
type ChartProvider interface {
	GetOrCompute(ctx context.Context, userID string, period models.Period) (*models.ChartCacheEntry, error)
}

// LeaderboardAggregator ranks users by their period return. Rankings are
// rebuilt wholesale from the chart cache, never updated incrementally.
type LeaderboardAggregator struct {
	charts ChartProvider
	store  EntryStore
	users  UserSource
	logger *logging.Logger
	now    func() time.Time

	rebuildMu sync.Mutex
}

// NewLeaderboardAggregator creates a leaderboard aggregator.
func NewLeaderboardAggregator(charts ChartProvider, store EntryStore, users UserSource, logger *logging.Logger) *LeaderboardAggregator {
	return &LeaderboardAggregator{
		charts: charts,
		store:  store,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached leaderboard for a period. The leaderboard has no
// per-read freshness check: it is only as fresh as the last Rebuild.
func (a *LeaderboardAggregator) Get(ctx context.Context, period models.Period) (*models.LeaderboardCacheEntry, error) {
	if !period.Valid() {
		return nil, errors.NewInvalidParameterError("period", string(period))
	}
	entry, found, err := a.store.GetLeaderboard(ctx, period)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFoundError("leaderboard", string(period))
	}
	return entry, nil
}

// Rebuild recomputes the leaderboard for one period from every active
// user's authoritative return. Users whose return is not computable are
// excluded rather than ranked at zero. A single user's failure drops that
// user from the board and never aborts the rebuild.
func (a *LeaderboardAggregator) Rebuild(ctx context.Context, period models.Period) (*models.LeaderboardCacheEntry, error) {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	userIDs, err := a.users.ActiveUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]models.LeaderboardRow, 0, len(userIDs))
	for _, userID := range userIDs {
		chart, err := a.charts.GetOrCompute(ctx, userID, period)
		if err != nil {
			a.logger.WithError(err).WithFields(map[string]interface{}{
				"userId": userID,
				"period": period,
			}).Warn("Excluding user from leaderboard, return unavailable")
			continue
		}
		if chart.ReturnStatus != models.ReturnOK {
			continue
		}
		rows = append(rows, models.LeaderboardRow{
			UserID: userID,
			Return: chart.Return,
		})
	}

	// Descending by return, ascending user id on ties so repeated rebuilds
	// over the same data produce identical rankings.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Return.Equal(rows[j].Return) {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].Return.GreaterThan(rows[j].Return)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	entry := &models.LeaderboardCacheEntry{
		Period:      period,
		Rows:        rows,
		GeneratedAt: a.now().UTC(),
	}
	if err := a.store.PutLeaderboard(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RebuildAll rebuilds every period's leaderboard sequentially.
func (a *LeaderboardAggregator) RebuildAll(ctx context.Context) error {
	for _, period := range models.AllPeriods {
		if _, err := a.Rebuild(ctx, period); err != nil {
			return err
		}
	}
	return nil
}
