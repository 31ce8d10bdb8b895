// Package cache derives and persists the displayable chart series and the
// leaderboard rankings. Entries are disposable derived state: recomputed
// wholesale when stale, never a source of truth.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/models"
	"github.com/portfolio-pulse/internal/perf"
)

// SnapshotSource is the slice of the snapshot store the cache layer reads.
type SnapshotSource interface {
	QueryDaily(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.DailySnapshot, error)
	QueryIntraday(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.IntradaySnapshot, error)
	LatestSnapshotTime(ctx context.Context, userID string) (time.Time, error)
	Calendar() *marketcal.Calendar
}

// BenchmarkSource supplies index closes at period boundaries.
type BenchmarkSource interface {
	CloseAtOrBefore(ctx context.Context, date time.Time) (*models.BenchmarkClose, error)
	FirstCloseAtOrAfter(ctx context.Context, date time.Time) (*models.BenchmarkClose, error)
}

// EntryStore is the persisted key-value layer for derived entries.
type EntryStore interface {
	GetChart(ctx context.Context, userID string, period models.Period) (*models.ChartCacheEntry, bool, error)
	PutChart(ctx context.Context, entry *models.ChartCacheEntry) error
	GetLeaderboard(ctx context.Context, period models.Period) (*models.LeaderboardCacheEntry, bool, error)
	PutLeaderboard(ctx context.Context, entry *models.LeaderboardCacheEntry) error
}

// UserSource lists the users to regenerate for.
type UserSource interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// BatchSummary reports the outcome of a bulk regeneration.
type BatchSummary struct {
	Regenerated int `json:"regenerated"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// inflightCompute tracks one in-progress computation per (user, period).
// Waiters block on done and read the shared result.
type inflightCompute struct {
	done  chan struct{}
	entry *models.ChartCacheEntry
	err   error
}

// ChartManager serves chart entries read-through: fresh entries from the
// store, stale ones recomputed under a per-key single-flight lock so
// concurrent read-triggered and scheduler-triggered regeneration never
// duplicates work.
type ChartManager struct {
	snapshots  SnapshotSource
	benchmarks BenchmarkSource
	store      EntryStore
	users      UserSource
	pool       pond.Pool
	logger     *logging.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCompute
}

// NewChartManager creates a chart cache manager. workers bounds the bulk
// regeneration fan-out.
func NewChartManager(snapshots SnapshotSource, benchmarks BenchmarkSource, store EntryStore, users UserSource, workers int, logger *logging.Logger) *ChartManager {
	if workers <= 0 {
		workers = 8
	}
	return &ChartManager{
		snapshots:  snapshots,
		benchmarks: benchmarks,
		store:      store,
		users:      users,
		pool:       pond.NewPool(workers),
		logger:     logger,
		now:        time.Now,
		inflight:   make(map[string]*inflightCompute),
	}
}

func cacheKey(userID string, period models.Period) string {
	return fmt.Sprintf("%s:%s", userID, period)
}

// GetOrCompute returns the cache entry for (user, period), recomputing it
// when a newer snapshot exists than the entry's watermark. If recomputation
// fails and a stale entry exists, the stale entry is served tagged degraded
// rather than failing the read.
func (m *ChartManager) GetOrCompute(ctx context.Context, userID string, period models.Period) (*models.ChartCacheEntry, error) {
	if !period.Valid() {
		return nil, errors.NewInvalidParameterError("period", fmt.Sprintf("unknown period %q", period))
	}

	latest, err := m.snapshots.LatestSnapshotTime(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry, found, err := m.store.GetChart(ctx, userID, period)
	if err != nil {
		return nil, err
	}
	if found && !entry.SourceWatermark.Before(latest) {
		m.hits.Add(1)
		return entry, nil
	}
	m.misses.Add(1)

	fresh, err := m.computeShared(ctx, userID, period, latest)
	if err == nil {
		return fresh, nil
	}

	// Last-resort fallback: the stale entry, explicitly tagged.
	if found {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"userId": userID,
			"period": period,
		}).Warn("Recomputation failed, serving stale cache entry as degraded")
		stale := *entry
		stale.Degraded = true
		return &stale, nil
	}
	return nil, err
}

// computeShared runs compute under the per-key single-flight lock.
func (m *ChartManager) computeShared(ctx context.Context, userID string, period models.Period, watermark time.Time) (*models.ChartCacheEntry, error) {
	key := cacheKey(userID, period)

	m.inflightMu.Lock()
	if call, exists := m.inflight[key]; exists {
		m.inflightMu.Unlock()
		select {
		case <-call.done:
			return call.entry, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCompute{done: make(chan struct{})}
	m.inflight[key] = call
	m.inflightMu.Unlock()

	call.entry, call.err = m.compute(ctx, userID, period, watermark)

	m.inflightMu.Lock()
	delete(m.inflight, key)
	m.inflightMu.Unlock()
	close(call.done)

	return call.entry, call.err
}

// compute builds and persists a fresh entry from the snapshot window.
func (m *ChartManager) compute(ctx context.Context, userID string, period models.Period, watermark time.Time) (*models.ChartCacheEntry, error) {
	cal := m.snapshots.Calendar()
	start, end, err := cal.PeriodRange(period, m.now())
	if err != nil {
		return nil, errors.NewInvalidParameterError("period", err.Error())
	}

	window, err := m.loadWindow(ctx, userID, period, start, end)
	if err != nil {
		return nil, err
	}

	entry := &models.ChartCacheEntry{
		UserID:          userID,
		Period:          period,
		Points:          perf.ChartSeries(window),
		GeneratedAt:     m.now().UTC(),
		SourceWatermark: watermark,
	}

	ret, err := perf.PeriodReturn(window, end)
	switch {
	case err == nil:
		entry.Return = ret
		entry.ReturnStatus = models.ReturnOK
	case errors.HasCode(err, errors.CodeInsufficientData):
		entry.ReturnStatus = models.ReturnInsufficientData
	case errors.HasCode(err, errors.CodeNotComputable):
		entry.ReturnStatus = models.ReturnNotComputable
	default:
		return nil, err
	}

	if err := m.attachBenchmark(ctx, entry, start, end); err != nil {
		return nil, err
	}

	if err := m.store.PutChart(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// loadWindow fetches the snapshot window at the resolution the period
// displays: intraday for 1D, daily otherwise.
func (m *ChartManager) loadWindow(ctx context.Context, userID string, period models.Period, start, end marketcal.Date) ([]perf.Snapshot, error) {
	cal := m.snapshots.Calendar()

	if period == models.Period1D {
		intraday, err := m.snapshots.QueryIntraday(ctx, userID, start, end)
		if err != nil {
			return nil, err
		}
		window := make([]perf.Snapshot, 0, len(intraday))
		for _, s := range intraday {
			window = append(window, perf.Snapshot{
				At:              s.CapturedAt,
				Date:            cal.LocalDate(s.CapturedAt),
				StockValue:      s.Valuation.StockValue,
				CashProceeds:    s.Valuation.CashProceeds,
				MaxCashDeployed: s.Valuation.MaxCashDeployed,
			})
		}
		return window, nil
	}

	daily, err := m.snapshots.QueryDaily(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	window := make([]perf.Snapshot, 0, len(daily))
	for _, s := range daily {
		window = append(window, perf.Snapshot{
			At:              s.TradingDate,
			Date:            marketcal.Date{Year: s.TradingDate.Year(), Month: s.TradingDate.Month(), Day: s.TradingDate.Day()},
			StockValue:      s.Valuation.StockValue,
			CashProceeds:    s.Valuation.CashProceeds,
			MaxCashDeployed: s.Valuation.MaxCashDeployed,
		})
	}
	return window, nil
}

// attachBenchmark computes the benchmark's plain percentage change over the
// period boundaries. A degraded stored close degrades the entry.
func (m *ChartManager) attachBenchmark(ctx context.Context, entry *models.ChartCacheEntry, start, end marketcal.Date) error {
	startClose, err := m.benchmarks.FirstCloseAtOrAfter(ctx, start.UTC())
	if err != nil {
		return err
	}
	endClose, err := m.benchmarks.CloseAtOrBefore(ctx, end.UTC())
	if err != nil {
		return err
	}

	if startClose == nil || endClose == nil || !endClose.TradingDate.After(startClose.TradingDate) {
		entry.BenchmarkStatus = models.ReturnInsufficientData
		return nil
	}

	ret, err := perf.BenchmarkReturn(startClose.CloseValue, endClose.CloseValue)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotComputable) {
			entry.BenchmarkStatus = models.ReturnNotComputable
			return nil
		}
		return err
	}

	entry.BenchmarkReturn = ret
	entry.BenchmarkStatus = models.ReturnOK
	if startClose.Degraded || endClose.Degraded {
		entry.Degraded = true
	}
	return nil
}

// Invalidate forcibly marks entries stale by zeroing their watermark. The
// entries stay in the store: a stale entry is still servable as a degraded
// fallback if recomputation fails. An empty userID invalidates every user.
func (m *ChartManager) Invalidate(ctx context.Context, userID string, periods ...models.Period) error {
	if len(periods) == 0 {
		periods = models.AllPeriods
	}

	userIDs := []string{userID}
	if userID == "" {
		var err error
		userIDs, err = m.users.ActiveUserIDs(ctx)
		if err != nil {
			return err
		}
	}

	for _, uid := range userIDs {
		for _, period := range periods {
			entry, found, err := m.store.GetChart(ctx, uid, period)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			entry.SourceWatermark = time.Time{}
			if err := m.store.PutChart(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegenerateAll recomputes every (user, period) pair through the worker
// pool. Fresh entries are skipped. One pair's failure is counted, logged and
// never aborts the batch.
func (m *ChartManager) RegenerateAll(ctx context.Context) (BatchSummary, error) {
	userIDs, err := m.users.ActiveUserIDs(ctx)
	if err != nil {
		return BatchSummary{}, err
	}

	var regenerated, skipped, failed atomic.Int64
	group := m.pool.NewGroupContext(ctx)

	for _, userID := range userIDs {
		for _, period := range models.AllPeriods {
			uid, p := userID, period
			group.Submit(func() {
				latest, err := m.snapshots.LatestSnapshotTime(ctx, uid)
				if err != nil {
					failed.Add(1)
					m.logger.WithError(err).WithField("userId", uid).Warn("Regeneration failed reading watermark")
					return
				}

				entry, found, err := m.store.GetChart(ctx, uid, p)
				if err == nil && found && !entry.SourceWatermark.Before(latest) {
					skipped.Add(1)
					return
				}

				if _, err := m.computeShared(ctx, uid, p, latest); err != nil {
					failed.Add(1)
					m.logger.WithError(err).WithFields(map[string]interface{}{
						"userId": uid,
						"period": p,
					}).Warn("Regeneration failed for cache key")
					return
				}
				regenerated.Add(1)
			})
		}
	}

	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return BatchSummary{}, err
	}

	return BatchSummary{
		Regenerated: int(regenerated.Load()),
		Skipped:     int(skipped.Load()),
		Failed:      int(failed.Load()),
	}, nil
}

// Stats returns cache hit/miss counters.
func (m *ChartManager) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}
