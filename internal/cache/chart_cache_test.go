package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/models"
	"github.com/portfolio-pulse/internal/storage"
)

type fakeSnapshotSource struct {
	mu         sync.Mutex
	daily      map[string][]*models.DailySnapshot
	intraday   map[string][]*models.IntradaySnapshot
	latest     map[string]time.Time
	calendar   *marketcal.Calendar
	queryCalls atomic.Int64
	queryGate  chan struct{}
	queryErr   error
}

func (f *fakeSnapshotSource) QueryDaily(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.DailySnapshot, error) {
	f.queryCalls.Add(1)
	if f.queryGate != nil {
		<-f.queryGate
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.daily[userID], nil
}

func (f *fakeSnapshotSource) QueryIntraday(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.IntradaySnapshot, error) {
	f.queryCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intraday[userID], nil
}

func (f *fakeSnapshotSource) LatestSnapshotTime(ctx context.Context, userID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[userID], nil
}

func (f *fakeSnapshotSource) Calendar() *marketcal.Calendar {
	return f.calendar
}

type fakeBenchmarkSource struct {
	start *models.BenchmarkClose
	end   *models.BenchmarkClose
}

func (f *fakeBenchmarkSource) CloseAtOrBefore(ctx context.Context, date time.Time) (*models.BenchmarkClose, error) {
	return f.end, nil
}

func (f *fakeBenchmarkSource) FirstCloseAtOrAfter(ctx context.Context, date time.Time) (*models.BenchmarkClose, error) {
	return f.start, nil
}

type fakeUserSource struct {
	ids []string
}

func (f *fakeUserSource) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return f.ids, nil
}

func newTestCalendar(t *testing.T) *marketcal.Calendar {
	t.Helper()
	cal, err := marketcal.NewCalendar("America/New_York", "09:30", "16:00", nil)
	require.NoError(t, err)
	return cal
}

func newTestEntryStore(t *testing.T) *storage.CacheStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return storage.NewCacheStore(storage.NewRedisCacheFromClient(client), 7*24*time.Hour)
}

func newTestManager(t *testing.T, snapshots *fakeSnapshotSource, benchmarks *fakeBenchmarkSource, users *fakeUserSource, asOf time.Time) (*ChartManager, *storage.CacheStore) {
	t.Helper()
	store := newTestEntryStore(t)
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	m := NewChartManager(snapshots, benchmarks, store, users, 4, logger)
	m.now = func() time.Time { return asOf }
	return m, store
}

func dailySnap(userID string, d marketcal.Date, stock, deployed float64) *models.DailySnapshot {
	return &models.DailySnapshot{
		UserID:      userID,
		TradingDate: d.UTC(),
		Valuation: models.Valuation{
			StockValue:      decimal.NewFromFloat(stock),
			CashProceeds:    decimal.Zero,
			MaxCashDeployed: decimal.NewFromFloat(deployed),
		},
	}
}

func bench(d marketcal.Date, close float64) *models.BenchmarkClose {
	return &models.BenchmarkClose{TradingDate: d.UTC(), CloseValue: decimal.NewFromFloat(close)}
}

// Friday afternoon during regular hours, no holidays in the window.
var testAsOf = time.Date(2024, 3, 15, 12, 0, 0, 0, mustLoadNY())

func mustLoadNY() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

func testWindowSnapshots(userID string) []*models.DailySnapshot {
	return []*models.DailySnapshot{
		dailySnap(userID, marketcal.Date{Year: 2024, Month: 2, Day: 15}, 10000, 10000),
		dailySnap(userID, marketcal.Date{Year: 2024, Month: 3, Day: 15}, 11000, 10000),
	}
}

func TestGetOrCompute_ComputesAndCaches(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily:    map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, store := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	entry, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnOK, entry.ReturnStatus)
	assert.True(t, entry.Return.Equal(decimal.NewFromFloat(0.1)), "got %s", entry.Return)
	assert.Equal(t, models.ReturnOK, entry.BenchmarkStatus)
	assert.True(t, entry.BenchmarkReturn.Equal(decimal.NewFromFloat(0.1)), "got %s", entry.BenchmarkReturn)
	assert.Len(t, entry.Points, 2)
	assert.False(t, entry.Degraded)

	stored, found, err := store.GetChart(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, stored.Return.Equal(entry.Return))
}

func TestGetOrCompute_FreshEntrySkipsComputation(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily:    map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, _ := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	calls := snapshots.queryCalls.Load()

	_, err = m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.Equal(t, calls, snapshots.queryCalls.Load(), "fresh entry should not hit the snapshot store")

	hits, misses := m.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrCompute_NewerSnapshotInvalidatesEntry(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily:    map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, _ := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)

	// A snapshot lands after the cached watermark.
	snapshots.mu.Lock()
	snapshots.latest["user-1"] = testAsOf.Add(time.Minute)
	snapshots.daily["user-1"] = append(snapshots.daily["user-1"],
		dailySnap("user-1", marketcal.Date{Year: 2024, Month: 3, Day: 15}, 12000, 10000))
	snapshots.mu.Unlock()
	calls := snapshots.queryCalls.Load()

	entry, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.Greater(t, snapshots.queryCalls.Load(), calls, "stale entry should trigger recomputation")
	assert.True(t, entry.SourceWatermark.Equal(testAsOf.Add(time.Minute)))
}

func TestGetOrCompute_SingleFlightCollapsesConcurrentCalls(t *testing.T) {
	gate := make(chan struct{})
	snapshots := &fakeSnapshotSource{
		daily:     map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:    map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar:  newTestCalendar(t),
		queryGate: gate,
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, _ := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	const callers = 20
	results := make(chan *models.ChartCacheEntry, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
			results <- entry
			errs <- err
		}()
	}

	// Let one caller reach the store and the rest pile up behind the lock,
	// then release the computation.
	require.Eventually(t, func() bool { return snapshots.queryCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for entry := range results {
		require.NotNil(t, entry)
		assert.True(t, entry.Return.Equal(decimal.NewFromFloat(0.1)))
	}
	assert.Equal(t, int64(1), snapshots.queryCalls.Load(), "concurrent callers must share one computation")
}

func TestGetOrCompute_ServesStaleEntryDegradedOnFailure(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily:    map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, _ := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)

	snapshots.mu.Lock()
	snapshots.latest["user-1"] = testAsOf.Add(time.Minute)
	snapshots.mu.Unlock()
	snapshots.queryErr = errors.NewDatabaseError("query daily snapshots", fmt.Errorf("connection refused"))

	entry, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err, "stale fallback should mask the failure")
	assert.True(t, entry.Degraded)
	assert.True(t, entry.Return.Equal(decimal.NewFromFloat(0.1)))
}

func TestGetOrCompute_NoEntryAndFailurePropagates(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
		queryErr: errors.NewDatabaseError("query daily snapshots", fmt.Errorf("connection refused")),
	}
	m, _ := newTestManager(t, snapshots, &fakeBenchmarkSource{}, &fakeUserSource{}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDatabaseError))
}

func TestGetOrCompute_InsufficientDataStatusNotZeroReturn(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily: map[string][]*models.DailySnapshot{"user-1": {
			dailySnap("user-1", marketcal.Date{Year: 2024, Month: 3, Day: 15}, 10000, 10000),
		}},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, _ := newTestManager(t, snapshots, benchmarks, &fakeUserSource{}, testAsOf)

	entry, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.Equal(t, models.ReturnInsufficientData, entry.ReturnStatus)
}

func TestGetOrCompute_RejectsUnknownPeriod(t *testing.T) {
	m, _ := newTestManager(t, &fakeSnapshotSource{calendar: newTestCalendar(t)}, &fakeBenchmarkSource{}, &fakeUserSource{}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period("2W"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))
}

func TestInvalidate_MarksEntryStaleButKeepsIt(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily:    map[string][]*models.DailySnapshot{"user-1": testWindowSnapshots("user-1")},
		latest:   map[string]time.Time{"user-1": testAsOf.Add(-time.Hour)},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	m, store := newTestManager(t, snapshots, benchmarks, &fakeUserSource{ids: []string{"user-1"}}, testAsOf)

	_, err := m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(context.Background(), "user-1", models.Period1M))

	entry, found, err := store.GetChart(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	require.True(t, found, "invalidation must not delete the entry")
	assert.True(t, entry.SourceWatermark.IsZero())

	calls := snapshots.queryCalls.Load()
	_, err = m.GetOrCompute(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.Greater(t, snapshots.queryCalls.Load(), calls, "invalidated entry should recompute on next read")
}

func TestRegenerateAll_CountsOutcomes(t *testing.T) {
	snapshots := &fakeSnapshotSource{
		daily: map[string][]*models.DailySnapshot{
			"user-1": testWindowSnapshots("user-1"),
			"user-2": testWindowSnapshots("user-2"),
		},
		latest: map[string]time.Time{
			"user-1": testAsOf.Add(-time.Hour),
			"user-2": testAsOf.Add(-time.Hour),
		},
		calendar: newTestCalendar(t),
	}
	benchmarks := &fakeBenchmarkSource{
		start: bench(marketcal.Date{Year: 2024, Month: 2, Day: 15}, 100),
		end:   bench(marketcal.Date{Year: 2024, Month: 3, Day: 15}, 110),
	}
	users := &fakeUserSource{ids: []string{"user-1", "user-2"}}
	m, _ := newTestManager(t, snapshots, benchmarks, users, testAsOf)

	summary, err := m.RegenerateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*len(models.AllPeriods), summary.Regenerated)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)

	// Second run finds every entry fresh.
	summary, err = m.RegenerateAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Regenerated)
	assert.Equal(t, 2*len(models.AllPeriods), summary.Skipped)
}
