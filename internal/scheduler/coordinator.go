package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/portfolio-pulse/internal/cache"
	"github.com/portfolio-pulse/internal/config"
	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/models"
)

// Phase is the coordinator's position in the daily cycle.
type Phase string

const (
	PhasePreMarket          Phase = "PRE_MARKET"
	PhaseIntradayCollection Phase = "INTRADAY_COLLECTION"
	PhaseMarketClose        Phase = "MARKET_CLOSE"
	PhaseAfterHours         Phase = "AFTER_HOURS"
)

// SnapshotAppender is the slice of the snapshot store the coordinator writes.
type SnapshotAppender interface {
	AppendDaily(ctx context.Context, userID string, date marketcal.Date, valuation models.Valuation, cashFlow decimal.Decimal, overwrite bool) error
	AppendIntraday(ctx context.Context, userID string, capturedAt time.Time, valuation models.Valuation) error
	QueryDaily(ctx context.Context, userID string, from, to marketcal.Date) ([]*models.DailySnapshot, error)
}

// BenchmarkWriter persists index closes.
type BenchmarkWriter interface {
	Upsert(ctx context.Context, close *models.BenchmarkClose) error
	CloseAtOrBefore(ctx context.Context, date time.Time) (*models.BenchmarkClose, error)
}

// UserLister lists the users to collect for.
type UserLister interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// Valuer marks one user's portfolio to market.
type Valuer interface {
	Value(ctx context.Context, userID string) (models.Valuation, bool, error)
}

// CacheRebuilder regenerates the derived caches after settlement.
type CacheRebuilder interface {
	RegenerateAll(ctx context.Context) (cache.BatchSummary, error)
}

// BoardRebuilder rebuilds the leaderboards from fresh chart entries.
type BoardRebuilder interface {
	RebuildAll(ctx context.Context) error
}

// BatchResult summarizes one collection or settlement fan-out.
type BatchResult struct {
	BatchID   string `json:"batchId"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Coordinator owns the daily cycle. All wall-clock decisions go through the
// exchange calendar; cron entries run in the exchange Location so DST shifts
// move the jobs with the session.
type Coordinator struct {
	snapshots  SnapshotAppender
	benchmarks BenchmarkWriter
	users      UserLister
	valuer     Valuer
	prices     PriceClient
	charts     CacheRebuilder
	boards     BoardRebuilder
	calendar   *marketcal.Calendar
	cfg        *config.MarketConfig
	logger     *logging.Logger
	pool       pond.Pool
	cron       *cron.Cron
	now        func() time.Time

	// Bounds each per-user task inside a fan-out.
	taskTimeout time.Duration
	// Bounds a whole cycle run.
	cycleTimeout time.Duration
}

// NewCoordinator wires the daily cycle. workers bounds the per-user fan-out.
func NewCoordinator(
	snapshots SnapshotAppender,
	benchmarks BenchmarkWriter,
	users UserLister,
	valuer Valuer,
	prices PriceClient,
	charts CacheRebuilder,
	boards BoardRebuilder,
	calendar *marketcal.Calendar,
	cfg *config.MarketConfig,
	workers int,
	logger *logging.Logger,
) *Coordinator {
	if workers <= 0 {
		workers = 8
	}
	c := &Coordinator{
		snapshots:    snapshots,
		benchmarks:   benchmarks,
		users:        users,
		valuer:       valuer,
		prices:       prices,
		charts:       charts,
		boards:       boards,
		calendar:     calendar,
		cfg:          cfg,
		logger:       logger,
		pool:         pond.NewPool(workers),
		now:          time.Now,
		taskTimeout:  30 * time.Second,
		cycleTimeout: 10 * time.Minute,
	}
	c.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(calendar.Location()),
		cron.WithChain(cron.Recover(&cronLogger{logger: logger})),
	)
	return c
}

// Phase classifies an instant into the daily cycle. The market-close phase
// covers the grace window after the bell during which settlement runs.
func (c *Coordinator) Phase(at time.Time) Phase {
	switch c.calendar.SessionStatus(at) {
	case marketcal.SessionPreMarket:
		return PhasePreMarket
	case marketcal.SessionOpen:
		return PhaseIntradayCollection
	case marketcal.SessionAfterHours:
		d := c.calendar.LocalDate(at)
		if at.Before(c.calendar.CloseAt(d).Add(c.cfg.CloseGrace)) {
			return PhaseMarketClose
		}
		return PhaseAfterHours
	default:
		return PhaseAfterHours
	}
}

// Start registers the cron entries and starts the scheduler.
func (c *Coordinator) Start() error {
	openHour, openMinute, err := parseClock(c.cfg.OpenTime)
	if err != nil {
		return err
	}
	closeHour, closeMinute, err := parseClock(c.cfg.CloseTime)
	if err != nil {
		return err
	}

	// Pre-market catch-up, one hour before the open. Weekday filtering is
	// cosmetic; every job re-checks the calendar.
	preMarket := fmt.Sprintf("0 %d %d * * MON-FRI", openMinute, (openHour+23)%24)
	if _, err := c.cron.AddFunc(preMarket, c.runScheduled("pre-market", c.RunPreMarket)); err != nil {
		return fmt.Errorf("schedule pre-market job: %w", err)
	}

	tick := fmt.Sprintf("@every %s", c.cfg.IntradayInterval)
	if _, err := c.cron.AddFunc(tick, c.runScheduled("intraday", func(ctx context.Context) error {
		_, err := c.RunIntradayTick(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("schedule intraday job: %w", err)
	}

	graceMinutes := int(c.cfg.CloseGrace.Minutes())
	closeSpec := fmt.Sprintf("0 %d %d * * MON-FRI", (closeMinute+graceMinutes)%60, closeHour+(closeMinute+graceMinutes)/60)
	if _, err := c.cron.AddFunc(closeSpec, c.runScheduled("market-close", c.RunMarketClose)); err != nil {
		return fmt.Errorf("schedule market-close job: %w", err)
	}

	c.cron.Start()
	c.logger.WithFields(map[string]interface{}{
		"timezone":  c.cfg.Timezone,
		"intraday":  c.cfg.IntradayInterval.String(),
		"closeSpec": closeSpec,
	}).Info("Refresh coordinator started")
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (c *Coordinator) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.pool.StopAndWait()
}

// runScheduled wraps a cycle with a bounded context and outcome logging.
func (c *Coordinator) runScheduled(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cycleTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.logger.WithError(err).WithField("job", name).Error("Scheduled cycle failed")
			return
		}
		c.logger.WithField("job", name).Debug("Scheduled cycle finished")
	}
}

// RunPreMarket backfills the previous trading day's benchmark close if the
// after-hours settlement missed it. Harmless to re-run.
func (c *Coordinator) RunPreMarket(ctx context.Context) error {
	today := c.calendar.LocalDate(c.now())
	if !c.calendar.IsTradingDay(today) {
		return nil
	}
	prev := c.calendar.PreviousTradingDay(today)

	existing, err := c.benchmarks.CloseAtOrBefore(ctx, prev.UTC())
	if err != nil {
		return err
	}
	if existing != nil && existing.TradingDate.Equal(prev.UTC()) {
		return nil
	}
	return c.settleBenchmark(ctx, prev)
}

// RunIntradayTick values every active user and appends intraday snapshots.
// Outside an open session the tick is a no-op.
func (c *Coordinator) RunIntradayTick(ctx context.Context) (BatchResult, error) {
	at := c.now()
	result := BatchResult{BatchID: uuid.NewString()}

	d := c.calendar.LocalDate(at)
	if !c.calendar.IsTradingDay(d) || c.calendar.SessionStatus(at) != marketcal.SessionOpen {
		result.Skipped = 1
		return result, nil
	}

	userIDs, err := c.users.ActiveUserIDs(ctx)
	if err != nil {
		return result, err
	}

	var succeeded, failed atomic.Int64
	group := c.pool.NewGroupContext(ctx)
	for _, userID := range userIDs {
		uid := userID
		group.Submit(func() {
			taskCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
			defer cancel()

			valuation, degraded, err := c.valuer.Value(taskCtx, uid)
			if err != nil {
				failed.Add(1)
				c.logger.WithError(err).WithFields(map[string]interface{}{
					"batchId": result.BatchID,
					"userId":  uid,
				}).Warn("Intraday valuation failed")
				return
			}
			if degraded {
				c.logger.WithFields(map[string]interface{}{
					"batchId": result.BatchID,
					"userId":  uid,
				}).Warn("Intraday valuation used stale prices")
			}
			if err := c.snapshots.AppendIntraday(taskCtx, uid, at, valuation); err != nil {
				failed.Add(1)
				c.logger.WithError(err).WithFields(map[string]interface{}{
					"batchId": result.BatchID,
					"userId":  uid,
				}).Warn("Intraday snapshot append failed")
				return
			}
			succeeded.Add(1)
		})
	}
	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return result, err
	}

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	c.logger.WithFields(map[string]interface{}{
		"batchId":   result.BatchID,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("Intraday collection finished")
	return result, nil
}

// RunMarketClose settles the trading day: one daily snapshot per user
// (overwriting any earlier settlement of the same date), the benchmark
// close, then full cache and leaderboard regeneration. Re-running the cycle
// converges on the same state.
func (c *Coordinator) RunMarketClose(ctx context.Context) error {
	at := c.now()
	d := c.calendar.LocalDate(at)
	if !c.calendar.IsTradingDay(d) {
		c.logger.WithField("date", d.String()).Debug("Skipping settlement on non-trading day")
		return nil
	}

	batchID := uuid.NewString()
	userIDs, err := c.users.ActiveUserIDs(ctx)
	if err != nil {
		return err
	}

	var succeeded, failed atomic.Int64
	group := c.pool.NewGroupContext(ctx)
	for _, userID := range userIDs {
		uid := userID
		group.Submit(func() {
			taskCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
			defer cancel()
			if err := c.settleUser(taskCtx, uid, d); err != nil {
				failed.Add(1)
				c.logger.WithError(err).WithFields(map[string]interface{}{
					"batchId": batchID,
					"userId":  uid,
				}).Error("End-of-day settlement failed for user")
				return
			}
			succeeded.Add(1)
		})
	}
	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return err
	}

	if err := c.settleBenchmark(ctx, d); err != nil {
		// Chart entries fall back to insufficient benchmark data; user
		// returns are unaffected.
		c.logger.WithError(err).WithField("batchId", batchID).Error("Benchmark close settlement failed")
	}

	summary, err := c.charts.RegenerateAll(ctx)
	if err != nil {
		return err
	}
	if err := c.boards.RebuildAll(ctx); err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"batchId":     batchID,
		"date":        d.String(),
		"settled":     succeeded.Load(),
		"failed":      failed.Load(),
		"regenerated": summary.Regenerated,
		"skipped":     summary.Skipped,
		"cacheFailed": summary.Failed,
	}).Info("Market close cycle finished")
	return nil
}

// settleUser writes the authoritative daily snapshot for one user. The cash
// flow for the day is the increase of deployed capital over the previous
// daily snapshot; the ratchet never decreases, so a zero delta means no new
// contribution.
func (c *Coordinator) settleUser(ctx context.Context, userID string, d marketcal.Date) error {
	valuation, degraded, err := c.valuer.Value(ctx, userID)
	if err != nil {
		return err
	}
	if degraded {
		c.logger.WithField("userId", userID).Warn("Settlement valuation used stale prices")
	}

	cashFlow := decimal.Zero
	prev := c.calendar.PreviousTradingDay(d)
	prior, err := c.snapshots.QueryDaily(ctx, userID, prev, prev)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		delta := valuation.MaxCashDeployed.Sub(prior[len(prior)-1].Valuation.MaxCashDeployed)
		if delta.IsPositive() {
			cashFlow = delta
		}
	}

	return c.snapshots.AppendDaily(ctx, userID, d, valuation, cashFlow, true)
}

// settleBenchmark fetches and stores the index close for a trading day. A
// degraded quote is still persisted, tagged, so period math stays possible.
func (c *Coordinator) settleBenchmark(ctx context.Context, d marketcal.Date) error {
	quote, err := c.prices.GetPrice(ctx, c.cfg.BenchmarkTicker)
	if err != nil {
		return err
	}
	return c.benchmarks.Upsert(ctx, &models.BenchmarkClose{
		TradingDate: d.UTC(),
		CloseValue:  quote.Value,
		Degraded:    quote.Degraded,
	})
}

// ForceRegenerate is the administrative full-rebuild trigger: caches first,
// then leaderboards from the fresh entries.
func (c *Coordinator) ForceRegenerate(ctx context.Context) (cache.BatchSummary, error) {
	summary, err := c.charts.RegenerateAll(ctx)
	if err != nil {
		return cache.BatchSummary{}, err
	}
	if err := c.boards.RebuildAll(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, errors.NewInvalidParameterError("clock", fmt.Sprintf("invalid HH:MM value %q", s))
	}
	return hour, minute, nil
}

// cronLogger adapts the structured logger to the cron scheduler's interface.
type cronLogger struct {
	logger *logging.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithField("source", "cron").Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithField("source", "cron").Error(msg)
}
