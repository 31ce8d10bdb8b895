// Package main provides the collection daemon: intraday snapshot ticks
// while the market is open, end-of-day settlement, and cache regeneration.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-pulse/internal/cache"
	"github.com/portfolio-pulse/internal/config"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/price"
	"github.com/portfolio-pulse/internal/scheduler"
	"github.com/portfolio-pulse/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	calendar, err := buildCalendar(cfg, postgres, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build exchange calendar")
	}

	dailyRepo := storage.NewDailySnapshotRepository(postgres.Pool())
	intradayRepo := storage.NewIntradaySnapshotRepository(clickhouse)
	benchmarkRepo := storage.NewBenchmarkRepository(postgres.Pool())
	userRepo := storage.NewUserRepository(postgres.Pool())
	snapshots := storage.NewSnapshotStore(dailyRepo, intradayRepo, calendar, logger)
	cacheStore := storage.NewCacheStore(redis, cfg.Cache.SafetyTTL)

	chartManager := cache.NewChartManager(snapshots, benchmarkRepo, cacheStore, userRepo, cfg.Collector.Workers, logger)
	leaderboards := cache.NewLeaderboardAggregator(chartManager, cacheStore, userRepo, logger)

	priceSource := price.NewHTTPSource(cfg.Price.SourceURL, cfg.Price.FetchTimeout)
	priceClient := price.NewCachedClient(priceSource, &cfg.Price, logger)

	accounts := scheduler.NewAccountsClient(cfg.Collector.AccountServiceURL, 10*time.Second)
	valuer := scheduler.NewPortfolioValuer(accounts, priceClient)

	coordinator := scheduler.NewCoordinator(
		snapshots,
		benchmarkRepo,
		userRepo,
		valuer,
		priceClient,
		chartManager,
		leaderboards,
		calendar,
		&cfg.Market,
		cfg.Collector.Workers,
		logger,
	)

	if err := coordinator.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh coordinator")
	}
	logger.Info("Collector started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down collector...")
	coordinator.Stop()
	logger.Info("Collector stopped")
}

// buildCalendar assembles the exchange calendar from stored holidays,
// falling back to the configured list when the table is empty or
// unreachable.
func buildCalendar(cfg *config.Config, postgres *storage.PostgresDB, logger *logging.Logger) (*marketcal.Calendar, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	holidays, err := storage.NewHolidayRepository(postgres.Pool()).All(ctx)
	if err != nil || len(holidays) == 0 {
		if err != nil {
			logger.WithError(err).Warn("Holiday table unavailable, using configured holiday list")
		}
		holidays = holidays[:0]
		for _, s := range cfg.Market.Holidays {
			d, parseErr := marketcal.ParseDate(s)
			if parseErr != nil {
				return nil, parseErr
			}
			holidays = append(holidays, d)
		}
	}

	return marketcal.NewCalendar(cfg.Market.Timezone, cfg.Market.OpenTime, cfg.Market.CloseTime, holidays)
}
