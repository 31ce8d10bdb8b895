// Package main provides the API server entry point for the portfolio
// performance service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-pulse/internal/api"
	"github.com/portfolio-pulse/internal/cache"
	"github.com/portfolio-pulse/internal/config"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/marketcal"
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

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(
		serverConfig,
		chartManager,
		leaderboards,
		&regenerator{charts: chartManager, boards: leaderboards},
		map[string]api.HealthChecker{
			"postgres":   postgres,
			"clickhouse": clickhouse,
			"redis":      redis,
		},
		logger,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}

// regenerator wires the admin rebuild trigger: caches first, then the
// leaderboards from the fresh entries.
type regenerator struct {
	charts *cache.ChartManager
	boards *cache.LeaderboardAggregator
}

func (r *regenerator) ForceRegenerate(ctx context.Context) (cache.BatchSummary, error) {
	summary, err := r.charts.RegenerateAll(ctx)
	if err != nil {
		return cache.BatchSummary{}, err
	}
	if err := r.boards.RebuildAll(ctx); err != nil {
		return summary, err
	}
	return summary, nil
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
