// Package config provides configuration management for the portfolio
// performance service. It loads configuration from environment variables and
// .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Market    MarketConfig
	Cache     CacheConfig
	Price     PriceConfig
	Collector CollectorConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// MarketConfig describes the exchange calendar and the collection schedule.
// Holidays listed here seed the calendar when the holiday table is empty.
type MarketConfig struct {
	Timezone         string        // IANA zone of the exchange, e.g. America/New_York
	OpenTime         string        // session open, exchange-local HH:MM
	CloseTime        string        // session close, exchange-local HH:MM
	IntradayInterval time.Duration // spacing between intraday collections
	CloseGrace       time.Duration // delay after close before end-of-day processing
	BenchmarkTicker  string        // index ticker used for benchmark returns
	Holidays         []string      // fallback holiday dates, YYYY-MM-DD
}

// CacheConfig holds derived-cache configuration
type CacheConfig struct {
	// SafetyTTL bounds abandoned cache keys in Redis. Staleness is decided
	// by the snapshot watermark, not by this TTL.
	SafetyTTL time.Duration
}

// PriceConfig holds price source client configuration
type PriceConfig struct {
	SourceURL      string        // base URL of the external quote endpoint
	ValidityWindow time.Duration // how long a fetched price stays servable
	RequestsPerSec int           // global pacing of the external source
	MaxRetries     int
	FetchTimeout   time.Duration
}

// CollectorConfig holds collection-side configuration
type CollectorConfig struct {
	AccountServiceURL string // base URL of the account holdings service
	Workers           int    // per-user fan-out bound
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_pulse"),
				User:           getEnv("POSTGRES_USER", "pulse"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_pulse"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Market: MarketConfig{
			Timezone:         getEnv("MARKET_TIMEZONE", "America/New_York"),
			OpenTime:         getEnv("MARKET_OPEN", "09:30"),
			CloseTime:        getEnv("MARKET_CLOSE", "16:00"),
			IntradayInterval: getEnvAsDuration("MARKET_INTRADAY_INTERVAL", 10*time.Minute),
			CloseGrace:       getEnvAsDuration("MARKET_CLOSE_GRACE", 15*time.Minute),
			BenchmarkTicker:  getEnv("MARKET_BENCHMARK_TICKER", "SPX"),
			Holidays:         getEnvAsList("MARKET_HOLIDAYS", nil),
		},
		Cache: CacheConfig{
			SafetyTTL: getEnvAsDuration("CACHE_SAFETY_TTL", 7*24*time.Hour),
		},
		Collector: CollectorConfig{
			AccountServiceURL: getEnv("ACCOUNT_SERVICE_URL", "http://localhost:9200"),
			Workers:           getEnvAsInt("COLLECTOR_WORKERS", 8),
		},
		Price: PriceConfig{
			SourceURL:      getEnv("PRICE_SOURCE_URL", "http://localhost:9100"),
			ValidityWindow: getEnvAsDuration("PRICE_VALIDITY_WINDOW", 20*time.Second),
			RequestsPerSec: getEnvAsInt("PRICE_REQUESTS_PER_SEC", 10),
			MaxRetries:     getEnvAsInt("PRICE_MAX_RETRIES", 3),
			FetchTimeout:   getEnvAsDuration("PRICE_FETCH_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a slice
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
