package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a tracked account. Only the fields the performance core needs are
// modeled here; identity and subscription state live outside this service.
type User struct {
	ID              string          `json:"id" db:"id"`
	Active          bool            `json:"active" db:"active"`
	MaxCashDeployed decimal.Decimal `json:"maxCashDeployed" db:"max_cash_deployed"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// BenchmarkClose is one trading day's closing value of the benchmark index.
type BenchmarkClose struct {
	TradingDate time.Time       `json:"tradingDate" db:"trading_date"`
	CloseValue  decimal.Decimal `json:"closeValue" db:"close_value"`
	Degraded    bool            `json:"degraded" db:"degraded"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}
