// Package models provides data models for the portfolio performance core.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resolution selects which snapshot series a query reads.
type Resolution string

const (
	// ResolutionDaily reads the end-of-day snapshot ledger.
	ResolutionDaily Resolution = "daily"
	// ResolutionIntraday reads the intraday capture series.
	ResolutionIntraday Resolution = "intraday"
)

// Valuation is the value decomposition carried by every snapshot.
// StockValue is the marked-to-market value of open positions, CashProceeds
// the cash realized from sales, and MaxCashDeployed the ratchet tracking the
// highest cumulative capital the user has committed. The ratchet never
// decreases on withdrawal or trading loss.
type Valuation struct {
	StockValue      decimal.Decimal `json:"stockValue"`
	CashProceeds    decimal.Decimal `json:"cashProceeds"`
	MaxCashDeployed decimal.Decimal `json:"maxCashDeployed"`
}

// TotalValue returns stock value plus cash proceeds.
func (v Valuation) TotalValue() decimal.Decimal {
	return v.StockValue.Add(v.CashProceeds)
}

// DailySnapshot is one end-of-day valuation record. Exactly one exists per
// (user, trading date); corrections are superseding writes guarded by an
// explicit overwrite flag.
type DailySnapshot struct {
	UserID      string          `json:"userId" db:"user_id"`
	TradingDate time.Time       `json:"tradingDate" db:"trading_date"`
	Valuation   Valuation       `json:"valuation"`
	CashFlow    decimal.Decimal `json:"cashFlow" db:"cash_flow"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// IntradaySnapshot is one intra-session valuation capture. Many exist per
// (user, trading date), ordered by capture instant. TradingDate is derived
// from CapturedAt through the exchange calendar and stored redundantly for
// fast range queries.
type IntradaySnapshot struct {
	UserID      string    `json:"userId" db:"user_id"`
	CapturedAt  time.Time `json:"capturedAt" db:"captured_at"`
	TradingDate time.Time `json:"tradingDate" db:"trading_date"`
	Valuation   Valuation `json:"valuation"`
}
