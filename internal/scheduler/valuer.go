// Package scheduler drives the collection lifecycle: pre-market catch-up,
// intraday snapshot collection while the session is open, end-of-day
// settlement and cache regeneration after the close.
package scheduler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/portfolio-pulse/internal/models"
	"github.com/portfolio-pulse/internal/price"
)

// Position is one holding in a user's account.
type Position struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Account is the brokerage-side view of a user the collector values. The
// deployed-capital figure is owned by the account system and arrives here
// already ratcheted.
type Account struct {
	UserID          string
	Positions       []Position
	CashProceeds    decimal.Decimal
	MaxCashDeployed decimal.Decimal
}

// PositionSource supplies account holdings. Backed by the brokerage
// integration in production, by fixtures in tests.
type PositionSource interface {
	Account(ctx context.Context, userID string) (*Account, error)
}

// PriceClient is the slice of the price layer the valuer needs.
type PriceClient interface {
	GetPrice(ctx context.Context, ticker string) (price.Quote, error)
}

// PortfolioValuer marks positions to market.
type PortfolioValuer struct {
	accounts PositionSource
	prices   PriceClient
}

func NewPortfolioValuer(accounts PositionSource, prices PriceClient) *PortfolioValuer {
	return &PortfolioValuer{accounts: accounts, prices: prices}
}

// Value computes the current valuation of a user's portfolio. degraded is
// true when any position was priced from a stale quote; the valuation is
// still usable, the caller decides whether to record it as such.
func (v *PortfolioValuer) Value(ctx context.Context, userID string) (models.Valuation, bool, error) {
	account, err := v.accounts.Account(ctx, userID)
	if err != nil {
		return models.Valuation{}, false, err
	}

	stockValue := decimal.Zero
	degraded := false
	for _, pos := range account.Positions {
		quote, err := v.prices.GetPrice(ctx, pos.Ticker)
		if err != nil {
			return models.Valuation{}, false, err
		}
		if quote.Degraded {
			degraded = true
		}
		stockValue = stockValue.Add(pos.Quantity.Mul(quote.Value))
	}

	return models.Valuation{
		StockValue:      stockValue,
		CashProceeds:    account.CashProceeds,
		MaxCashDeployed: account.MaxCashDeployed,
	}, degraded, nil
}
