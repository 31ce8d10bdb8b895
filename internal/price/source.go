// Package price wraps the external price source behind a cached,
// rate-limited client. The source is scarce: at most one in-flight fetch per
// ticker, shared by concurrent requesters, with a short validity window to
// absorb bursts during regeneration.
package price

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation. Degraded marks a quote served from the
// last known value after a failed live fetch.
type Quote struct {
	Ticker   string
	Value    decimal.Decimal
	AsOf     time.Time
	Degraded bool
}

// Source is the external price lookup. Implementations live outside this
// core; the client only assumes fetches can fail transiently.
type Source interface {
	GetPrice(ctx context.Context, ticker string) (Quote, error)
}
