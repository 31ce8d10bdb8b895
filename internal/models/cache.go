package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period identifies a performance reporting window.
type Period string

const (
	Period1D  Period = "1D"
	Period5D  Period = "5D"
	Period1M  Period = "1M"
	Period3M  Period = "3M"
	PeriodYTD Period = "YTD"
	Period1Y  Period = "1Y"
)

// AllPeriods lists every reporting window in display order.
var AllPeriods = []Period{Period1D, Period5D, Period1M, Period3M, PeriodYTD, Period1Y}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	for _, known := range AllPeriods {
		if p == known {
			return true
		}
	}
	return false
}

// ReturnStatus qualifies an authoritative period return. InsufficientData
// and NotComputable are real outcomes distinct from a 0% return and are
// never coerced to a numeric value.
type ReturnStatus string

const (
	ReturnOK               ReturnStatus = "ok"
	ReturnInsufficientData ReturnStatus = "insufficient_data"
	ReturnNotComputable    ReturnStatus = "not_computable"
)

// ChartPoint is one sample of the displayable value trend.
type ChartPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// ChartCacheEntry is the derived, disposable series cached per
// (user, period). SourceWatermark is the capture timestamp of the newest
// snapshot folded into the entry; the entry is stale iff a newer snapshot
// exists for the user.
type ChartCacheEntry struct {
	UserID          string          `json:"userId"`
	Period          Period          `json:"period"`
	Points          []ChartPoint    `json:"points"`
	Return          decimal.Decimal `json:"return"`
	ReturnStatus    ReturnStatus    `json:"returnStatus"`
	BenchmarkReturn decimal.Decimal `json:"benchmarkReturn"`
	BenchmarkStatus ReturnStatus    `json:"benchmarkStatus"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	SourceWatermark time.Time       `json:"sourceWatermark"`
	Degraded        bool            `json:"degraded,omitempty"`
}

// LeaderboardRow is one ranked user. Rank starts at 1.
type LeaderboardRow struct {
	Rank   int             `json:"rank"`
	UserID string          `json:"userId"`
	Return decimal.Decimal `json:"return"`
}

// LeaderboardCacheEntry is the per-period ranking, derived entirely from
// ChartCacheEntry authoritative returns.
type LeaderboardCacheEntry struct {
	Period      Period           `json:"period"`
	Rows        []LeaderboardRow `json:"rows"`
	GeneratedAt time.Time        `json:"generatedAt"`
}
