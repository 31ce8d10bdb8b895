// Package perf computes time-weighted portfolio returns. It is pure: no
// I/O, no caching, no clocks. Every consumer of a return calls into this
// package; the arithmetic is implemented exactly once.
package perf

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/marketcal"
	"github.com/portfolio-pulse/internal/models"
)

// denominatorEpsilon guards the Modified-Dietz division. A weighted capital
// base below one cent is degenerate and yields NotComputable instead of a
// silent 0%.
var denominatorEpsilon = decimal.NewFromFloat(0.01)

// Snapshot is the engine's view of one valuation record, independent of the
// storage resolution it came from.
type Snapshot struct {
	At              time.Time
	Date            marketcal.Date
	StockValue      decimal.Decimal
	CashProceeds    decimal.Decimal
	MaxCashDeployed decimal.Decimal
}

// TotalValue returns stock value plus cash proceeds.
func (s Snapshot) TotalValue() decimal.Decimal {
	return s.StockValue.Add(s.CashProceeds)
}

// CashFlow is one external capital deployment observed inside a window: an
// increase of the max-cash-deployed ratchet between consecutive snapshots.
type CashFlow struct {
	Date   marketcal.Date
	Amount decimal.Decimal
	Weight decimal.Decimal // fraction of the period the capital was invested
}

// PeriodReturn computes the Modified-Dietz return over the window.
//
// The window must be ordered ascending by capture time and already restricted
// to [start, end]. The first snapshot is the period start boundary: when the
// user has no snapshot at the requested start ("joined mid-period"), the
// first snapshot in range is the effective start and all weighting is
// relative to it. External flows are the ratchet increases between
// consecutive snapshots; each flow at date d is weighted by
// (end - d) / (end - effectiveStart) in days.
//
//	Return = (V_end - V_start - ΣCF) / (V_start + Σ(W_i * CF_i))
//
// Fewer than two snapshots yields InsufficientData. A degenerate denominator
// yields NotComputable. Both are errors, never numeric zeros.
func PeriodReturn(window []Snapshot, end marketcal.Date) (decimal.Decimal, error) {
	if len(window) < 2 {
		return decimal.Zero, errors.NewInsufficientDataError(len(window))
	}

	first := window[0]
	last := window[len(window)-1]

	effectiveStart := first.Date
	totalDays := end.DaysSince(effectiveStart)

	vStart := first.TotalValue()
	vEnd := last.TotalValue()

	flows := windowFlows(window, end, totalDays)

	flowSum := decimal.Zero
	weightedSum := decimal.Zero
	for _, cf := range flows {
		flowSum = flowSum.Add(cf.Amount)
		weightedSum = weightedSum.Add(cf.Amount.Mul(cf.Weight))
	}

	denominator := vStart.Add(weightedSum)
	if denominator.Abs().LessThan(denominatorEpsilon) {
		return decimal.Zero, errors.NewNotComputableError("weighted capital base is zero or near-zero")
	}

	numerator := vEnd.Sub(vStart).Sub(flowSum)
	return numerator.Div(denominator), nil
}

// windowFlows extracts the ratchet increases between consecutive snapshots
// and assigns each its day weight.
func windowFlows(window []Snapshot, end marketcal.Date, totalDays int) []CashFlow {
	var flows []CashFlow
	for i := 1; i < len(window); i++ {
		delta := window[i].MaxCashDeployed.Sub(window[i-1].MaxCashDeployed)
		if !delta.IsPositive() {
			// The ratchet never decreases; a zero delta is just no flow.
			continue
		}

		weight := decimal.Zero
		if totalDays > 0 {
			remaining := end.DaysSince(window[i].Date)
			if remaining < 0 {
				remaining = 0
			}
			weight = decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(totalDays)))
		}

		flows = append(flows, CashFlow{
			Date:   window[i].Date,
			Amount: delta,
			Weight: weight,
		})
	}
	return flows
}

// ChartSeries produces the displayable point series using the cheap
// per-point approximation (total - deployed) / deployed. The approximation
// trades time-weighting precision for O(1)-per-point cost; the authoritative
// period return always comes from PeriodReturn and is never read off the
// last chart point. Snapshots with no deployed capital carry no trend and
// are skipped.
func ChartSeries(window []Snapshot) []models.ChartPoint {
	points := make([]models.ChartPoint, 0, len(window))
	for _, s := range window {
		if !s.MaxCashDeployed.IsPositive() {
			continue
		}
		value := s.TotalValue().Sub(s.MaxCashDeployed).Div(s.MaxCashDeployed)
		points = append(points, models.ChartPoint{
			Timestamp: s.At,
			Value:     value,
		})
	}
	return points
}

// BenchmarkReturn is the plain percentage change of the index between the
// period boundaries. The benchmark models a passive, fully-invested holding
// with no flow events, so it is not time-weighted.
func BenchmarkReturn(startClose, endClose decimal.Decimal) (decimal.Decimal, error) {
	if startClose.Abs().LessThan(denominatorEpsilon) {
		return decimal.Zero, errors.NewNotComputableError("benchmark start value is zero or near-zero")
	}
	return endClose.Sub(startClose).Div(startClose), nil
}
