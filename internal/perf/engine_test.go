package perf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/marketcal"
)

func date(y int, m time.Month, d int) marketcal.Date {
	return marketcal.Date{Year: y, Month: m, Day: d}
}

func snap(d marketcal.Date, stock, cash, deployed float64) Snapshot {
	return Snapshot{
		At:              d.UTC(),
		Date:            d,
		StockValue:      decimal.NewFromFloat(stock),
		CashProceeds:    decimal.NewFromFloat(cash),
		MaxCashDeployed: decimal.NewFromFloat(deployed),
	}
}

func TestPeriodReturn_FlatValueNoFlows(t *testing.T) {
	window := []Snapshot{
		snap(date(2024, time.March, 1), 10000, 0, 10000),
		snap(date(2024, time.March, 15), 9500, 500, 10000),
		snap(date(2024, time.March, 29), 10000, 0, 10000),
	}

	ret, err := PeriodReturn(window, date(2024, time.March, 29))
	require.NoError(t, err)
	assert.True(t, ret.IsZero(), "flat value with no flows must be exactly 0%%, got %s", ret)
}

func TestPeriodReturn_SingleDeployment(t *testing.T) {
	// $10,000 deployed on day 1, worth $11,000 on day 30, no further flows.
	window := []Snapshot{
		snap(date(2024, time.January, 1), 10000, 0, 10000),
		snap(date(2024, time.January, 30), 11000, 0, 10000),
	}

	ret, err := PeriodReturn(window, date(2024, time.January, 30))
	require.NoError(t, err)
	assert.True(t, ret.Equal(decimal.NewFromFloat(0.10)), "want 10.00%%, got %s", ret)
}

func TestPeriodReturn_MidPeriodFlowIsTimeWeighted(t *testing.T) {
	// $10,000 on day 1, an additional $5,000 exactly at the midpoint,
	// ending at $16,500. The new capital carries half weight:
	// (16500 - 10000 - 5000) / (10000 + 0.5*5000) = 12%.
	window := []Snapshot{
		snap(date(2024, time.January, 1), 10000, 0, 10000),
		snap(date(2024, time.January, 16), 15000, 0, 15000),
		snap(date(2024, time.January, 31), 16500, 0, 15000),
	}

	ret, err := PeriodReturn(window, date(2024, time.January, 31))
	require.NoError(t, err)

	assert.True(t, ret.Equal(decimal.NewFromFloat(0.12)), "want 12%%, got %s", ret)

	// Strictly greater than the naive 1500/15000 = 10% computation.
	naive := decimal.NewFromFloat(0.10)
	assert.True(t, ret.GreaterThan(naive), "time-weighted %s must exceed naive %s", ret, naive)
}

func TestPeriodReturn_InsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		window []Snapshot
	}{
		{name: "empty window", window: nil},
		{name: "single snapshot", window: []Snapshot{
			snap(date(2024, time.January, 1), 10000, 0, 10000),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PeriodReturn(tt.window, date(2024, time.January, 31))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeInsufficientData))
		})
	}
}

func TestPeriodReturn_ZeroWeightedBaseNotComputable(t *testing.T) {
	// User starts the period with zero value and deploys capital on the last
	// day: the flow carries zero weight, so the denominator collapses.
	window := []Snapshot{
		snap(date(2024, time.January, 1), 0, 0, 0),
		snap(date(2024, time.January, 31), 5000, 0, 5000),
	}

	_, err := PeriodReturn(window, date(2024, time.January, 31))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNotComputable),
		"degenerate denominator must be NotComputable, never 0%%")
}

func TestPeriodReturn_JoinedMidPeriod(t *testing.T) {
	// First snapshot two weeks into the requested window acts as the
	// effective period start.
	window := []Snapshot{
		snap(date(2024, time.June, 14), 20000, 0, 20000),
		snap(date(2024, time.June, 28), 21000, 0, 20000),
	}

	ret, err := PeriodReturn(window, date(2024, time.June, 28))
	require.NoError(t, err)
	assert.True(t, ret.Equal(decimal.NewFromFloat(0.05)), "want 5%%, got %s", ret)
}

func TestPeriodReturn_RatchetNeverTreatedAsWithdrawal(t *testing.T) {
	// MaxCashDeployed is non-decreasing; equal consecutive values produce no
	// flow even when total value drops.
	window := []Snapshot{
		snap(date(2024, time.February, 1), 10000, 0, 10000),
		snap(date(2024, time.February, 15), 8000, 0, 10000),
		snap(date(2024, time.February, 29), 9000, 0, 10000),
	}

	ret, err := PeriodReturn(window, date(2024, time.February, 29))
	require.NoError(t, err)
	assert.True(t, ret.Equal(decimal.NewFromFloat(-0.10)), "want -10%%, got %s", ret)
}

func TestChartSeries(t *testing.T) {
	window := []Snapshot{
		snap(date(2024, time.January, 1), 0, 0, 0), // nothing deployed, skipped
		snap(date(2024, time.January, 2), 10000, 0, 10000),
		snap(date(2024, time.January, 3), 10500, 500, 10000),
	}

	points := ChartSeries(window)
	require.Len(t, points, 2)

	assert.True(t, points[0].Value.IsZero())
	assert.True(t, points[1].Value.Equal(decimal.NewFromFloat(0.10)),
		"(11000-10000)/10000 should be 10%%, got %s", points[1].Value)
}

func TestBenchmarkReturn(t *testing.T) {
	ret, err := BenchmarkReturn(decimal.NewFromInt(100), decimal.NewFromFloat(113.95))
	require.NoError(t, err)
	assert.True(t, ret.Equal(decimal.NewFromFloat(0.1395)), "want 13.95%%, got %s", ret)
}

func TestBenchmarkReturn_ZeroStart(t *testing.T) {
	_, err := BenchmarkReturn(decimal.Zero, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNotComputable))
}
