package marketcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-pulse/internal/models"
)

func newNYCalendar(t *testing.T, holidays ...Date) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York", "09:30", "16:00", holidays)
	require.NoError(t, err)
	return cal
}

func TestNewCalendar_RejectsBadInput(t *testing.T) {
	_, err := NewCalendar("Not/AZone", "09:30", "16:00", nil)
	assert.Error(t, err)

	_, err = NewCalendar("America/New_York", "930", "16:00", nil)
	assert.Error(t, err)

	_, err = NewCalendar("America/New_York", "09:30", "25:00", nil)
	assert.Error(t, err)
}

func TestLocalDate_EveningInstantStaysOnExchangeDay(t *testing.T) {
	cal := newNYCalendar(t)

	// 01:30 UTC on June 11 is the evening of June 10 in New York.
	instant := time.Date(2024, 6, 11, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, Date{Year: 2024, Month: time.June, Day: 10}, cal.LocalDate(instant),
		"01:30 UTC is the previous evening on the US east coast")

	instant = time.Date(2024, 6, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, Date{Year: 2024, Month: time.June, Day: 10}, cal.LocalDate(instant))
}

func TestIsTradingDay(t *testing.T) {
	holiday := Date{Year: 2024, Month: time.July, Day: 4}
	cal := newNYCalendar(t, holiday)

	assert.True(t, cal.IsTradingDay(Date{Year: 2024, Month: time.July, Day: 3}))
	assert.False(t, cal.IsTradingDay(holiday), "holiday")
	assert.False(t, cal.IsTradingDay(Date{Year: 2024, Month: time.July, Day: 6}), "Saturday")
	assert.False(t, cal.IsTradingDay(Date{Year: 2024, Month: time.July, Day: 7}), "Sunday")
}

func TestSessionStatus(t *testing.T) {
	cal := newNYCalendar(t)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	friday := func(hour, minute int) time.Time {
		return time.Date(2024, 6, 14, hour, minute, 0, 0, ny)
	}

	assert.Equal(t, SessionPreMarket, cal.SessionStatus(friday(9, 0)))
	assert.Equal(t, SessionOpen, cal.SessionStatus(friday(9, 30)))
	assert.Equal(t, SessionOpen, cal.SessionStatus(friday(15, 59)))
	assert.Equal(t, SessionAfterHours, cal.SessionStatus(friday(16, 0)))

	saturday := time.Date(2024, 6, 15, 12, 0, 0, 0, ny)
	assert.Equal(t, SessionClosed, cal.SessionStatus(saturday))
}

func TestTradingDayWalks(t *testing.T) {
	holiday := Date{Year: 2024, Month: time.July, Day: 4} // Thursday
	cal := newNYCalendar(t, holiday)

	// Walking back from the holiday lands on Wednesday.
	assert.Equal(t, Date{Year: 2024, Month: time.July, Day: 3}, cal.MostRecentTradingDay(holiday))
	// Saturday walks back across the holiday weekend structure.
	assert.Equal(t, Date{Year: 2024, Month: time.July, Day: 5},
		cal.MostRecentTradingDay(Date{Year: 2024, Month: time.July, Day: 6}))
	// Next trading day after Wednesday skips the holiday.
	assert.Equal(t, Date{Year: 2024, Month: time.July, Day: 5},
		cal.NextTradingDay(Date{Year: 2024, Month: time.July, Day: 3}))
	assert.Equal(t, Date{Year: 2024, Month: time.July, Day: 3},
		cal.PreviousTradingDay(Date{Year: 2024, Month: time.July, Day: 5}))
}

func TestPeriodRange(t *testing.T) {
	cal := newNYCalendar(t)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// Friday mid-session.
	asOf := time.Date(2024, 3, 15, 12, 0, 0, 0, ny)

	cases := []struct {
		period models.Period
		start  Date
		end    Date
	}{
		{models.Period1D, Date{Year: 2024, Month: time.March, Day: 14}, Date{Year: 2024, Month: time.March, Day: 15}},
		{models.Period5D, Date{Year: 2024, Month: time.March, Day: 8}, Date{Year: 2024, Month: time.March, Day: 15}},
		{models.Period1M, Date{Year: 2024, Month: time.February, Day: 15}, Date{Year: 2024, Month: time.March, Day: 15}},
		{models.Period3M, Date{Year: 2023, Month: time.December, Day: 15}, Date{Year: 2024, Month: time.March, Day: 15}},
		{models.PeriodYTD, Date{Year: 2024, Month: time.January, Day: 1}, Date{Year: 2024, Month: time.March, Day: 15}},
		{models.Period1Y, Date{Year: 2023, Month: time.March, Day: 15}, Date{Year: 2024, Month: time.March, Day: 15}},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			start, end, err := cal.PeriodRange(tc.period, asOf)
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestPeriodRange_WeekendAnchorsToFriday(t *testing.T) {
	cal := newNYCalendar(t)
	// Sunday.
	asOf := time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)

	_, end, err := cal.PeriodRange(models.Period1M, asOf)
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 15}, end)
}

func TestPeriodRange_UnknownPeriod(t *testing.T) {
	cal := newNYCalendar(t)
	_, _, err := cal.PeriodRange(models.Period("2W"), time.Now())
	assert.Error(t, err)
}

func TestDateArithmetic(t *testing.T) {
	d := Date{Year: 2024, Month: time.March, Day: 15}

	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 16}, d.AddDays(1))
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 15}, d.AddMonths(-1))
	assert.Equal(t, Date{Year: 2023, Month: time.March, Day: 15}, d.AddYears(-1))
	assert.Equal(t, 30, d.DaysSince(Date{Year: 2024, Month: time.February, Day: 14}))
	assert.True(t, d.After(Date{Year: 2024, Month: time.March, Day: 14}))
	assert.True(t, d.Before(Date{Year: 2024, Month: time.April, Day: 1}))
	assert.Equal(t, "2024-03-15", d.String())

	parsed, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDate("03/15/2024")
	assert.Error(t, err)
}

func TestDaysSince_CrossesDSTWithoutDrift(t *testing.T) {
	// The US spring-forward transition is inside this window; civil-date
	// subtraction must still count exact days.
	after := Date{Year: 2024, Month: time.March, Day: 11}
	before := Date{Year: 2024, Month: time.March, Day: 8}
	assert.Equal(t, 3, after.DaysSince(before))
}
