// Package marketcal is the single source of truth for "what date is this" in
// the exchange's calendar. Every snapshot-date assignment and every period
// boundary computation goes through this package; no other component derives
// a calendar date from a raw instant.
package marketcal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-pulse/internal/models"
)

// SessionStatus classifies an instant relative to the exchange session.
type SessionStatus string

const (
	SessionPreMarket  SessionStatus = "pre_market"
	SessionOpen       SessionStatus = "open"
	SessionAfterHours SessionStatus = "after_hours"
	SessionClosed     SessionStatus = "closed" // non-trading day
)

type clockTime struct {
	hour   int
	minute int
}

func parseClock(hhmm string) (clockTime, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return clockTime{}, fmt.Errorf("invalid clock time %q, want HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return clockTime{}, fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return clockTime{}, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return clockTime{hour: hour, minute: minute}, nil
}

// Calendar maps absolute instants to exchange-local civil dates and answers
// trading-day and session questions. Immutable after construction.
type Calendar struct {
	loc      *time.Location
	open     clockTime
	close    clockTime
	holidays map[Date]bool
}

// NewCalendar builds a calendar for the exchange zone with the given session
// clock times and holiday set.
func NewCalendar(timezone, openTime, closeTime string, holidays []Date) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone %q: %w", timezone, err)
	}

	open, err := parseClock(openTime)
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	cls, err := parseClock(closeTime)
	if err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}

	holidaySet := make(map[Date]bool, len(holidays))
	for _, h := range holidays {
		holidaySet[h] = true
	}

	return &Calendar{loc: loc, open: open, close: cls, holidays: holidaySet}, nil
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// LocalDate maps any absolute instant to the exchange's civil date. The
// conversion always goes through the exchange zone, never the instant's own
// clock representation; a late-evening UTC instant lands on the correct
// exchange-local day.
func (c *Calendar) LocalDate(instant time.Time) Date {
	return DateOf(instant, c.loc)
}

// IsTradingDay reports whether the date is a weekday outside the holiday set.
func (c *Calendar) IsTradingDay(d Date) bool {
	wd := d.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[d]
}

// OpenAt returns the session open instant for the date.
func (c *Calendar) OpenAt(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.open.hour, c.open.minute, 0, 0, c.loc)
}

// CloseAt returns the session close instant for the date.
func (c *Calendar) CloseAt(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.close.hour, c.close.minute, 0, 0, c.loc)
}

// SessionStatus classifies an instant against the trading session of its
// exchange-local date.
func (c *Calendar) SessionStatus(instant time.Time) SessionStatus {
	d := c.LocalDate(instant)
	if !c.IsTradingDay(d) {
		return SessionClosed
	}

	local := instant.In(c.loc)
	if local.Before(c.OpenAt(d)) {
		return SessionPreMarket
	}
	if local.Before(c.CloseAt(d)) {
		return SessionOpen
	}
	return SessionAfterHours
}

// MostRecentTradingDay walks back from d (inclusive) to the nearest trading
// day.
func (c *Calendar) MostRecentTradingDay(d Date) Date {
	for !c.IsTradingDay(d) {
		d = d.AddDays(-1)
	}
	return d
}

// PreviousTradingDay returns the trading day strictly before d.
func (c *Calendar) PreviousTradingDay(d Date) Date {
	return c.MostRecentTradingDay(d.AddDays(-1))
}

// NextTradingDay returns the trading day strictly after d.
func (c *Calendar) NextTradingDay(d Date) Date {
	d = d.AddDays(1)
	for !c.IsTradingDay(d) {
		d = d.AddDays(1)
	}
	return d
}

// PeriodRange computes the [start, end] civil-date window for a reporting
// period as of the given instant. End is the most recent trading day at or
// before the instant's exchange-local date. Start is a civil boundary; it
// need not itself be a trading day since window computation picks the first
// snapshot at or after it.
func (c *Calendar) PeriodRange(period models.Period, asOf time.Time) (Date, Date, error) {
	end := c.MostRecentTradingDay(c.LocalDate(asOf))

	var start Date
	switch period {
	case models.Period1D:
		start = c.PreviousTradingDay(end)
	case models.Period5D:
		start = end
		for i := 0; i < 5; i++ {
			start = c.PreviousTradingDay(start)
		}
	case models.Period1M:
		start = end.AddMonths(-1)
	case models.Period3M:
		start = end.AddMonths(-3)
	case models.PeriodYTD:
		start = Date{Year: end.Year, Month: time.January, Day: 1}
	case models.Period1Y:
		start = end.AddYears(-1)
	default:
		return Date{}, Date{}, fmt.Errorf("unknown period %q", period)
	}

	return start, end, nil
}
