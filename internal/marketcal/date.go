package marketcal

import (
	"fmt"
	"time"
)

// Date is an exchange-local civil date. It carries no clock or zone and is
// comparable, so it can key maps and holiday sets.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf converts an absolute instant to the civil date observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	local := t.In(loc)
	return Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// UTC returns midnight of the date in UTC; the storage representation of a
// trading date.
func (d Date) UTC() time.Time {
	return d.Time(time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// After reports whether d is later than o.
func (d Date) After(o Date) bool {
	return o.Before(d)
}

// AddDays returns the date n calendar days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	t := d.UTC().AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// AddMonths returns the date n calendar months after d, normalized the way
// time.AddDate normalizes (Jan 31 - 1 month rolls over).
func (d Date) AddMonths(n int) Date {
	t := d.UTC().AddDate(0, n, 0)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// AddYears returns the date n calendar years after d.
func (d Date) AddYears(n int) Date {
	t := d.UTC().AddDate(n, 0, 0)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DaysSince returns the number of calendar days from o to d.
func (d Date) DaysSince(o Date) int {
	return int(d.UTC().Sub(o.UTC()).Hours() / 24)
}

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday {
	return d.UTC().Weekday()
}
