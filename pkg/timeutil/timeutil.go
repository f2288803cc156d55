// Package timeutil provides calendar-day arithmetic in one canonical timezone.
// Streaks are counted in whole calendar days, so every activity timestamp is
// reduced to a date in the configured location before it is compared.
package timeutil

import (
	"fmt"
	"time"
)

// Calendar maps instants to calendar dates in a fixed location.
// A date is represented as midnight UTC of that Y/M/D, which keeps date
// arithmetic free of DST jumps and makes dates safe to store in DATE columns.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar creates a calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// UTC is the calendar used when nothing else is configured.
func UTC() *Calendar {
	return NewCalendar(time.UTC)
}

// LoadCalendar resolves an IANA zone name.
func LoadCalendar(name string) (*Calendar, error) {
	if name == "" {
		return UTC(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return NewCalendar(loc), nil
}

// WithClock returns a copy of the calendar that reads the current time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

// Location returns the canonical location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in the canonical location.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current calendar date.
func (c *Calendar) Today() time.Time {
	return c.Date(c.now())
}

// Date reduces an instant to its calendar date in the canonical location.
func (c *Calendar) Date(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns local midnight of the day containing t.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// DaysAgo returns the instant at local midnight n days before today.
func (c *Calendar) DaysAgo(n int) time.Time {
	return c.StartOfDay(c.now()).AddDate(0, 0, -n)
}

// DaysBetween returns the signed number of calendar days from a to b.
// Both arguments are reduced to dates first, so 23:59 and 00:01 of the
// next day are one day apart.
func (c *Calendar) DaysBetween(a, b time.Time) int {
	return DateDiff(c.Date(a), c.Date(b))
}

// DateDiff returns the signed day difference between two values produced by Date.
func DateDiff(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(time.DateOnly)
}

// ParseDate parses YYYY-MM-DD into a date value.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
