package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed five-field cron expression that satisfies
// Schedule. Fields are minute, hour, day-of-month, month and day-of-week
// (0 = Sunday). Each field accepts *, n, n-m and a /step suffix, and a
// comma-separated list of those. Times are matched in the location of the
// time passed to Next.
//
//	"*/5 * * * *"  every 5 minutes
//	"5 0 * * *"    every day at 00:05
//	"0 9 * * 1-5"  weekdays at 09:00
type CronExpression struct {
	raw      string
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet
}

// fieldSet has bit i set when value i matches.
type fieldSet uint64

func (f fieldSet) has(v int) bool {
	return f&(1<<uint(v)) != 0
}

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{raw: expr}
	layout := []struct {
		name     string
		min, max int
		dst      *fieldSet
	}{
		{"minute", 0, 59, &ce.minutes},
		{"hour", 0, 23, &ce.hours},
		{"day", 1, 31, &ce.days},
		{"month", 1, 12, &ce.months},
		{"weekday", 0, 6, &ce.weekdays},
	}

	for i, f := range layout {
		set, err := parseField(fields[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		*f.dst = set
	}
	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseRange(part, min, max)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// parseRange parses one list element: *, n, n-m, optionally followed by /step.
// A bare n/step runs from n to max.
func parseRange(part string, min, max int) (lo, hi, step int, err error) {
	step = 1
	base := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		base = part[:i]
		step, err = strconv.Atoi(part[i+1:])
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step in %q", part)
		}
	}

	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		if lo, err = strconv.Atoi(bounds[0]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start in %q", part)
		}
		if hi, err = strconv.Atoi(bounds[1]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end in %q", part)
		}
	default:
		if lo, err = strconv.Atoi(base); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", part)
		}
		hi = lo
		if step > 1 {
			hi = max
		}
	}

	if lo < min || hi > max || lo > hi {
		return 0, 0, 0, fmt.Errorf("%q out of range [%d-%d]", part, min, max)
	}
	return lo, hi, step, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time, or
// the zero time when nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return ce.minutes.has(t.Minute()) &&
		ce.hours.has(t.Hour()) &&
		ce.days.has(t.Day()) &&
		ce.months.has(int(t.Month())) &&
		ce.weekdays.has(int(t.Weekday()))
}

// Every fires a fixed duration after the previous run started. It is the
// schedule used when no cron expression is configured.
type Every time.Duration

// NewIntervalSchedule returns an Every schedule.
func NewIntervalSchedule(d time.Duration) Every { return Every(d) }

// Next returns the zero time for a non-positive interval, which never fires.
func (e Every) Next(t time.Time) time.Time {
	if e <= 0 {
		return time.Time{}
	}
	return t.Add(time.Duration(e))
}

func (e Every) String() string { return "@every " + time.Duration(e).String() }
