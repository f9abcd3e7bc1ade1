// Package timeframe provides day-granularity date ranges for the sync and
// dashboard query paths. All dates are handled in UTC; the canonical string
// form is "YYYY-MM-DD", matching what the database stores and what the
// dashboard API accepts.
package timeframe

import (
	"fmt"
	"time"
)

// DayFormat is the canonical date layout used in storage and the API.
const DayFormat = "2006-01-02"

// CompactDayFormat is the layout the GA4 Data API returns for the date
// dimension ("20060102").
const CompactDayFormat = "20060102"

// DayRange represents an inclusive range of calendar days.
type DayRange struct {
	From time.Time
	To   time.Time
}

// NewDayRange builds a range from two day-granularity times. Both bounds are
// truncated to midnight UTC. Returns an error when from is after to.
func NewDayRange(from, to time.Time) (DayRange, error) {
	from = TruncateToDay(from)
	to = TruncateToDay(to)
	if from.After(to) {
		return DayRange{}, fmt.Errorf("invalid day range: %s is after %s", FormatDay(from), FormatDay(to))
	}
	return DayRange{From: from, To: to}, nil
}

// ParseDayRange parses two "YYYY-MM-DD" strings into a DayRange.
func ParseDayRange(fromStr, toStr string) (DayRange, error) {
	from, err := ParseDay(fromStr)
	if err != nil {
		return DayRange{}, err
	}
	to, err := ParseDay(toStr)
	if err != nil {
		return DayRange{}, err
	}
	return NewDayRange(from, to)
}

// TrailingWindow returns the range of `days` calendar days ending at `end`
// (inclusive). A 1-day window covers only `end` itself.
func TrailingWindow(end time.Time, days int) DayRange {
	if days < 1 {
		days = 1
	}
	end = TruncateToDay(end)
	return DayRange{From: end.AddDate(0, 0, -(days - 1)), To: end}
}

// Days returns the number of calendar days covered by the range.
func (r DayRange) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// FromString returns the lower bound in canonical form.
func (r DayRange) FromString() string {
	return FormatDay(r.From)
}

// ToString returns the upper bound in canonical form.
func (r DayRange) ToString() string {
	return FormatDay(r.To)
}

// Contains reports whether the given day string falls inside the range.
func (r DayRange) Contains(day string) bool {
	d, err := ParseDay(day)
	if err != nil {
		return false
	}
	return !d.Before(r.From) && !d.After(r.To)
}

// ParseDay parses a "YYYY-MM-DD" string into a midnight-UTC time.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t.UTC(), nil
}

// FormatDay renders a time in canonical "YYYY-MM-DD" form.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// TruncateToDay drops the time-of-day component, keeping midnight UTC.
func TruncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeCompactDay converts a GA4 compact date ("20240131") to the
// canonical "2024-01-31" form.
func NormalizeCompactDay(s string) (string, error) {
	t, err := time.Parse(CompactDayFormat, s)
	if err != nil {
		return "", fmt.Errorf("invalid compact date %q (want YYYYMMDD): %w", s, err)
	}
	return t.Format(DayFormat), nil
}
