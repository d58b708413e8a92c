// Package period computes UTC-aligned accounting windows and their string
// keys. All functions are pure; callers pass the instant they care about.
// Half-day windows are [00:00,12:00) and [12:00,24:00) UTC, the finest
// granularity the durable store keeps. Local timezones and DST never enter
// the picture.
package period

import (
	"fmt"
	"time"
)

// Layouts for period keys. Half-day keys look like "2025-01-10T12",
// month keys like "2025-01".
const (
	HalfDayKeyLayout = "2006-01-02T15"
	MonthKeyLayout   = "2006-01"
)

// Window is a period with its canonical key. EndInclusive is the last
// representable instant inside the window; EndExclusive the first instant
// outside it.
type Window struct {
	Key          string
	Start        time.Time
	EndInclusive time.Time
	EndExclusive time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.EndExclusive)
}

func window(key string, start, end time.Time) Window {
	return Window{
		Key:          key,
		Start:        start,
		EndInclusive: end.Add(-time.Nanosecond),
		EndExclusive: end,
	}
}

// HalfDay returns the half-day window containing t.
func HalfDay(t time.Time) Window {
	t = t.UTC()
	hour := 0
	if t.Hour() >= 12 {
		hour = 12
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
	return window(start.Format(HalfDayKeyLayout), start, start.Add(12*time.Hour))
}

// PreviousHalfDay returns the half-day window immediately before the one
// containing now. This is the window the sync job normally drains.
func PreviousHalfDay(now time.Time) Window {
	return HalfDay(HalfDay(now).Start.Add(-time.Nanosecond))
}

// NextHalfDay returns the half-day window immediately after the one
// containing t.
func NextHalfDay(t time.Time) Window {
	return HalfDay(HalfDay(t).EndExclusive)
}

// HalfDayFromKey parses a half-day key back into its window. The round trip
// is exact: HalfDayFromKey(w.Key) == w for every half-day window w.
func HalfDayFromKey(key string) (Window, error) {
	start, err := time.ParseInLocation(HalfDayKeyLayout, key, time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("parse half-day key %q: %w", key, err)
	}
	if h := start.Hour(); h != 0 && h != 12 {
		return Window{}, fmt.Errorf("half-day key %q: hour must be 00 or 12", key)
	}
	return window(key, start, start.Add(12*time.Hour)), nil
}

// Day returns the UTC calendar day window containing t.
func Day(t time.Time) Window {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return window(start.Format("2006-01-02"), start, start.AddDate(0, 0, 1))
}

// Week returns the ISO week window (Monday 00:00 UTC start) containing t.
func Week(t time.Time) Window {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	start := day.AddDate(0, 0, -offset)
	year, week := start.ISOWeek()
	return window(fmt.Sprintf("%04d-W%02d", year, week), start, start.AddDate(0, 0, 7))
}

// Month returns the UTC calendar month window containing t.
func Month(t time.Time) Window {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return window(start.Format(MonthKeyLayout), start, start.AddDate(0, 1, 0))
}

// MonthKey returns the month key ("2006-01") for t.
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthKeyLayout)
}

// MonthFromKey parses a month key back into its window.
func MonthFromKey(key string) (Window, error) {
	start, err := time.ParseInLocation(MonthKeyLayout, key, time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("parse month key %q: %w", key, err)
	}
	return window(key, start, start.AddDate(0, 1, 0)), nil
}

// NextMonthStart returns the first instant of the calendar month after the
// one containing t. Quota-exceeded responses report this as resetAt.
func NextMonthStart(t time.Time) time.Time {
	return Month(t).EndExclusive
}

// HalfDaysBetween enumerates every half-day window strictly after the window
// containing 'after' up to and including the window containing 'until', in
// chronological order. Returns nil when until is not ahead of after.
func HalfDaysBetween(after, until time.Time) []Window {
	target := HalfDay(until)
	w := NextHalfDay(after)
	var out []Window
	for !w.Start.After(target.Start) {
		out = append(out, w)
		w = NextHalfDay(w.Start)
	}
	return out
}
