package model

import (
	"fmt"
	"time"
)

// RangeKey identifies one of the rolling date windows every derived cache is scoped to.
type RangeKey string

const (
	RangeLast7Days   RangeKey = "last_7_days"
	RangeLast30Days  RangeKey = "last_30_days"
	RangeLast90Days  RangeKey = "last_90_days"
	RangeLast365Days RangeKey = "last_365_days"
	RangeAllTime     RangeKey = "all_time"
)

// DefaultRangeKey is used when a caller does not name a range.
const DefaultRangeKey = RangeLast30Days

// RangeKeys lists every range key, shortest window first.
var RangeKeys = []RangeKey{RangeLast7Days, RangeLast30Days, RangeLast90Days, RangeLast365Days, RangeAllTime}

// DateLayout is the calendar-date layout used for every dateISO field.
const DateLayout = "2006-01-02"

// ParseRangeKey validates s as a RangeKey. The empty string yields DefaultRangeKey.
func ParseRangeKey(s string) (RangeKey, error) {
	if s == "" {
		return DefaultRangeKey, nil
	}
	r := RangeKey(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid rangeKey %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known range keys.
func (r RangeKey) Valid() bool {
	switch r {
	case RangeLast7Days, RangeLast30Days, RangeLast90Days, RangeLast365Days, RangeAllTime:
		return true
	}
	return false
}

// Days returns the window length in days, or 0 for all_time.
func (r RangeKey) Days() int {
	switch r {
	case RangeLast7Days:
		return 7
	case RangeLast30Days:
		return 30
	case RangeLast90Days:
		return 90
	case RangeLast365Days:
		return 365
	}
	return 0
}

// Label returns the patient-facing description of the window.
func (r RangeKey) Label() string {
	if r == RangeAllTime {
		return "All time"
	}
	return fmt.Sprintf("Last %d days", r.Days())
}

// DateWindow is an inclusive calendar-date window. An empty Start means unbounded.
type DateWindow struct {
	Start string
	End   string
}

// Window returns the inclusive window [today-N+1, today] for r.
func (r RangeKey) Window(now time.Time) DateWindow {
	end := DateISO(now)
	if r == RangeAllTime {
		return DateWindow{End: end}
	}
	start := truncateDay(now).AddDate(0, 0, -(r.Days() - 1))
	return DateWindow{Start: DateISO(start), End: end}
}

// Contains reports whether dateISO falls inside the window.
func (w DateWindow) Contains(dateISO string) bool {
	if w.Start != "" && dateISO < w.Start {
		return false
	}
	return w.End == "" || dateISO <= w.End
}

// DateISO formats t as a UTC calendar date.
func DateISO(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDateISO parses a calendar date as midnight UTC.
func ParseDateISO(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns the whole number of UTC days from a to b.
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDateISO(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDateISO(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// EachDate returns every calendar date from start to end inclusive.
func EachDate(start, end string) ([]string, error) {
	ts, err := ParseDateISO(start)
	if err != nil {
		return nil, err
	}
	te, err := ParseDateISO(end)
	if err != nil {
		return nil, err
	}
	var dates []string
	for d := ts; !d.After(te); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// WeekStart returns the Monday starting the ISO week that contains dateISO.
func WeekStart(dateISO string) (string, error) {
	t, err := ParseDateISO(dateISO)
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(DateLayout), nil
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
