package domain

import (
	"strings"
	"time"
)

// DateLayout is the ISO 8601 calendar date format used in prompts and
// completion-service responses.
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string. The second return is false for
// empty or malformed input.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekStart returns the Monday on or before day.
func WeekStart(day time.Time) time.Time {
	day = DateOf(day)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthStart returns the first day of day's month.
func MonthStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonth returns the first and last day of the month before day.
func PreviousMonth(day time.Time) (time.Time, time.Time) {
	start := MonthStart(day).AddDate(0, -1, 0)
	end := MonthStart(day).AddDate(0, 0, -1)
	return start, end
}
