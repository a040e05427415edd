package utils

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order when parsing bar dates from files and providers.
var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	"20060102",
	time.RFC3339,
	time.DateTime,
}

// TruncateToDate returns the UTC midnight of t's calendar date.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date, accepting the common layouts found in OHLCV exports.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return TruncateToDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// NextWeekday returns the next Monday-to-Friday date strictly after t.
func NextWeekday(t time.Time) time.Time {
	next := TruncateToDate(t).AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
