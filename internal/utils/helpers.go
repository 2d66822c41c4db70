package utils

import (
	"fmt"
	"time"
)

// Compare compares two numbers with one of >, <, >=, <=, ==
func Compare(actual float64, op string, expected float64) (bool, error) {
	switch op {
	case ">":
		return actual > expected, nil
	case "<":
		return actual < expected, nil
	case ">=":
		return actual >= expected, nil
	case "<=":
		return actual <= expected, nil
	case "==":
		return actual == expected, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// SinceMidnight returns the wall-clock offset of t from its local midnight.
func SinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}

// InClockRange reports whether now lies in [start, end]. When end is before
// start the range wraps past midnight.
func InClockRange(now, start, end time.Duration) bool {
	if end < start {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}

// ISOTimestamp formats t the way device envelopes carry it.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
