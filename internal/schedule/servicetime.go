package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseServiceTime parses a GTFS H:MM:SS value into the offset from the
// service day's midnight. Hours may exceed 23 for trips running past
// midnight.
func ParseServiceTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid service time %q: want H:MM:SS", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid service time %q: bad hours", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid service time %q: bad minutes", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("invalid service time %q: bad seconds", s)
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// Midnight returns 00:00 of t's calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ServiceDayTime resolves a GTFS time on the service day containing day.
// Overflow past 24h lands on the following calendar day.
func ServiceDayTime(day time.Time, s string) (time.Time, error) {
	off, err := ParseServiceTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return Midnight(day).Add(off), nil
}
