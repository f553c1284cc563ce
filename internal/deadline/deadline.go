package deadline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDeadline = errors.New("invalid deadline")

const DateLayout = "2006-01-02"

// Resolve merges a calendar date ("2006-01-02", or an RFC3339 timestamp whose
// calendar date is used) and a time of day ("HH:MM") into one instant in loc.
// Seconds are always zero.
func Resolve(date, hhmm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	y, m, d, err := parseDate(strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(y, m, d, hour, minute, 0, 0, loc), nil
}

func parseDate(s string, loc *time.Location) (int, time.Month, int, error) {
	if s == "" {
		return 0, 0, 0, fmt.Errorf("%w: date is required", ErrInvalidDeadline)
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		y, m, d := t.Date()
		return y, m, d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.In(loc).Date()
		return y, m, d, nil
	}
	return 0, 0, 0, fmt.Errorf("%w: date %q is not a valid calendar date", ErrInvalidDeadline, s)
}

// ParseClock validates an "HH:MM" pair: hour 0-23 (one or two digits), minute 00-59.
func ParseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidDeadline, s)
	}

	hour, err := strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 || !digits(hs) {
		return 0, 0, fmt.Errorf("%w: hour in %q out of range", ErrInvalidDeadline, s)
	}
	minute, err := strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 || !digits(ms) {
		return 0, 0, fmt.Errorf("%w: minute in %q out of range", ErrInvalidDeadline, s)
	}
	return hour, minute, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
