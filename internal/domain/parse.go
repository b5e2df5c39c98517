package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyTimes   = errors.New("empty time list")
	ErrInvalidTime  = errors.New("invalid time")
	ErrTooManyTimes = errors.New("too many reminder times")
)

// maxRemindTimes bounds a single user's slot set; enough for any realistic
// nudging cadence while keeping the per-tick scan cheap.
const maxRemindTimes = 12

// ParseHHMM parses "HH:MM" into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// NormalizeTimes validates a slot list and returns it sorted, deduplicated
// and zero-padded ("8:05" becomes "08:05").
func NormalizeTimes(times []string) ([]string, error) {
	if len(times) == 0 {
		return nil, ErrEmptyTimes
	}
	seen := make(map[int]struct{}, len(times))
	mins := make([]int, 0, len(times))
	for _, t := range times {
		m, err := ParseHHMM(t)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		mins = append(mins, m)
	}
	if len(mins) > maxRemindTimes {
		return nil, fmt.Errorf("%w: max %d", ErrTooManyTimes, maxRemindTimes)
	}
	sort.Ints(mins)
	out := make([]string, len(mins))
	for i, m := range mins {
		out[i] = FormatMinutes(m)
	}
	return out, nil
}

// ParseTimesList parses a comma-separated "HH:MM,HH:MM" list.
func ParseTimesList(s string) ([]string, error) {
	var raw []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			raw = append(raw, p)
		}
	}
	return NormalizeTimes(raw)
}

// ValidateTZ checks that tz is a valid IANA location and returns its
// canonical name.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}
