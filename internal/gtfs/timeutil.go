package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDaySeconds parses HH:MM:SS possibly with hours >= 24.
// Malformed input yields 0, which callers treat as untimed.
func ParseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	sec := 0
	if len(parts) == 3 {
		if sec, err = strconv.Atoi(parts[2]); err != nil {
			return 0
		}
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

// TimeToMinutes converts HH:MM:SS to whole minutes since midnight.
func TimeToMinutes(s string) int {
	return ParseDaySeconds(s) / 60
}

// MinutesToTime formats minutes since midnight as HH:MM:00. Negative
// values clamp to midnight.
func MinutesToTime(min int) string {
	if min < 0 {
		min = 0
	}
	return fmt.Sprintf("%02d:%02d:00", min/60, min%60)
}

// MinutesSinceMidnight returns t's minutes since local midnight in t's zone.
func MinutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
