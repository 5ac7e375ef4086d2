package tgui

import (
	"strconv"
	"time"
)

// TimeLayout renders announcement timestamps (day first, 24h clock).
const TimeLayout = "15:04:05 02/01/2006"

// FormatPrice renders n with '.' thousand separators: 1500000 -> "1.500.000".
func FormatPrice(n int64) string {
	neg := n < 0
	s := strconv.FormatInt(n, 10)
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3+1)
	if neg {
		out = append(out, '-')
	}
	head := len(s) % 3
	if head > 0 {
		out = append(out, s[:head]...)
	}
	for i := head; i < len(s); i += 3 {
		if len(out) > 0 && !(neg && len(out) == 1) {
			out = append(out, '.')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}

// FormatTime renders t in loc with TimeLayout. A nil loc means UTC; a zero
// t renders as "N/A".
func FormatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "N/A"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimeLayout)
}

// LoadLocation resolves name, falling back to UTC when it is empty or unknown.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
