package content

import (
	"strconv"
	"strings"
	"time"
)

// millisThreshold separates second and millisecond epoch values: anything
// below it is taken to be seconds.
const millisThreshold = 1_000_000_000_000

var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
	time.RubyDate,
}

// MillisFromInt scales second-resolution epochs to milliseconds. Non-positive
// values mean unknown and map to 0.
func MillisFromInt(ts int64) int64 {
	switch {
	case ts <= 0:
		return 0
	case ts < millisThreshold:
		return ts * 1000
	default:
		return ts
	}
}

// ParseMillis converts a free-text timestamp to epoch milliseconds. Digit
// strings go through MillisFromInt; recognised date layouts are parsed in loc
// when they carry no zone. Anything else returns 0.
func ParseMillis(raw string, loc *time.Location) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return MillisFromInt(n)
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
