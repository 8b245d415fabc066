package normalize

import (
	"strconv"
	"strings"
	"time"
)

// ParseEventTime accepts the timestamp shapes providers actually send:
// epoch seconds (10 digits or fewer), epoch milliseconds, ISO-8601 /
// RFC3339 strings, or an already-parsed time. Invalid or absent values
// return nil.
func ParseEventTime(v any) *time.Time {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		if val.IsZero() {
			return nil
		}
		t := val.UTC()
		return &t
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil
		}
		t := val.UTC()
		return &t
	case float64:
		return epochToTime(int64(val))
	case int64:
		return epochToTime(val)
	case int:
		return epochToTime(int64(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// epochToTime interprets n as seconds when it fits in 10 digits,
// milliseconds otherwise.
func epochToTime(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var t time.Time
	if n <= 9_999_999_999 {
		t = time.Unix(n, 0).UTC()
	} else {
		t = time.UnixMilli(n).UTC()
	}
	return &t
}
