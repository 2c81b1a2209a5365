package platform

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Layouts accepted for string timestamps, tried in order.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999", // no zone, assumed UTC
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseISOTime parses an ISO-8601 timestamp in any of the forms the
// platforms emit and returns it in UTC.
func ParseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// ParseTimeField parses an optional timestamp field of one platform item.
// Empty values and values that fail to parse yield nil; the latter are logged
// against the item id.
func ParseTimeField(value, field, id string, logger *zap.Logger) *time.Time {
	if value == "" {
		return nil
	}
	t, err := ParseISOTime(value)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to parse timestamp", zap.String("id", id), zap.String("field", field), zap.Error(err))
		}
		return nil
	}
	return &t
}

// FromEpochMillis converts epoch milliseconds to a UTC time. Zero or
// negative values mean the platform did not report the time.
func FromEpochMillis(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// DurationBetween returns whole seconds from start to end, truncated toward
// zero. It is nil when either end is missing or end precedes start.
func DurationBetween(start, end *time.Time) *int64 {
	if start == nil || end == nil {
		return nil
	}
	d := end.Sub(*start)
	if d < 0 {
		return nil
	}
	secs := int64(d / time.Second)
	return &secs
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
