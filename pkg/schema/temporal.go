package schema

import (
	"strings"
	"time"
)

// Day is the length of a calendar day; time-of-day values are below it
const Day = 24 * time.Hour

var epoch = time.Unix(0, 0).UTC()

// timestampLayouts are tried in order when parsing timestamp text. Zone-less
// layouts are read as UTC. Fractional seconds are accepted by every layout.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

const dateLayout = "2006-01-02"

// ParseTimestamp parses s with the accepted timestamp layouts and returns it
// in UTC
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseDate parses an ISO date, or the date part of a timestamp
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, ok := ParseTimestamp(s); ok {
		return TruncateDate(t), true
	}
	return time.Time{}, false
}

// ParseTimeOfDay parses "15:04:05[.ffffff]" or "15:04" into a duration since
// midnight
func ParseTimeOfDay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return TimeOfDay(t), true
	}
	return 0, false
}

// TruncateDate returns midnight UTC of the calendar date t shows in its own
// location
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TimeOfDay returns the wall clock time of t as a duration since midnight
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// DaysSinceEpoch returns the number of days between 1970-01-01 and the date
func DaysSinceEpoch(t time.Time) int32 {
	return int32(TruncateDate(t).Unix() / 86400)
}

// DateFromDays is the inverse of DaysSinceEpoch
func DateFromDays(days int64) time.Time {
	return epoch.AddDate(0, 0, int(days))
}

// TimestampUnit returns the resolution of a timestamp or time logical type
func TimestampUnit(l LogicalType) time.Duration {
	switch l {
	case LogicalTimestampMillis, LogicalTimeMillis:
		return time.Millisecond
	default:
		return time.Microsecond
	}
}

// FormatTimeOfDay renders a duration since midnight as 15:04:05.ffffff
func FormatTimeOfDay(d time.Duration) string {
	return epoch.Add(d).Format("15:04:05.999999")
}

// FormatTemporal renders a canonical temporal value as text
func FormatTemporal(l LogicalType, v any) string {
	switch l {
	case LogicalDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(dateLayout)
		}
	case LogicalTimeMillis, LogicalTimeMicros:
		if d, ok := v.(time.Duration); ok {
			return FormatTimeOfDay(d)
		}
	case LogicalTimestampMillis, LogicalTimestampMicros:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return ""
}
