package record

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// ParseTimestamp normalizes a report-date value to a comparable time at
// second granularity. Three input shapes are accepted:
//
//   - a string in the given layout, interpreted in loc
//   - a native date/time value
//   - an epoch-milliseconds integer (hosted services store dates this way),
//     truncated to ten digits before conversion and always UTC
//
// Sub-second precision is dropped in every case so batch and store dates
// compare on equal footing.
func ParseTimestamp(v Value, layout string, loc *time.Location) (time.Time, error) {
	if v.IsNull() {
		return time.Time{}, eris.New("record: null timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}

	switch v.Kind() {
	case KindDate:
		if !v.Time().IsZero() {
			return v.Time().Truncate(time.Second), nil
		}
		// A date-kind field read from a hosted service carries epoch millis.
		if v.str == "" && v.i == 0 && v.f == 0 {
			return time.Time{}, eris.New("record: empty date value")
		}
		return parseEpochOrString(v, layout, loc)
	case KindInteger:
		return epochSeconds(v.IntVal()), nil
	case KindFloat:
		return epochSeconds(int64(v.FloatVal())), nil
	default:
		t, err := time.ParseInLocation(layout, v.Str(), loc)
		if err != nil {
			return time.Time{}, eris.Wrapf(err, "record: parse timestamp %q with layout %q", v.Str(), layout)
		}
		return t.Truncate(time.Second), nil
	}
}

func parseEpochOrString(v Value, layout string, loc *time.Location) (time.Time, error) {
	if v.i != 0 {
		return epochSeconds(v.i), nil
	}
	if v.f != 0 {
		return epochSeconds(int64(v.f)), nil
	}
	if n, err := strconv.ParseInt(v.str, 10, 64); err == nil {
		return epochSeconds(n), nil
	}
	t, err := time.ParseInLocation(layout, v.str, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "record: parse timestamp %q with layout %q", v.str, layout)
	}
	return t.Truncate(time.Second), nil
}

// epochSeconds converts an epoch value that may carry millisecond precision
// to a UTC time. Values longer than ten digits are truncated, not rounded,
// matching the second-granularity comparison rule.
func epochSeconds(n int64) time.Time {
	s := strconv.FormatInt(n, 10)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) > 10 {
		s = s[:10]
	}
	sec, _ := strconv.ParseInt(s, 10, 64)
	if neg {
		sec = -sec
	}
	return time.Unix(sec, 0).UTC()
}

// EpochMillis converts a time to the epoch-milliseconds integer form hosted
// services store, always UTC.
func EpochMillis(t time.Time) int64 {
	return t.UTC().Truncate(time.Second).UnixMilli()
}
