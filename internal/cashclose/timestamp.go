package cashclose

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// maxEpochMillis bounds epoch values to the range a calendar date can represent.
const maxEpochMillis = 8.64e15

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type dateAccessor interface {
	ToDate() time.Time
}

type timeAccessor interface {
	AsTime() time.Time
}

// resolveTime turns a foreign timestamp shape into an instant. Date-only strings
// are read as midnight in loc so they keep their calendar day.
func resolveTime(raw any, loc *time.Location) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case Timestamp:
		return v.Time, !v.Time.IsZero()
	case string:
		return parseTimeString(v, loc)
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpochMillis(f)
	case float64:
		return fromEpochMillis(v)
	case float32:
		return fromEpochMillis(float64(v))
	case int:
		return fromEpochMillis(float64(v))
	case int32:
		return fromEpochMillis(float64(v))
	case int64:
		return fromEpochMillis(float64(v))
	case uint32:
		return fromEpochMillis(float64(v))
	case uint64:
		return fromEpochMillis(float64(v))
	case dateAccessor:
		t := v.ToDate()
		return t, !t.IsZero()
	case timeAccessor:
		t := v.AsTime()
		return t, !t.IsZero()
	case map[string]any:
		return fromSecondsObject(v)
	}
	return time.Time{}, false
}

func parseTimeString(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation(DateKeyLayout, s, loc); err == nil {
		return t, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpochMillis(f)
	}
	return time.Time{}, false
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Trunc(ms))).UTC(), true
}

// fromSecondsObject reads serialized store timestamps such as {"_seconds": 1, "_nanoseconds": 0}.
func fromSecondsObject(m map[string]any) (time.Time, bool) {
	secRaw, ok := m["seconds"]
	if !ok {
		secRaw, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, false
	}
	sec, ok := parseNumber(secRaw)
	if !ok {
		return time.Time{}, false
	}
	nsRaw, ok := m["nanoseconds"]
	if !ok {
		nsRaw = m["_nanoseconds"]
	}
	ns, _ := parseNumber(nsRaw)
	if math.Abs(sec) > maxEpochMillis/1000 {
		return time.Time{}, false
	}
	return time.Unix(int64(sec), int64(ns)).UTC(), true
}

func parseNumber(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
