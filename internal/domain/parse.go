package domain

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// lapTimePattern matches "M:SS.fff" lap and sector times ("1:31.234").
var lapTimePattern = regexp.MustCompile(`^(\d+):(\d+\.\d+)`)

// naiveLayouts are accepted for timestamps that carry no zone; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseFloat coerces a feed value to a float. Empty, non-numeric and
// non-finite values are unknown (nil).
func ParseFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseInt coerces a feed value to an integer. Numbers are truncated toward
// zero; strings must be plain integers.
func ParseInt(v any) *int {
	switch t := v.(type) {
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		n := int(t)
		return &n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

// ParseLapTime converts a lap or sector time to seconds. Plain numbers are
// taken as seconds; "M:SS.fff" strings are converted. Anything else is unknown.
func ParseLapTime(v any) *float64 {
	if f := ParseFloat(v); f != nil {
		return f
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	m := lapTimePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	seconds, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil
	}
	total := float64(minutes)*60 + seconds
	return &total
}

// ParseRainfall maps the rainfall indicator to 1.0 (rain) or 0.0 (dry).
// Booleans and "true"/"false" are accepted, as are numeric values.
func ParseRainfall(v any) *float64 {
	one, zero := 1.0, 0.0
	switch t := v.(type) {
	case bool:
		if t {
			return &one
		}
		return &zero
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return &one
		case "false":
			return &zero
		}
	}
	return ParseFloat(v)
}

// ParseTimestamp parses an ISO-8601 timestamp and normalizes it to UTC. When
// the value cannot be parsed it returns the clock's current time and false so
// the caller can report the fallback.
func ParseTimestamp(raw string) (time.Time, bool) {
	if t, ok := parseTime(raw); ok {
		return t, true
	}
	return Now(), false
}

// ParseTimestampOr is ParseTimestamp with an explicit fallback instead of "now".
func ParseTimestampOr(raw any, fallback time.Time) (time.Time, bool) {
	s, _ := raw.(string)
	if t, ok := parseTime(s); ok {
		return t, true
	}
	return fallback, false
}

func parseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseLocalTime parses a session date given in track-local time plus a
// "HH:MM:SS" GMT offset, returning UTC. Zone-aware values ignore the offset.
func parseLocalTime(raw, gmtOffset any) *time.Time {
	s, _ := raw.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	for _, layout := range naiveLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if off, ok := parseOffset(gmtOffset); ok {
			t = t.Add(-off)
		}
		t = t.UTC()
		return &t
	}
	return nil
}

func parseOffset(v any) (time.Duration, bool) {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		d += time.Duration(n) * units[i]
	}
	return sign * d, true
}

// ParseString returns a non-empty string value, formatting numbers. Anything
// else is unknown.
func ParseString(v any) *string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case int:
		s := strconv.Itoa(t)
		return &s
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// unwrapLines returns m["Lines"] when present, the shape used by the live
// feed for per-driver topics.
func unwrapLines(m map[string]any) map[string]any {
	if inner, ok := asMap(m["Lines"]); ok {
		return inner
	}
	return m
}

// firstOf returns the first present, non-nil value among keys.
func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// valueOf reads a {"Value": x} wrapper, falling back to the bare value.
func valueOf(v any) any {
	if m, ok := asMap(v); ok {
		return m["Value"]
	}
	return v
}

// path walks nested maps by key.
func path(v any, keys ...string) any {
	for _, k := range keys {
		m, ok := asMap(v)
		if !ok {
			return nil
		}
		v = m[k]
	}
	return v
}

// entries iterates a collection that the feed sends either as a list or as
// a map keyed by index. Map entries are visited in numeric key order.
func entries(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sortNumeric(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, t[k])
		}
		return out
	}
	return nil
}

// sortNumeric orders keys numerically where possible, non-numeric keys last.
func sortNumeric(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortNumeric(keys)
	return keys
}
