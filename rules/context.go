package rules

import (
	"encoding/json"
	"time"
)

// Reserved context keys
const (
	KeyCurrentTime = "current_time"
	KeyEvents      = "events"
)

// Context is the state snapshot a caller builds for one evaluation.
// Any string key may be referenced by a threshold rule.
type Context map[string]any

// HasEvent reports whether name is among the context's events.
// Accepts []string, []any of strings, and string-keyed sets.
func (c Context) HasEvent(name string) bool {
	switch events := c[KeyEvents].(type) {
	case []string:
		for _, e := range events {
			if e == name {
				return true
			}
		}
	case []any:
		for _, e := range events {
			if s, ok := e.(string); ok && s == name {
				return true
			}
		}
	case map[string]bool:
		return events[name]
	case map[string]struct{}:
		_, ok := events[name]
		return ok
	}
	return false
}

// AddEvent appends name to the context's event list
func (c Context) AddEvent(name string) {
	switch events := c[KeyEvents].(type) {
	case []string:
		c[KeyEvents] = append(events, name)
	case []any:
		c[KeyEvents] = append(events, name)
	default:
		c[KeyEvents] = []string{name}
	}
}

// snapshot copies the context without the transient events key
func (c Context) snapshot() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		if k == KeyEvents {
			continue
		}
		out[k] = v
	}
	return out
}

// currentTime returns the context's current_time, or now when absent
func (c Context) currentTime(now time.Time) (float64, bool) {
	v, ok := c[KeyCurrentTime]
	if !ok {
		return unixSeconds(now), true
	}
	return ToFloat(v)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ToFloat coerces a decoded or native Go numeric value to float64.
// Booleans count as 0 and 1; anything else reports false.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
