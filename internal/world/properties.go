package world

import (
	"encoding/json"
	"math"
)

// Properties is the open scalar bag carried by entities. Values are
// number (float64), string, bool or nil after a JSON round trip; game
// logic must go through the accessors below and never assume presence.
type Properties map[string]any

// Number returns the numeric value stored under key.
func (p Properties) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return AsNumber(v)
}

// NumberOr returns the numeric value under key, or def when the key is
// missing or not numeric.
func (p Properties) NumberOr(key string, def float64) float64 {
	if n, ok := p.Number(key); ok {
		return n
	}
	return def
}

// Clone returns a shallow copy. Values are scalars so this is a full copy
// for well-formed bags.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy of p with key set to v.
func (p Properties) With(key string, v any) Properties {
	out := p.Clone()
	out[key] = v
	return out
}

// AsNumber converts the numeric representations produced by JSON, YAML
// and Go literals into a float64. NaN and Inf are rejected.
func AsNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// MaxCoord bounds numbers converted to grid steps or coordinates, so that
// sums of a position and a step never overflow int.
const MaxCoord = 1 << 30

// ClampInt truncates f toward zero and bounds it to [-MaxCoord, MaxCoord].
func ClampInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= MaxCoord:
		return MaxCoord
	case f <= -MaxCoord:
		return -MaxCoord
	}
	return int(f)
}
