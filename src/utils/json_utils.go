package utils

import "math"

// JSONSafeValue recursively walks maps and slices and replaces non-finite
// floats with 0.0 so they survive JSON encoding. Used for derived summary
// scalars; raw report cells go through ScrubRecord instead, where a bad cell
// becomes null rather than a fabricated zero.
func JSONSafeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = JSONSafeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = JSONSafeValue(val)
		}
		return out
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0.0
		}
		return t
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return 0.0
		}
		return t
	default:
		return v
	}
}

// ScrubRecord nulls out record cells holding non-finite floats. The cell stays
// present and serializes as JSON null, marking the value as missing.
func ScrubRecord(rec map[string]any) {
	for k, v := range rec {
		switch t := v.(type) {
		case float64:
			if math.IsNaN(t) || math.IsInf(t, 0) {
				rec[k] = nil
			}
		case float32:
			if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
				rec[k] = nil
			}
		}
	}
}
