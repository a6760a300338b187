package utils

import (
	"math"
	"strconv"
	"strings"
)

// RoundFloat rounds a float64 to a specified number of decimal places.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// CoerceFloat converts a report cell to a float64 for aggregation. Absent,
// unparsable and NaN values contribute 0 so a single bad cell never aborts a
// summary computation.
func CoerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return 0
		}
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}
