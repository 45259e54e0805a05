package domain

import "math"

// NormalizeConfidence maps a confidence expressed as a fraction (0.46),
// a percent (46) or a scaled percent (4600) onto an integer percent 0-100.
func NormalizeConfidence(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	switch {
	case v > 100:
		v = v / 100
	case v <= 1:
		v = v * 100
	}
	pct := int(math.Round(v))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ConfidenceFraction rescales a confidence onto 0-1 without rounding, so
// threshold checks see the value as given.
func ConfidenceFraction(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > 100 {
		v = v / 100
	}
	if v > 1 {
		v = v / 100
	}
	return math.Max(0, math.Min(1, v))
}
