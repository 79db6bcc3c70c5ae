package geometry

import "math"

// DegRad converts between degrees and radians (degrees = radians * DegRad).
const DegRad = 180.0 / math.Pi

func IsFinite(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) }

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
