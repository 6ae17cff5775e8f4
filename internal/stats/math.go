package stats

import (
	"math"
	"slices"
)

// CalculateMedianDiscrete finds the median value in a slice of integers.
func CalculateMedianDiscrete(values []int) float64 {
	return Percentile(values, 0.5)
}

// Percentile returns the q-quantile (0 ≤ q ≤ 1) of values using linear interpolation between
// closest ranks. It returns 0 for an empty slice.
func Percentile(values []int, q float64) float64 {
	if len(values) == 0 {
		return 0
	}

	// Work on a copy to avoid mutating the original
	temp := make([]int, len(values))
	copy(temp, values)
	slices.Sort(temp)

	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(temp)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return float64(temp[lower])
	}
	frac := pos - float64(lower)
	return float64(temp[lower]) + frac*float64(temp[upper]-temp[lower])
}
