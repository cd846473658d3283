package common

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Epsilon guards divisions by near-zero denominators across the analysis code
const Epsilon = 1e-12

// Basic statistical helpers, gonum-backed where gonum has the routine

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// MeanStdDev returns the mean and the sample standard deviation.
// The deviation is 0 for fewer than two values.
func MeanStdDev(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0.0, 0.0
	case 1:
		return data[0], 0.0
	}
	mean, std := stat.MeanStdDev(data, nil)
	if math.IsNaN(std) {
		std = 0.0
	}
	return mean, std
}

// Median returns the empirical median of data. scratch is reused for the
// sorted copy when it is large enough; data itself is not modified.
func Median(data, scratch []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	if cap(scratch) < len(data) {
		scratch = make([]float64, len(data))
	}
	sorted := scratch[:len(data)]
	copy(sorted, data)
	slices.Sort(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return 0.5 * (sorted[n/2-1] + sorted[n/2])
	}
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// EMACoefficient converts a decay time in seconds into a per-step smoothing
// coefficient for steps of stepSeconds, limited to [lo, hi].
func EMACoefficient(stepSeconds, decaySeconds, lo, hi float64) float64 {
	if decaySeconds <= Epsilon {
		return hi
	}
	return Clamp(stepSeconds/decaySeconds, lo, hi)
}

// SafeDiv divides a by b, returning 0 when |b| is below Epsilon
func SafeDiv(a, b float64) float64 {
	if math.Abs(b) < Epsilon {
		return 0.0
	}
	return a / b
}

// ParabolicOffset returns the sub-sample offset of the vertex of the
// parabola through (-1, left), (0, center), (1, right), limited to ±0.5.
// Returns 0 for a degenerate (flat) neighbourhood.
func ParabolicOffset(left, center, right float64) float64 {
	denom := left - 2.0*center + right
	if math.Abs(denom) < Epsilon {
		return 0.0
	}
	return Clamp(0.5*(left-right)/denom, -0.5, 0.5)
}

// ParabolicPeak returns the interpolated height of the parabola through the
// three points at the given offset.
func ParabolicPeak(left, center, right, offset float64) float64 {
	return center - 0.25*(left-right)*offset
}
