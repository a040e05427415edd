package calculator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// flatTolerance is the standard deviation below which a window counts as flat.
const flatTolerance = 1e-12

// Trailing returns values[i-period+1 .. i], truncated at the start of the series.
func Trailing(values []float64, i, period int) []float64 {
	if i < 0 || len(values) == 0 {
		return nil
	}
	if i >= len(values) {
		i = len(values) - 1
	}
	start := i - period + 1
	if start < 0 {
		start = 0
	}
	return values[start : i+1]
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// PopStdDev is the population standard deviation of values.
func PopStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, variance := stat.PopMeanVariance(values, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return math.Sqrt(variance)
}

// Return is the relative change from values[i-lag] to values[i]. The lag is
// truncated to the start of the series; a zero base yields 0.
func Return(values []float64, i, lag int) float64 {
	if i <= 0 || i >= len(values) || lag <= 0 {
		return 0
	}
	j := i - lag
	if j < 0 {
		j = 0
	}
	base := values[j]
	if base == 0 {
		return 0
	}
	return (values[i] - base) / base
}

// Ratio divides num by den, falling back to neutral when den is zero.
func Ratio(num, den, neutral float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return neutral
	}
	return num / den
}
