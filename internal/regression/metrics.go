package regression

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

func RMSE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	var sum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// RSquared is the coefficient of determination. A constant target scores 1
// when predictions are exact and 0 otherwise.
func RSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	_, variance := stat.PopMeanVariance(actual, nil)
	if variance <= 1e-18 {
		if RMSE(actual, predicted) <= 1e-9 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(predicted, actual, nil)
}
