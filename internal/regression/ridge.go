package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrNoSamples = errors.New("regression: no samples")

// Ridge is an L2-regularized linear model fitted on standardized features.
// It serializes to JSON so it can be stored as a model artifact.
type Ridge struct {
	Lambda    float64   `json:"lambda"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// FitRidge solves (XᵀX + λI)w = Xᵀ(y - ȳ) on column-standardized X.
// Columns with zero variance get a unit scale and contribute nothing.
func FitRidge(x [][]float64, y []float64, lambda float64) (*Ridge, error) {
	n := len(x)
	if n == 0 || len(y) == 0 {
		return nil, ErrNoSamples
	}
	if len(y) != n {
		return nil, fmt.Errorf("regression: %d rows but %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return nil, errors.New("regression: no features")
	}

	means := make([]float64, p)
	scales := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			if len(x[i]) != p {
				return nil, fmt.Errorf("regression: row %d has %d features, want %d", i, len(x[i]), p)
			}
			col[i] = x[i][j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		means[j] = mean
		scales[j] = 1
		if variance > 1e-18 {
			scales[j] = math.Sqrt(variance)
		}
	}

	design := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			design.Set(i, j, (x[i][j]-means[j])/scales[j])
		}
	}
	intercept := stat.Mean(y, nil)
	centered := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		centered.SetVec(i, y[i]-intercept)
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), centered)

	var w mat.VecDense
	if err := w.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("regression: failed to solve normal equations: %w", err)
	}

	weights := make([]float64, p)
	for j := range weights {
		weights[j] = w.AtVec(j)
	}
	return &Ridge{
		Lambda:    lambda,
		Means:     means,
		Scales:    scales,
		Weights:   weights,
		Intercept: intercept,
	}, nil
}

// Predict applies the model to one feature row.
func (r *Ridge) Predict(features []float64) (float64, error) {
	if len(features) != len(r.Weights) {
		return 0, fmt.Errorf("regression: got %d features, model expects %d", len(features), len(r.Weights))
	}
	out := r.Intercept
	for j, v := range features {
		out += r.Weights[j] * (v - r.Means[j]) / r.Scales[j]
	}
	return out, nil
}

func (r *Ridge) PredictAll(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		v, err := r.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
