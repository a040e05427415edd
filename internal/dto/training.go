package dto

import (
	"time"

	"market-forecast/internal/regression"
)

const (
	TargetReturn     = "return"
	TargetVolatility = "volatility"
)

type EvaluationMetrics struct {
	RMSE     float64 `json:"rmse"`
	RSquared float64 `json:"r_squared"`
}

type TrainingReport struct {
	ModelVersion string                       `json:"model_version"`
	RowsIn       int                          `json:"rows_in"`
	RowsRemoved  int                          `json:"rows_removed"`
	RowsUsed     int                          `json:"rows_used"`
	TrainSize    int                          `json:"train_size"`
	HoldoutSize  int                          `json:"holdout_size"`
	Metrics      map[string]EvaluationMetrics `json:"metrics"`
	Duration     time.Duration                `json:"duration"`
}

// ModelHandle is a trained model together with the schema it expects.
type ModelHandle struct {
	Version    string                       `json:"version"`
	Schema     []string                     `json:"schema"`
	Return     *regression.Ridge            `json:"return_model"`
	Volatility *regression.Ridge            `json:"volatility_model"`
	Metrics    map[string]EvaluationMetrics `json:"metrics"`
	TrainedAt  time.Time                    `json:"trained_at"`
}

// Confidence is the holdout R squared of the return model clamped to [0, 1].
func (h *ModelHandle) Confidence() float64 {
	if h == nil {
		return 0
	}
	m, ok := h.Metrics[TargetReturn]
	if !ok {
		return 0
	}
	switch {
	case m.RSquared < 0:
		return 0
	case m.RSquared > 1:
		return 1
	default:
		return m.RSquared
	}
}
