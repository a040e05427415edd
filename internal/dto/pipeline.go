package dto

import (
	"time"

	"market-forecast/internal/model"
)

// DateRange is an inclusive calendar date range. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

type SymbolError struct {
	Symbol string
	Err    error
}

func (e SymbolError) Error() string {
	return e.Symbol + ": " + e.Err.Error()
}

func (e SymbolError) Unwrap() error {
	return e.Err
}

// BatchPredictionResult separates successes from per-symbol failures.
type BatchPredictionResult struct {
	Predictions []model.Prediction
	Errors      []SymbolError
}

type PipelineResult struct {
	RunID       string
	Symbol      string
	Source      string
	BarsLoaded  int
	BarsStored  int
	FeatureRows int
	Report      *TrainingReport
	Prediction  *model.Prediction
	StartedAt   time.Time
	FinishedAt  time.Time
}

type ImportResult struct {
	Batches    int
	BarsRead   int
	BarsStored int
	Symbols    []string
}

type BackfillResult struct {
	Symbol  string
	Pending int
	Updated int
}

// BatchRunResult is the outcome of one multi-symbol provider run.
type BatchRunResult struct {
	RunID       string
	Symbols     []string
	BarsStored  int
	FeatureRows int
	Report      *TrainingReport
	Predictions []model.Prediction
	Errors      []SymbolError
	StartedAt   time.Time
	FinishedAt  time.Time
}
