package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-forecast/config"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/internal/regression"
	"market-forecast/internal/repository"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, artifacts repository.ModelArtifactRepository) (PredictionEngine, FeatureEngine) {
	t.Helper()
	if artifacts == nil {
		artifacts = repository.NewFileArtifactRepository(filepath.Join(t.TempDir(), "model.json"))
	}
	features := NewFeatureEngine(logger.NewNop())
	return NewPredictionEngine(config.Default(), logger.NewNop(), features, artifacts, nil), features
}

func trainingRows(t *testing.T, features FeatureEngine, n int) []model.FeatureVector {
	t.Helper()
	rows, err := features.Generate(makeSeries("AAA", day(2024, 1, 1), n, growing(0.01)))
	require.NoError(t, err)
	return rows
}

func TestPredictionEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	engine, features := newTestEngine(t, nil)
	bars := makeSeries("AAA", day(2024, 1, 1), 60, growing(0.01))

	assert.False(t, engine.IsTrained(ctx))

	rows, err := features.Generate(bars)
	require.NoError(t, err)
	report, err := engine.Train(ctx, rows)
	require.NoError(t, err)
	assert.True(t, engine.IsTrained(ctx))
	assert.True(t, strings.HasPrefix(report.ModelVersion, "ridge-"))
	assert.Equal(t, 9, report.RowsUsed)
	assert.Equal(t, 1, report.HoldoutSize)
	assert.Equal(t, 8, report.TrainSize)

	p, err := engine.Predict(ctx, bars, "aaa")
	require.NoError(t, err)
	last := bars[len(bars)-1]
	assert.Equal(t, "AAA", p.Symbol)
	assert.Equal(t, last.Date, p.PredictionDate)
	assert.Equal(t, utils.NextWeekday(last.Date), p.TargetDate)
	assert.True(t, p.TargetDate.After(p.PredictionDate))
	assert.GreaterOrEqual(t, p.PredictedReturn, 0.0)
	assert.InDelta(t, 0.01, p.PredictedReturn, 1e-6)
	assert.InDelta(t, last.CloseFloat()*1.01, p.PredictedPrice, 1e-3)
	assert.InDelta(t, 0.02, p.PredictedVolatility, 1e-6)
	assert.InDelta(t, p.PredictedReturn/p.PredictedVolatility, p.RiskAdjustedScore, 1e-12)
	assert.GreaterOrEqual(t, p.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
	assert.Equal(t, report.ModelVersion, p.ModelVersion)
}

func TestPredictionEngine_TrainErrors(t *testing.T) {
	ctx := context.Background()
	engine, features := newTestEngine(t, nil)

	_, err := engine.Train(ctx, nil)
	assert.ErrorIs(t, err, dto.ErrEmptyTrainingSet)

	rows := trainingRows(t, features, 55)
	for i := range rows {
		rows[i].Low = rows[i].High + 1
	}
	_, err = engine.Train(ctx, rows)
	assert.ErrorIs(t, err, dto.ErrNoValidDataAfterCleaning)
	assert.False(t, engine.IsTrained(ctx))
}

func TestPredictionEngine_CleaningRemovesInvalidRows(t *testing.T) {
	engine, features := newTestEngine(t, nil)
	rows := trainingRows(t, features, 61)
	require.Len(t, rows, 10)
	for _, i := range []int{1, 4, 7} {
		rows[i].High = rows[i].Low - 1
	}

	report, err := engine.Train(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 10, report.RowsIn)
	assert.Equal(t, 3, report.RowsRemoved)
	assert.Equal(t, 7, report.RowsUsed)
	assert.Equal(t, report.RowsUsed, report.TrainSize+report.HoldoutSize)
}

func TestCleanTrainingRows(t *testing.T) {
	valid := func() model.FeatureVector {
		r, v := 0.01, 0.02
		return model.FeatureVector{
			Symbol: "AAA", Date: day(2024, 1, 2),
			Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100,
			NextDayReturn: &r, NextDayVolatility: &v,
		}
	}
	tests := []struct {
		name   string
		mutate func(v *model.FeatureVector)
		keep   bool
	}{
		{name: "valid", mutate: func(v *model.FeatureVector) {}, keep: true},
		{name: "zero open", mutate: func(v *model.FeatureVector) { v.Open = 0 }},
		{name: "negative close", mutate: func(v *model.FeatureVector) { v.Close = -1 }},
		{name: "zero volume", mutate: func(v *model.FeatureVector) { v.Volume = 0 }},
		{name: "high below low", mutate: func(v *model.FeatureVector) { v.High = 8 }},
		{name: "high below close", mutate: func(v *model.FeatureVector) { v.High = 10.2 }},
		{name: "low above open", mutate: func(v *model.FeatureVector) { v.Low = 10.1 }},
		{name: "missing date", mutate: func(v *model.FeatureVector) { v.Date = time.Time{} }},
		{name: "missing label", mutate: func(v *model.FeatureVector) { v.NextDayReturn = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := valid()
			tt.mutate(&v)
			kept, removed := cleanTrainingRows([]model.FeatureVector{v})
			if tt.keep {
				assert.Len(t, kept, 1)
				assert.Zero(t, removed)
				return
			}
			assert.Empty(t, kept)
			assert.Equal(t, 1, removed)
		})
	}
}

func TestPredictionEngine_PredictErrors(t *testing.T) {
	ctx := context.Background()
	engine, features := newTestEngine(t, nil)

	_, err := engine.Predict(ctx, makeSeries("AAA", day(2024, 1, 1), 20, growing(0.01)), "AAA")
	assert.ErrorIs(t, err, dto.ErrModelNotTrained)

	_, err = engine.Train(ctx, trainingRows(t, features, 60))
	require.NoError(t, err)

	_, err = engine.Predict(ctx, makeSeries("AAA", day(2024, 1, 1), MinPredictBars-1, growing(0.01)), "AAA")
	assert.ErrorIs(t, err, dto.ErrInsufficientData)

	_, err = engine.Predict(ctx, makeSeries("BBB", day(2024, 1, 1), 30, growing(0.01)), "AAA")
	assert.ErrorIs(t, err, dto.ErrInsufficientData)

	_, err = engine.Predict(ctx, makeSeries("AAA", day(2024, 1, 1), MinPredictBars, growing(0.01)), "AAA")
	assert.NoError(t, err)
}

func TestPredictionEngine_LoadsStoredModelLazily(t *testing.T) {
	ctx := context.Background()
	artifacts := repository.NewFileArtifactRepository(filepath.Join(t.TempDir(), "model.json"))

	trainer, features := newTestEngine(t, artifacts)
	report, err := trainer.Train(ctx, trainingRows(t, features, 70))
	require.NoError(t, err)

	restarted, _ := newTestEngine(t, artifacts)
	p, err := restarted.Predict(ctx, makeSeries("AAA", day(2024, 1, 1), 70, growing(0.01)), "AAA")
	require.NoError(t, err)
	assert.Equal(t, report.ModelVersion, p.ModelVersion)
	assert.True(t, restarted.IsTrained(ctx))
}

func TestPredictionEngine_FloorsPriceAndVolatility(t *testing.T) {
	ctx := context.Background()
	artifacts := repository.NewFileArtifactRepository(filepath.Join(t.TempDir(), "model.json"))
	width := len(model.FeatureSchema)
	ridge := func(intercept float64) *regression.Ridge {
		return &regression.Ridge{
			Lambda:    1,
			Means:     make([]float64, width),
			Scales:    ones(width),
			Weights:   make([]float64, width),
			Intercept: intercept,
		}
	}
	require.NoError(t, artifacts.Save(ctx, &dto.ModelHandle{
		Version:    "crash",
		Schema:     model.FeatureSchema,
		Return:     ridge(-3),
		Volatility: ridge(-0.5),
		TrainedAt:  time.Now(),
	}))

	engine, _ := newTestEngine(t, artifacts)
	bars := makeSeries("AAA", day(2024, 1, 1), 20, linear(50, 0))
	p, err := engine.Predict(ctx, bars, "AAA")
	require.NoError(t, err)

	eps := config.Default().Model.PriceEpsilon
	assert.Equal(t, eps, p.PredictedPrice)
	assert.InDelta(t, eps/50-1, p.PredictedReturn, 1e-12)
	assert.Equal(t, eps, p.PredictedVolatility)
	assert.Zero(t, p.ConfidenceScore)
}

func TestPredictionEngine_RejectsSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	artifacts := repository.NewFileArtifactRepository(filepath.Join(t.TempDir(), "model.json"))
	r := &regression.Ridge{Means: []float64{0}, Scales: []float64{1}, Weights: []float64{0}}
	require.NoError(t, artifacts.Save(ctx, &dto.ModelHandle{Version: "old", Schema: []string{"only_one"}, Return: r, Volatility: r}))

	engine, _ := newTestEngine(t, artifacts)
	_, err := engine.Predict(ctx, makeSeries("AAA", day(2024, 1, 1), 20, growing(0.01)), "AAA")
	assert.ErrorIs(t, err, dto.ErrModelNotTrained)
}

func TestPredictionEngine_PredictBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	engine, features := newTestEngine(t, nil)
	_, err := engine.Train(ctx, trainingRows(t, features, 80))
	require.NoError(t, err)

	bars := map[string][]model.Bar{
		"AAA": makeSeries("AAA", day(2024, 1, 1), 60, growing(0.01)),
		"BBB": makeSeries("BBB", day(2024, 1, 1), 5, growing(0.01)),
		"CCC": makeSeries("CCC", day(2024, 1, 1), 40, linear(20, 0.1)),
	}
	result := engine.PredictBatch(ctx, bars, []string{"AAA", "BBB", "CCC", "ZZZ"})

	require.Len(t, result.Predictions, 2)
	assert.Equal(t, "AAA", result.Predictions[0].Symbol)
	assert.Equal(t, "CCC", result.Predictions[1].Symbol)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "BBB", result.Errors[0].Symbol)
	assert.ErrorIs(t, result.Errors[0], dto.ErrInsufficientData)
	assert.Equal(t, "ZZZ", result.Errors[1].Symbol)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
