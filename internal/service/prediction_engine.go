package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"market-forecast/config"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/internal/regression"
	"market-forecast/internal/repository"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
	"market-forecast/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// minHoldoutRows is the smallest cleaned set that gets a held-out split.
const minHoldoutRows = 5

// PredictionEngine owns the current model. It starts untrained, becomes
// trained after Train or after a stored artifact is loaded, and predicts
// concurrently from then on.
type PredictionEngine interface {
	IsTrained(ctx context.Context) bool
	Train(ctx context.Context, vectors []model.FeatureVector) (*dto.TrainingReport, error)
	Predict(ctx context.Context, bars []model.Bar, symbol string) (*model.Prediction, error)
	PredictBatch(ctx context.Context, bars map[string][]model.Bar, symbols []string) dto.BatchPredictionResult
}

type predictionEngine struct {
	cfg       config.Model
	log       *logger.Logger
	features  FeatureEngine
	artifacts repository.ModelArtifactRepository
	metrics   *metrics.Recorder
	workers   int
	now       func() time.Time

	mu     sync.RWMutex
	handle *dto.ModelHandle
}

func NewPredictionEngine(
	cfg *config.Config,
	log *logger.Logger,
	features FeatureEngine,
	artifacts repository.ModelArtifactRepository,
	recorder *metrics.Recorder,
) PredictionEngine {
	return &predictionEngine{
		cfg:       cfg.Model,
		log:       log,
		features:  features,
		artifacts: artifacts,
		metrics:   recorder,
		workers:   max(cfg.Pipeline.MaxConcurrency, 1),
		now:       time.Now,
	}
}

func (e *predictionEngine) IsTrained(ctx context.Context) bool {
	_, err := e.current(ctx)
	return err == nil
}

func (e *predictionEngine) Train(ctx context.Context, vectors []model.FeatureVector) (*dto.TrainingReport, error) {
	start := time.Now()
	defer e.metrics.ObserveSince("train", start)

	if len(vectors) == 0 {
		return nil, dto.ErrEmptyTrainingSet
	}

	rows, removed := cleanTrainingRows(vectors)
	if removed > 0 {
		e.log.WarnContext(ctx, "Removed invalid training rows",
			logger.IntField("removed", removed),
			logger.IntField("remaining", len(rows)),
		)
	}
	if len(rows) == 0 {
		return nil, dto.ErrNoValidDataAfterCleaning
	}

	// Oldest rows train, newest rows are held out.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Date.Before(rows[j].Date)
	})
	holdout := 0
	if len(rows) >= minHoldoutRows {
		holdout = int(float64(len(rows)) * e.cfg.HoldoutRatio)
	}
	train, test := rows[:len(rows)-holdout], rows[len(rows)-holdout:]
	if len(test) == 0 {
		test = train
	}

	x, yReturn, yVolatility := designMatrix(train)
	returnModel, err := regression.FitRidge(x, yReturn, e.cfg.RidgeLambda)
	if err != nil {
		return nil, fmt.Errorf("failed to fit return model: %w", err)
	}
	volatilityModel, err := regression.FitRidge(x, yVolatility, e.cfg.RidgeLambda)
	if err != nil {
		return nil, fmt.Errorf("failed to fit volatility model: %w", err)
	}

	testX, testReturn, testVolatility := designMatrix(test)
	scores := make(map[string]dto.EvaluationMetrics, 2)
	for target, fit := range map[string]struct {
		model  *regression.Ridge
		actual []float64
	}{
		dto.TargetReturn:     {returnModel, testReturn},
		dto.TargetVolatility: {volatilityModel, testVolatility},
	} {
		predicted, err := fit.model.PredictAll(testX)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s model: %w", target, err)
		}
		scores[target] = dto.EvaluationMetrics{
			RMSE:     regression.RMSE(fit.actual, predicted),
			RSquared: regression.RSquared(fit.actual, predicted),
		}
	}

	trainedAt := e.now().UTC()
	handle := &dto.ModelHandle{
		Version:    fmt.Sprintf("%s-%s-%s", e.cfg.VersionPrefix, trainedAt.Format("20060102T150405Z"), uuid.NewString()[:8]),
		Schema:     slices.Clone(model.FeatureSchema),
		Return:     returnModel,
		Volatility: volatilityModel,
		Metrics:    scores,
		TrainedAt:  trainedAt,
	}
	if err := e.artifacts.Save(ctx, handle); err != nil {
		return nil, fmt.Errorf("failed to save model artifact: %w", err)
	}

	e.mu.Lock()
	e.handle = handle
	e.mu.Unlock()

	for target, m := range scores {
		e.metrics.RecordModelScore(target, m.RSquared)
	}

	report := &dto.TrainingReport{
		ModelVersion: handle.Version,
		RowsIn:       len(vectors),
		RowsRemoved:  removed,
		RowsUsed:     len(rows),
		TrainSize:    len(train),
		HoldoutSize:  holdout,
		Metrics:      scores,
		Duration:     time.Since(start),
	}
	e.log.InfoContext(ctx, "Model trained",
		logger.StringField("model_version", report.ModelVersion),
		logger.IntField("rows_used", report.RowsUsed),
		logger.IntField("holdout", report.HoldoutSize),
		logger.Float64Field("return_rmse", scores[dto.TargetReturn].RMSE),
		logger.Float64Field("return_r2", scores[dto.TargetReturn].RSquared),
	)
	return report, nil
}

func (e *predictionEngine) Predict(ctx context.Context, bars []model.Bar, symbol string) (*model.Prediction, error) {
	symbol = utils.NormalizeSymbol(symbol)
	series := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if utils.NormalizeSymbol(b.Symbol) == symbol {
			series = append(series, b)
		}
	}
	if len(series) < MinPredictBars {
		return nil, dto.InsufficientDataError(symbol, len(series), MinPredictBars)
	}

	handle, err := e.current(ctx)
	if err != nil {
		return nil, err
	}

	vector, err := e.features.Latest(series)
	if err != nil {
		return nil, err
	}
	values := vector.Values()
	predictedReturn, err := handle.Return.Predict(values)
	if err != nil {
		return nil, fmt.Errorf("failed to predict return for %s: %w", symbol, err)
	}
	predictedVolatility, err := handle.Volatility.Predict(values)
	if err != nil {
		return nil, fmt.Errorf("failed to predict volatility for %s: %w", symbol, err)
	}

	eps := e.cfg.PriceEpsilon
	lastClose := vector.Close
	price := lastClose * (1 + predictedReturn)
	if price < eps || math.IsNaN(price) {
		price = eps
		predictedReturn = eps/lastClose - 1
	}
	if predictedVolatility < eps || math.IsNaN(predictedVolatility) {
		predictedVolatility = eps
	}

	prediction := &model.Prediction{
		Symbol:              symbol,
		PredictionDate:      vector.Date,
		TargetDate:          utils.NextWeekday(vector.Date),
		LastClose:           lastClose,
		PredictedPrice:      price,
		PredictedReturn:     predictedReturn,
		PredictedVolatility: predictedVolatility,
		ConfidenceScore:     handle.Confidence(),
		RiskAdjustedScore:   predictedReturn / predictedVolatility,
		ModelVersion:        handle.Version,
	}
	e.metrics.RecordPrediction(symbol, predictedReturn)
	return prediction, nil
}

func (e *predictionEngine) PredictBatch(ctx context.Context, bars map[string][]model.Bar, symbols []string) dto.BatchPredictionResult {
	predictions := make([]*model.Prediction, len(symbols))
	failures := make([]error, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			p, err := e.Predict(gctx, bars[symbol], symbol)
			if err != nil {
				failures[i] = err
				return nil
			}
			predictions[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var result dto.BatchPredictionResult
	for i, symbol := range symbols {
		if failures[i] != nil {
			e.log.WarnContext(ctx, "Failed to predict symbol in batch",
				logger.StringField("symbol", symbol),
				logger.ErrorField(failures[i]),
			)
			result.Errors = append(result.Errors, dto.SymbolError{Symbol: utils.NormalizeSymbol(symbol), Err: failures[i]})
			continue
		}
		result.Predictions = append(result.Predictions, *predictions[i])
	}
	return result
}

// current returns the in-memory model, loading the stored artifact once if there is none.
func (e *predictionEngine) current(ctx context.Context) (*dto.ModelHandle, error) {
	e.mu.RLock()
	handle := e.handle
	e.mu.RUnlock()
	if handle != nil {
		return handle, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return e.handle, nil
	}

	handle, err := e.artifacts.Load(ctx)
	if errors.Is(err, dto.ErrArtifactNotFound) {
		return nil, dto.ErrModelNotTrained
	}
	if err != nil {
		e.log.ErrorContext(ctx, "Failed to load model artifact", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %w", dto.ErrModelNotTrained, err)
	}
	if !slices.Equal(handle.Schema, model.FeatureSchema) {
		return nil, fmt.Errorf("%w: artifact %s was trained on a different feature schema", dto.ErrModelNotTrained, handle.Version)
	}

	e.log.InfoContext(ctx, "Loaded model artifact", logger.StringField("model_version", handle.Version))
	e.handle = handle
	return handle, nil
}

// cleanTrainingRows drops rows whose bar is not physically possible or whose
// features and labels are unusable, returning the kept rows and the number removed.
func cleanTrainingRows(vectors []model.FeatureVector) ([]model.FeatureVector, int) {
	kept := make([]model.FeatureVector, 0, len(vectors))
	for _, v := range vectors {
		if validTrainingRow(v) {
			kept = append(kept, v)
		}
	}
	return kept, len(vectors) - len(kept)
}

func validTrainingRow(v model.FeatureVector) bool {
	switch {
	case v.Date.IsZero():
		return false
	case v.Open <= 0, v.High <= 0, v.Low <= 0, v.Close <= 0, v.Volume <= 0:
		return false
	case v.High < v.Low, v.High < v.Open, v.High < v.Close, v.Low > v.Open, v.Low > v.Close:
		return false
	case !v.HasLabels():
		return false
	}
	for _, x := range append(v.Values(), *v.NextDayReturn, *v.NextDayVolatility) {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func designMatrix(rows []model.FeatureVector) (x [][]float64, yReturn, yVolatility []float64) {
	x = make([][]float64, len(rows))
	yReturn = make([]float64, len(rows))
	yVolatility = make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Values()
		yReturn[i] = *r.NextDayReturn
		yVolatility[i] = *r.NextDayVolatility
	}
	return x, yReturn, yVolatility
}
