package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"market-forecast/config"
	"market-forecast/internal/calculator"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/internal/repository"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/metrics"
	"market-forecast/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SourceFile     = "file"
	SourceProvider = "provider"

	// predictionTailBars is how much recent history a prediction is computed from.
	predictionTailBars = 250
)

// Pipeline sequences ingestion, feature generation, training and prediction.
// Every step fails fast and the step's error is returned wrapped, so errors.Is
// still matches the original cause.
type Pipeline interface {
	RunFromFile(ctx context.Context, path, symbol string) (*dto.PipelineResult, error)
	RunFromProvider(ctx context.Context, symbol string) (*dto.PipelineResult, error)
	RunBatch(ctx context.Context, symbols []string) (*dto.BatchRunResult, error)
	ImportCSV(ctx context.Context, path, defaultSymbol string) (*dto.ImportResult, error)
	BackfillActuals(ctx context.Context, symbol string) (*dto.BackfillResult, error)
}

type pipeline struct {
	cfg       *config.Config
	log       *logger.Logger
	store     repository.MarketDataStore
	source    repository.BarSource
	fetcher   repository.MarketFetcher
	features  FeatureEngine
	predictor PredictionEngine
	metrics   *metrics.Recorder
	now       func() time.Time
}

func NewPipeline(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	features FeatureEngine,
	predictor PredictionEngine,
	recorder *metrics.Recorder,
) Pipeline {
	return &pipeline{
		cfg:       cfg,
		log:       log,
		store:     repo.Store,
		source:    repo.BarSource,
		fetcher:   repo.MarketFetcher,
		features:  features,
		predictor: predictor,
		metrics:   recorder,
		now:       time.Now,
	}
}

func (p *pipeline) RunFromFile(ctx context.Context, path, symbol string) (result *dto.PipelineResult, err error) {
	symbol = utils.NormalizeSymbol(symbol)
	if symbol == "" {
		symbol = utils.NormalizeSymbol(p.cfg.Pipeline.DefaultSymbol)
	}
	result = p.newResult(symbol, SourceFile)
	log := p.log.With(logger.StringField("run_id", result.RunID), logger.StringField("source", SourceFile))
	ctx = logger.NewContext(ctx, log)
	defer p.finishRun(ctx, result, &err)

	bars, err := p.source.Load(ctx, path, symbol)
	if err != nil {
		return nil, fmt.Errorf("load bars from %s: %w", path, err)
	}
	result.BarsLoaded = len(bars)

	bySymbol, duplicates := groupBySymbol(bars)
	if duplicates > 0 {
		log.WarnContext(ctx, "Dropped duplicate bars from input", logger.IntField("duplicates", duplicates))
	}
	if symbol == "" {
		if len(bySymbol) != 1 {
			return nil, fmt.Errorf("%w: %s holds %d symbols and no target symbol was given", dto.ErrFormat, path, len(bySymbol))
		}
		for s := range bySymbol {
			symbol = s
		}
		result.Symbol = symbol
	}

	stored, err := p.store.SaveBars(ctx, bars)
	if err != nil {
		return nil, err
	}
	result.BarsStored = int(stored)

	var vectors []model.FeatureVector
	for _, s := range sortedKeys(bySymbol) {
		rows, err := p.features.Generate(bySymbol[s])
		if err != nil {
			return nil, fmt.Errorf("generate features for %s: %w", s, err)
		}
		vectors = append(vectors, rows...)
	}
	if err := p.trainAndPredict(ctx, result, vectors, bySymbol[symbol]); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *pipeline) RunFromProvider(ctx context.Context, symbol string) (result *dto.PipelineResult, err error) {
	symbol = utils.NormalizeSymbol(symbol)
	result = p.newResult(symbol, SourceProvider)
	log := p.log.With(logger.StringField("run_id", result.RunID), logger.StringField("source", SourceProvider))
	ctx = logger.NewContext(ctx, log)
	defer p.finishRun(ctx, result, &err)

	today := utils.TruncateToDate(p.now())
	start, err := p.fetchStart(ctx, symbol, today)
	if err != nil {
		return nil, err
	}
	if !start.After(today) {
		bars, err := p.fetcher.FetchHistorical(ctx, symbol, start, today)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", symbol, err)
		}
		result.BarsLoaded = len(bars)
		stored, err := p.store.SaveBars(ctx, bars)
		if err != nil {
			return nil, err
		}
		result.BarsStored = int(stored)
	} else {
		log.InfoContext(ctx, "Stored bars are up to date", logger.StringField("symbol", symbol))
	}

	bars, err := p.store.GetBars(ctx, symbol, dto.DateRange{})
	if err != nil {
		return nil, err
	}
	vectors, err := p.features.Generate(bars)
	if err != nil {
		return nil, fmt.Errorf("generate features for %s: %w", symbol, err)
	}
	if err := p.trainAndPredict(ctx, result, vectors, bars); err != nil {
		return nil, err
	}
	return result, nil
}

// RunBatch refreshes every symbol through one batch fetch, trains a single
// model on all symbols and predicts each. Symbols that fail to fetch, have too
// little history or fail to predict are reported in Errors; only a failure
// shared by all symbols aborts the run.
func (p *pipeline) RunBatch(ctx context.Context, symbols []string) (*dto.BatchRunResult, error) {
	startedAt := p.now()
	result := &dto.BatchRunResult{RunID: uuid.NewString(), StartedAt: startedAt}
	for _, s := range symbols {
		if s = utils.NormalizeSymbol(s); s != "" && !utils.ContainsString(result.Symbols, s) {
			result.Symbols = append(result.Symbols, s)
		}
	}
	log := p.log.With(logger.StringField("run_id", result.RunID), logger.StringField("source", SourceProvider))
	ctx = logger.NewContext(ctx, log)

	status := "success"
	defer func() {
		result.FinishedAt = p.now()
		p.metrics.RecordPipelineRun(SourceProvider, status)
	}()
	failed := func(symbol string, err error) {
		result.Errors = append(result.Errors, dto.SymbolError{Symbol: symbol, Err: err})
	}

	today := utils.TruncateToDate(startedAt)
	from := today.AddDate(0, 0, 1)
	for _, s := range result.Symbols {
		start, err := p.fetchStart(ctx, s, today)
		if err != nil {
			status = "failed"
			return result, err
		}
		if start.Before(from) {
			from = start
		}
	}

	fetched := map[string][]model.Bar{}
	if !from.After(today) {
		var failures []dto.SymbolError
		fetched, failures = p.fetcher.FetchBatch(ctx, result.Symbols, from, today)
		result.Errors = append(result.Errors, failures...)
	}

	tails := make(map[string][]model.Bar, len(result.Symbols))
	var vectors []model.FeatureVector
	for _, s := range result.Symbols {
		if !utils.ShouldContinue(ctx, log) {
			status = "cancelled"
			return result, ctx.Err()
		}
		stored, err := p.store.SaveBars(ctx, fetched[s])
		if err != nil {
			failed(s, err)
			continue
		}
		result.BarsStored += int(stored)

		bars, err := p.store.GetBars(ctx, s, dto.DateRange{})
		if err != nil {
			failed(s, err)
			continue
		}
		rows, err := p.features.Generate(bars)
		if err != nil {
			failed(s, err)
			continue
		}
		if err := p.store.SaveFeatureVectors(ctx, rows); err != nil {
			failed(s, err)
			continue
		}
		vectors = append(vectors, rows...)
		result.FeatureRows += len(rows)
		tails[s] = tail(bars, predictionTailBars)
	}

	report, err := p.predictor.Train(ctx, vectors)
	if err != nil {
		status = "failed"
		return result, fmt.Errorf("train: %w", err)
	}
	result.Report = report

	trained := sortedKeys(tails)
	batch := p.predictor.PredictBatch(ctx, tails, trained)
	result.Errors = append(result.Errors, batch.Errors...)
	for _, prediction := range batch.Predictions {
		if err := p.store.SavePrediction(ctx, &prediction); err != nil {
			failed(prediction.Symbol, err)
			continue
		}
		result.Predictions = append(result.Predictions, prediction)
	}

	if len(result.Errors) > 0 {
		status = "partial"
	}
	log.InfoContext(ctx, "Batch run finished",
		logger.IntField("symbols", len(result.Symbols)),
		logger.IntField("predictions", len(result.Predictions)),
		logger.IntField("errors", len(result.Errors)),
	)
	return result, nil
}

// ImportCSV streams a file into the bar store batch by batch.
func (p *pipeline) ImportCSV(ctx context.Context, path, defaultSymbol string) (*dto.ImportResult, error) {
	result := &dto.ImportResult{}
	for batch, err := range p.source.StreamFile(ctx, path, p.cfg.Pipeline.CSVBatchSize, defaultSymbol) {
		if err != nil {
			return result, fmt.Errorf("import %s: %w", path, err)
		}
		stored, err := p.store.SaveBars(ctx, batch)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.BarsRead += len(batch)
		result.BarsStored += int(stored)
		for _, b := range batch {
			if !utils.ContainsString(result.Symbols, b.Symbol) {
				result.Symbols = append(result.Symbols, b.Symbol)
			}
		}
	}
	p.metrics.RecordBars(SourceFile, result.BarsRead)
	p.log.InfoContext(ctx, "Imported bars",
		logger.StringField("path", path),
		logger.IntField("batches", result.Batches),
		logger.IntField("read", result.BarsRead),
		logger.IntField("stored", result.BarsStored),
	)
	return result, nil
}

// BackfillActuals records the realized return and range of every prediction
// whose target date now has a stored bar.
func (p *pipeline) BackfillActuals(ctx context.Context, symbol string) (*dto.BackfillResult, error) {
	symbol = utils.NormalizeSymbol(symbol)
	pending, err := p.store.GetPendingPredictions(ctx, symbol, p.now())
	if err != nil {
		return nil, fmt.Errorf("get pending predictions for %s: %w", symbol, err)
	}
	result := &dto.BackfillResult{Symbol: symbol, Pending: len(pending)}

	for _, prediction := range pending {
		if !utils.ShouldContinue(ctx, p.log) {
			return result, ctx.Err()
		}
		bars, err := p.store.GetBars(ctx, symbol, dto.DateRange{From: prediction.TargetDate, To: prediction.TargetDate})
		if err != nil {
			return result, err
		}
		if len(bars) == 0 {
			p.log.DebugContext(ctx, "No bar for prediction target date yet",
				logger.StringField("symbol", symbol),
				logger.DateField("target_date", prediction.TargetDate),
			)
			continue
		}
		target := bars[0]
		actualReturn := calculator.Ratio(target.CloseFloat()-prediction.LastClose, prediction.LastClose, 0)
		actualVolatility := calculator.Range(target.HighFloat(), target.LowFloat(), target.CloseFloat())
		if err := p.store.UpdateActuals(ctx, symbol, prediction.TargetDate, actualReturn, actualVolatility); err != nil {
			return result, fmt.Errorf("update actuals for %s on %s: %w", symbol, prediction.TargetDate.Format(time.DateOnly), err)
		}
		result.Updated++
	}

	p.log.InfoContext(ctx, "Backfilled prediction actuals",
		logger.StringField("symbol", symbol),
		logger.IntField("pending", result.Pending),
		logger.IntField("updated", result.Updated),
	)
	return result, nil
}

func (p *pipeline) trainAndPredict(ctx context.Context, result *dto.PipelineResult, vectors []model.FeatureVector, bars []model.Bar) error {
	if err := p.store.SaveFeatureVectors(ctx, vectors); err != nil {
		return err
	}
	result.FeatureRows = len(vectors)

	report, err := p.predictor.Train(ctx, vectors)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	result.Report = report

	prediction, err := p.predictor.Predict(ctx, tail(bars, predictionTailBars), result.Symbol)
	if err != nil {
		return fmt.Errorf("predict %s: %w", result.Symbol, err)
	}
	if err := p.store.SavePrediction(ctx, prediction); err != nil {
		return err
	}
	result.Prediction = prediction
	return nil
}

// fetchStart is the day after the newest stored bar, or the start of the
// lookback window when the symbol has no bars.
func (p *pipeline) fetchStart(ctx context.Context, symbol string, today time.Time) (time.Time, error) {
	latest, ok, err := p.store.GetLatestDate(ctx, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("get latest date for %s: %w", symbol, err)
	}
	if !ok {
		return today.AddDate(0, 0, -p.cfg.Pipeline.LookbackDays), nil
	}
	return latest.AddDate(0, 0, 1), nil
}

func (p *pipeline) newResult(symbol, source string) *dto.PipelineResult {
	return &dto.PipelineResult{
		RunID:     uuid.NewString(),
		Symbol:    symbol,
		Source:    source,
		StartedAt: p.now(),
	}
}

func (p *pipeline) finishRun(ctx context.Context, result *dto.PipelineResult, err *error) {
	result.FinishedAt = p.now()
	status := "success"
	switch {
	case *err == nil:
	case errors.Is(*err, context.Canceled), errors.Is(*err, context.DeadlineExceeded):
		status = "cancelled"
	default:
		status = "failed"
	}
	p.metrics.RecordPipelineRun(result.Source, status)

	if *err != nil {
		p.log.ErrorContext(ctx, "Pipeline run failed",
			logger.StringField("symbol", result.Symbol),
			logger.ErrorField(*err),
		)
		return
	}
	fields := []zap.Field{
		logger.StringField("symbol", result.Symbol),
		logger.IntField("bars_loaded", result.BarsLoaded),
		logger.IntField("bars_stored", result.BarsStored),
		logger.IntField("feature_rows", result.FeatureRows),
		logger.DurationField("duration", result.FinishedAt.Sub(result.StartedAt)),
	}
	if result.Prediction != nil {
		fields = append(fields,
			logger.DateField("target_date", result.Prediction.TargetDate),
			logger.Float64Field("predicted_return", result.Prediction.PredictedReturn),
			logger.StringField("model_version", result.Prediction.ModelVersion),
		)
	}
	p.log.InfoContext(ctx, "Pipeline run finished", fields...)
}

// groupBySymbol splits bars per symbol in ascending date order. Repeated dates keep
// the first row, matching SaveBars which skips rows already stored. It returns the
// number of rows dropped as duplicates.
func groupBySymbol(bars []model.Bar) (map[string][]model.Bar, int) {
	out := make(map[string][]model.Bar)
	for _, b := range bars {
		out[b.Symbol] = append(out[b.Symbol], b)
	}
	dropped := 0
	for s, series := range out {
		slices.SortStableFunc(series, func(a, b model.Bar) int { return a.Date.Compare(b.Date) })
		unique := slices.CompactFunc(series, func(a, b model.Bar) bool { return a.Date.Equal(b.Date) })
		dropped += len(series) - len(unique)
		out[s] = unique
	}
	return out, dropped
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
