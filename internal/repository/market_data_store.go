package repository

import (
	"context"
	"fmt"
	"time"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/utils"
)

// MarketDataStore is the persistence surface of the pipeline. Each entity
// type is written independently; there is no cross-entity transaction.
type MarketDataStore interface {
	SaveBars(ctx context.Context, bars []model.Bar) (int64, error)
	GetBars(ctx context.Context, symbol string, r dto.DateRange) ([]model.Bar, error)
	GetLatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
	SaveFeatureVectors(ctx context.Context, vectors []model.FeatureVector) error
	GetFeatureVectors(ctx context.Context, symbol string, r dto.DateRange) ([]model.FeatureVector, error)
	SavePrediction(ctx context.Context, p *model.Prediction) error
	GetPredictions(ctx context.Context, predictionDate time.Time) ([]model.Prediction, error)
	GetPendingPredictions(ctx context.Context, symbol string, asOf time.Time) ([]model.Prediction, error)
	UpdateActuals(ctx context.Context, symbol string, targetDate time.Time, actualReturn, actualVolatility float64) error
	HasData(ctx context.Context, symbol string, date time.Time) (bool, error)
	SaveAPIRequestLog(ctx context.Context, log *model.APIRequestLog) error
	CountAPIRequests(ctx context.Context, provider string, since time.Time) (int64, error)
}

type marketDataStore struct {
	bars        BarRepository
	features    FeatureVectorRepository
	predictions PredictionRepository
	requestLogs APIRequestLogRepository
	uow         UnitOfWork
}

func NewMarketDataStore(repo *Repository) MarketDataStore {
	return &marketDataStore{
		bars:        repo.BarRepo,
		features:    repo.FeatureVectorRepo,
		predictions: repo.PredictionRepo,
		requestLogs: repo.APIRequestLogRepo,
		uow:         repo.UnitOfWork,
	}
}

func (s *marketDataStore) SaveBars(ctx context.Context, bars []model.Bar) (int64, error) {
	inserted, err := s.bars.Save(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("failed to save bars: %w", err)
	}
	return inserted, nil
}

func (s *marketDataStore) GetBars(ctx context.Context, symbol string, r dto.DateRange) ([]model.Bar, error) {
	bars, err := s.bars.Get(ctx, model.GetBarsParam{Symbol: symbol, From: r.From, To: r.To})
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}
	return bars, nil
}

func (s *marketDataStore) GetLatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return s.bars.GetLatestDate(ctx, symbol)
}

// SaveFeatureVectors writes all vectors in one transaction so a symbol's
// feature set is never half replaced.
func (s *marketDataStore) SaveFeatureVectors(ctx context.Context, vectors []model.FeatureVector) error {
	err := s.uow.Run(ctx, func(opts ...utils.DBOption) error {
		return s.features.Upsert(ctx, vectors, opts...)
	})
	if err != nil {
		return fmt.Errorf("failed to save feature vectors: %w", err)
	}
	return nil
}

func (s *marketDataStore) GetFeatureVectors(ctx context.Context, symbol string, r dto.DateRange) ([]model.FeatureVector, error) {
	vectors, err := s.features.Get(ctx, model.GetFeatureVectorsParam{Symbol: symbol, From: r.From, To: r.To})
	if err != nil {
		return nil, fmt.Errorf("failed to get feature vectors for %s: %w", symbol, err)
	}
	return vectors, nil
}

func (s *marketDataStore) SavePrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.predictions.Upsert(ctx, p); err != nil {
		return fmt.Errorf("failed to save prediction for %s: %w", p.Symbol, err)
	}
	return nil
}

func (s *marketDataStore) GetPredictions(ctx context.Context, predictionDate time.Time) ([]model.Prediction, error) {
	return s.predictions.GetByPredictionDate(ctx, predictionDate)
}

func (s *marketDataStore) GetPendingPredictions(ctx context.Context, symbol string, asOf time.Time) ([]model.Prediction, error) {
	return s.predictions.GetPending(ctx, symbol, asOf)
}

func (s *marketDataStore) UpdateActuals(ctx context.Context, symbol string, targetDate time.Time, actualReturn, actualVolatility float64) error {
	return s.predictions.UpdateActuals(ctx, model.UpdateActualsParam{
		Symbol:           symbol,
		TargetDate:       targetDate,
		ActualReturn:     actualReturn,
		ActualVolatility: actualVolatility,
	})
}

func (s *marketDataStore) HasData(ctx context.Context, symbol string, date time.Time) (bool, error) {
	return s.bars.Exists(ctx, symbol, date)
}

func (s *marketDataStore) SaveAPIRequestLog(ctx context.Context, log *model.APIRequestLog) error {
	return s.requestLogs.Save(ctx, log)
}

func (s *marketDataStore) CountAPIRequests(ctx context.Context, provider string, since time.Time) (int64, error) {
	return s.requestLogs.CountSince(ctx, provider, since)
}
