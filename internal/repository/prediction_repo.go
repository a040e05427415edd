package repository

import (
	"context"
	"fmt"
	"time"

	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PredictionRepository interface {
	// Upsert stores p, replacing an earlier prediction for the same symbol and target date.
	Upsert(ctx context.Context, p *model.Prediction, opts ...utils.DBOption) error
	GetByPredictionDate(ctx context.Context, date time.Time) ([]model.Prediction, error)
	// GetPending returns predictions without actuals whose target date is on or before asOf.
	GetPending(ctx context.Context, symbol string, asOf time.Time) ([]model.Prediction, error)
	UpdateActuals(ctx context.Context, param model.UpdateActualsParam, opts ...utils.DBOption) error
}

type predictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) PredictionRepository {
	return &predictionRepository{
		db: db,
	}
}

func (r *predictionRepository) Upsert(ctx context.Context, p *model.Prediction, opts ...utils.DBOption) error {
	p.PredictionDate = utils.TruncateToDate(p.PredictionDate)
	p.TargetDate = utils.TruncateToDate(p.TargetDate)
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "target_date"}},
			UpdateAll: true,
		}).
		Create(p).Error
}

func (r *predictionRepository) GetByPredictionDate(ctx context.Context, date time.Time) ([]model.Prediction, error) {
	var predictions []model.Prediction
	err := r.db.WithContext(ctx).
		Where("prediction_date = ?", utils.TruncateToDate(date)).
		Order("symbol ASC").
		Find(&predictions).Error
	if err != nil {
		return nil, err
	}
	normalizePredictionDates(predictions)
	return predictions, nil
}

func (r *predictionRepository) GetPending(ctx context.Context, symbol string, asOf time.Time) ([]model.Prediction, error) {
	var predictions []model.Prediction
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND actual_return IS NULL AND target_date <= ?", symbol, utils.TruncateToDate(asOf)).
		Order("target_date ASC").
		Find(&predictions).Error
	if err != nil {
		return nil, err
	}
	normalizePredictionDates(predictions)
	return predictions, nil
}

func (r *predictionRepository) UpdateActuals(ctx context.Context, param model.UpdateActualsParam, opts ...utils.DBOption) error {
	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.Prediction{}).
		Where("symbol = ? AND target_date = ?", param.Symbol, utils.TruncateToDate(param.TargetDate)).
		Updates(map[string]interface{}{
			"actual_return":     param.ActualReturn,
			"actual_volatility": param.ActualVolatility,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: prediction for %s targeting %s", dto.ErrNotFound, param.Symbol, param.TargetDate.Format(time.DateOnly))
	}
	return nil
}

func normalizePredictionDates(predictions []model.Prediction) {
	for i := range predictions {
		predictions[i].PredictionDate = utils.TruncateToDate(predictions[i].PredictionDate)
		predictions[i].TargetDate = utils.TruncateToDate(predictions[i].TargetDate)
	}
}
