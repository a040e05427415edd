package repository

import (
	"context"
	"errors"
	"time"

	"market-forecast/internal/model"
	"market-forecast/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

type BarRepository interface {
	// Save inserts bars, skipping any (symbol, date) already stored, and returns the number inserted.
	Save(ctx context.Context, bars []model.Bar, opts ...utils.DBOption) (int64, error)
	Get(ctx context.Context, param model.GetBarsParam) ([]model.Bar, error)
	GetLatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
	Exists(ctx context.Context, symbol string, date time.Time) (bool, error)
}

type barRepository struct {
	db *gorm.DB
}

func NewBarRepository(db *gorm.DB) BarRepository {
	return &barRepository{
		db: db,
	}
}

func (r *barRepository) Save(ctx context.Context, bars []model.Bar, opts ...utils.DBOption) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	rows := make([]model.Bar, len(bars))
	for i, b := range bars {
		b.ID = 0
		b.Date = utils.TruncateToDate(b.Date)
		rows[i] = b
	}

	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, insertBatchSize)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *barRepository) Get(ctx context.Context, param model.GetBarsParam) ([]model.Bar, error) {
	var bars []model.Bar

	q := utils.ApplyOptions(r.db.WithContext(ctx),
		utils.WithSymbol(param.Symbol),
		utils.WithDateRange("date", param.From, param.To),
		utils.WithChronologicalOrder("date"),
	)
	if err := q.Find(&bars).Error; err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].Date = utils.TruncateToDate(bars[i].Date)
	}
	return bars, nil
}

func (r *barRepository) GetLatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var bar model.Bar
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date DESC").
		Take(&bar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return utils.TruncateToDate(bar.Date), true, nil
}

func (r *barRepository) Exists(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Bar{}).
		Where("symbol = ? AND date = ?", symbol, utils.TruncateToDate(date)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
