package repository

import (
	"context"
	"time"

	"market-forecast/internal/model"

	"gorm.io/gorm"
)

type APIRequestLogRepository interface {
	// Save inserts the row when it has no ID and updates it otherwise.
	Save(ctx context.Context, log *model.APIRequestLog) error
	// CountSince sums request_count over the provider's rows at or after since,
	// leaving out attempts the budget refused.
	CountSince(ctx context.Context, provider string, since time.Time) (int64, error)
}

type apiRequestLogRepository struct {
	db *gorm.DB
}

func NewAPIRequestLogRepository(db *gorm.DB) APIRequestLogRepository {
	return &apiRequestLogRepository{
		db: db,
	}
}

func (r *apiRequestLogRepository) Save(ctx context.Context, log *model.APIRequestLog) error {
	if log.RequestCount < 1 {
		log.RequestCount = 1
	}
	return r.db.WithContext(ctx).Save(log).Error
}

func (r *apiRequestLogRepository) CountSince(ctx context.Context, provider string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.APIRequestLog{}).
		Select("COALESCE(SUM(request_count), 0)").
		Where("provider = ? AND request_time >= ?", provider, since.UTC()).
		Where("response_code <> ?", model.ResponseCodeRefused).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
