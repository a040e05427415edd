package repository

import (
	"context"

	"market-forecast/internal/model"
	"market-forecast/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FeatureVectorRepository interface {
	// Upsert replaces any stored vector with the same (symbol, date).
	Upsert(ctx context.Context, vectors []model.FeatureVector, opts ...utils.DBOption) error
	Get(ctx context.Context, param model.GetFeatureVectorsParam) ([]model.FeatureVector, error)
}

type featureVectorRepository struct {
	db *gorm.DB
}

func NewFeatureVectorRepository(db *gorm.DB) FeatureVectorRepository {
	return &featureVectorRepository{
		db: db,
	}
}

func (r *featureVectorRepository) Upsert(ctx context.Context, vectors []model.FeatureVector, opts ...utils.DBOption) error {
	if len(vectors) == 0 {
		return nil
	}
	rows := make([]model.FeatureVector, len(vectors))
	for i, v := range vectors {
		v.ID = 0
		v.Date = utils.TruncateToDate(v.Date)
		rows[i] = v
	}

	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
			UpdateAll: true,
		}).
		CreateInBatches(&rows, insertBatchSize).Error
}

func (r *featureVectorRepository) Get(ctx context.Context, param model.GetFeatureVectorsParam) ([]model.FeatureVector, error) {
	var vectors []model.FeatureVector

	q := utils.ApplyOptions(r.db.WithContext(ctx),
		utils.WithSymbol(param.Symbol),
		utils.WithDateRange("date", param.From, param.To),
		utils.WithChronologicalOrder("date"),
	)
	if err := q.Find(&vectors).Error; err != nil {
		return nil, err
	}
	for i := range vectors {
		vectors[i].Date = utils.TruncateToDate(vectors[i].Date)
	}
	return vectors, nil
}
