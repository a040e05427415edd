package repository

import (
	"market-forecast/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table used by the pipeline. PostgreSQL
// deployments use the SQL files under migrations/ instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Bar{},
		&model.FeatureVector{},
		&model.Prediction{},
		&model.APIRequestLog{},
		&model.ModelArtifact{},
	)
}
