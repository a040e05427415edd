package model

import (
	"time"

	"gorm.io/datatypes"
)

// ModelArtifact is a persisted trained model.
type ModelArtifact struct {
	ID            uint           `gorm:"primaryKey"`
	Version       string         `gorm:"type:varchar(100);not null;uniqueIndex"`
	FeatureSchema datatypes.JSON `gorm:"type:jsonb"`
	Metrics       datatypes.JSON `gorm:"type:jsonb"`
	Payload       []byte         `gorm:"not null"`
	TrainedAt     time.Time      `gorm:"not null;index"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
}

func (ModelArtifact) TableName() string {
	return "model_artifacts"
}
