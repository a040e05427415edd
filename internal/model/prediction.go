package model

import "time"

type Prediction struct {
	ID                  uint      `gorm:"primaryKey"`
	Symbol              string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_predictions_symbol_target_date"`
	PredictionDate      time.Time `gorm:"type:date;not null;index"`
	TargetDate          time.Time `gorm:"type:date;not null;uniqueIndex:idx_predictions_symbol_target_date"`
	LastClose           float64   `gorm:"not null"`
	PredictedPrice      float64   `gorm:"not null"`
	PredictedReturn     float64   `gorm:"not null"`
	PredictedVolatility float64   `gorm:"not null"`
	ConfidenceScore     float64   `gorm:"not null"`
	RiskAdjustedScore   float64   `gorm:"not null"`
	ModelVersion        string    `gorm:"type:varchar(100);not null"`
	ActualReturn        *float64
	ActualVolatility    *float64
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}

type UpdateActualsParam struct {
	Symbol           string
	TargetDate       time.Time
	ActualReturn     float64
	ActualVolatility float64
}
