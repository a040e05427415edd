package model

import "time"

// FeatureSchema lists the model inputs in the order returned by FeatureVector.Values.
var FeatureSchema = []string{
	"return_1d",
	"return_5d",
	"return_20d",
	"ma_ratio_5",
	"ma_ratio_10",
	"ma_ratio_20",
	"ma_ratio_50",
	"rsi_14",
	"macd",
	"macd_signal",
	"bollinger_position",
	"volume_ratio_20",
	"volume_ratio_ma_10",
	"volatility_20",
	"high_low_ratio",
}

// FeatureVector holds the engineered features of one bar. NextDayReturn and
// NextDayVolatility are labels and are only set on training rows.
type FeatureVector struct {
	ID                uint      `gorm:"primaryKey"`
	Symbol            string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_feature_vectors_symbol_date"`
	Date              time.Time `gorm:"type:date;not null;uniqueIndex:idx_feature_vectors_symbol_date"`
	Return1d          float64
	Return5d          float64
	Return20d         float64
	MARatio5          float64 `gorm:"column:ma_ratio_5"`
	MARatio10         float64 `gorm:"column:ma_ratio_10"`
	MARatio20         float64 `gorm:"column:ma_ratio_20"`
	MARatio50         float64 `gorm:"column:ma_ratio_50"`
	RSI14             float64 `gorm:"column:rsi_14"`
	MACD              float64 `gorm:"column:macd"`
	MACDSignal        float64 `gorm:"column:macd_signal"`
	BollingerPosition float64
	VolumeRatio20     float64 `gorm:"column:volume_ratio_20"`
	VolumeRatioMA10   float64 `gorm:"column:volume_ratio_ma_10"`
	Volatility20      float64 `gorm:"column:volatility_20"`
	HighLowRatio      float64
	Open              float64
	High              float64
	Low               float64
	Close             float64
	Volume            int64
	NextDayReturn     *float64
	NextDayVolatility *float64
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (FeatureVector) TableName() string {
	return "feature_vectors"
}

// Values returns the model inputs in FeatureSchema order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.Return1d,
		f.Return5d,
		f.Return20d,
		f.MARatio5,
		f.MARatio10,
		f.MARatio20,
		f.MARatio50,
		f.RSI14,
		f.MACD,
		f.MACDSignal,
		f.BollingerPosition,
		f.VolumeRatio20,
		f.VolumeRatioMA10,
		f.Volatility20,
		f.HighLowRatio,
	}
}

// HasLabels reports whether both training labels are present.
func (f FeatureVector) HasLabels() bool {
	return f.NextDayReturn != nil && f.NextDayVolatility != nil
}

type GetFeatureVectorsParam struct {
	Symbol string
	From   time.Time
	To     time.Time
}
