package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one daily OHLCV record for a symbol.
type Bar struct {
	ID            uint            `gorm:"primaryKey"`
	Symbol        string          `gorm:"type:varchar(20);not null;uniqueIndex:idx_bars_symbol_date" validate:"required"`
	Date          time.Time       `gorm:"type:date;not null;uniqueIndex:idx_bars_symbol_date" validate:"required"`
	Open          decimal.Decimal `gorm:"type:numeric(20,6);not null" validate:"gte=0"`
	High          decimal.Decimal `gorm:"type:numeric(20,6);not null" validate:"gte=0"`
	Low           decimal.Decimal `gorm:"type:numeric(20,6);not null" validate:"gte=0"`
	Close         decimal.Decimal `gorm:"type:numeric(20,6);not null" validate:"gt=0"`
	AdjustedClose decimal.Decimal `gorm:"type:numeric(20,6)"`
	Volume        int64           `gorm:"not null;default:0" validate:"gte=0"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
}

func (Bar) TableName() string {
	return "bars"
}

func (b Bar) CloseFloat() float64 {
	f, _ := b.Close.Float64()
	return f
}

func (b Bar) OpenFloat() float64 {
	f, _ := b.Open.Float64()
	return f
}

func (b Bar) HighFloat() float64 {
	f, _ := b.High.Float64()
	return f
}

func (b Bar) LowFloat() float64 {
	f, _ := b.Low.Float64()
	return f
}

type GetBarsParam struct {
	Symbol string
	From   time.Time
	To     time.Time
}
