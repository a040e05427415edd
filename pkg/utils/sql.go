package utils

import (
	"time"

	"gorm.io/gorm"
)

type DBOption func(*gorm.DB) *gorm.DB

func ApplyOptions(db *gorm.DB, opts ...DBOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

// WithTx routes the query through tx, replacing the base handle.
func WithTx(tx *gorm.DB) DBOption {
	return func(_ *gorm.DB) *gorm.DB {
		return tx
	}
}

func WithSymbol(symbol string) DBOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("symbol = ?", NormalizeSymbol(symbol))
	}
}

// WithDateRange bounds column to [from, to] by calendar date. A zero bound is open.
func WithDateRange(column string, from, to time.Time) DBOption {
	return func(db *gorm.DB) *gorm.DB {
		if !from.IsZero() {
			db = db.Where(column+" >= ?", TruncateToDate(from))
		}
		if !to.IsZero() {
			db = db.Where(column+" <= ?", TruncateToDate(to))
		}
		return db
	}
}

func WithChronologicalOrder(column string) DBOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column + " ASC")
	}
}
