package repository

import (
	"path/filepath"
	"testing"
	"time"

	"market-forecast/internal/model"
	"market-forecast/pkg/database"
	"market-forecast/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db.DB))
	t.Cleanup(func() { _ = db.Close() })
	return db.DB
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func makeBar(symbol string, date time.Time, closePrice float64) model.Bar {
	c := decimal.NewFromFloat(closePrice)
	return model.Bar{
		Symbol:        symbol,
		Date:          date,
		Open:          c,
		High:          c.Add(decimal.NewFromInt(1)),
		Low:           c.Sub(decimal.NewFromFloat(0.5)),
		Close:         c,
		AdjustedClose: c,
		Volume:        1000,
	}
}
