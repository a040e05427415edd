package service

import (
	"math"
	"time"

	"market-forecast/internal/model"

	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// businessDays returns n consecutive weekdays starting at start.
func businessDays(start time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	for d := start; len(days) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

// makeSeries builds weekday bars whose close is closeAt(i) and whose range is
// ±1% around the close.
func makeSeries(symbol string, start time.Time, n int, closeAt func(i int) float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i, d := range businessDays(start, n) {
		c := closeAt(i)
		bars[i] = model.Bar{
			Symbol:        symbol,
			Date:          d,
			Open:          decimal.NewFromFloat(c),
			High:          decimal.NewFromFloat(c * 1.01),
			Low:           decimal.NewFromFloat(c * 0.99),
			Close:         decimal.NewFromFloat(c),
			AdjustedClose: decimal.NewFromFloat(c),
			Volume:        1000,
		}
	}
	return bars
}

func growing(rate float64) func(i int) float64 {
	return func(i int) float64 { return 100 * math.Pow(1+rate, float64(i)) }
}

func linear(base, step float64) func(i int) float64 {
	return func(i int) float64 { return base + step*float64(i) }
}
