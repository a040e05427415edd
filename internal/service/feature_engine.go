package service

import (
	"market-forecast/internal/calculator"
	"market-forecast/internal/dto"
	"market-forecast/internal/model"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"
)

const (
	// warmupBars is the history every training row needs behind it.
	warmupBars = 50
	// MinGenerateBars is warmupBars plus the bar the first row is built on.
	MinGenerateBars = warmupBars + 1
	// MinPredictBars covers the ten-day windows used for the prediction tail.
	MinPredictBars = 11
)

// FeatureEngine turns one symbol's bars, sorted by ascending date, into feature vectors.
type FeatureEngine interface {
	// Generate builds labelled training rows. The last bar has no next day and
	// never yields a row.
	Generate(bars []model.Bar) ([]model.FeatureVector, error)
	// Latest builds the unlabelled vector of the last bar, truncating every
	// window to the history available.
	Latest(bars []model.Bar) (model.FeatureVector, error)
}

type featureEngine struct {
	log *logger.Logger
}

func NewFeatureEngine(log *logger.Logger) FeatureEngine {
	return &featureEngine{log: log}
}

func (e *featureEngine) Generate(bars []model.Bar) ([]model.FeatureVector, error) {
	if len(bars) < MinGenerateBars {
		return nil, dto.InsufficientDataError(symbolOf(bars), len(bars), MinGenerateBars)
	}

	s := newBarSeries(bars)
	vectors := make([]model.FeatureVector, 0, len(bars)-MinGenerateBars)
	for i := warmupBars; i < len(bars)-1; i++ {
		v := s.vector(bars[i], i)
		nextReturn := calculator.Return(s.closes, i+1, 1)
		nextVolatility := calculator.Range(s.highs[i+1], s.lows[i+1], s.closes[i+1])
		v.NextDayReturn = &nextReturn
		v.NextDayVolatility = &nextVolatility
		vectors = append(vectors, v)
	}

	e.log.Debug("Generated feature vectors",
		logger.StringField("symbol", symbolOf(bars)),
		logger.IntField("bars", len(bars)),
		logger.IntField("rows", len(vectors)),
	)
	return vectors, nil
}

func (e *featureEngine) Latest(bars []model.Bar) (model.FeatureVector, error) {
	if len(bars) == 0 {
		return model.FeatureVector{}, dto.InsufficientDataError("", 0, 1)
	}
	last := len(bars) - 1
	return newBarSeries(bars).vector(bars[last], last), nil
}

type barSeries struct {
	closes  []float64
	highs   []float64
	lows    []float64
	volumes []float64
	macd    calculator.MACDSeries
}

func newBarSeries(bars []model.Bar) *barSeries {
	s := &barSeries{
		closes:  make([]float64, len(bars)),
		highs:   make([]float64, len(bars)),
		lows:    make([]float64, len(bars)),
		volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.closes[i] = b.CloseFloat()
		s.highs[i] = b.HighFloat()
		s.lows[i] = b.LowFloat()
		s.volumes[i] = float64(b.Volume)
	}
	s.macd = calculator.MACD(s.closes, calculator.MACDFast, calculator.MACDSlow, calculator.MACDSignal)
	return s
}

func (s *barSeries) vector(bar model.Bar, i int) model.FeatureVector {
	macd, signal := s.macd.At(i)
	return model.FeatureVector{
		Symbol:            utils.NormalizeSymbol(bar.Symbol),
		Date:              utils.TruncateToDate(bar.Date),
		Return1d:          calculator.Return(s.closes, i, 1),
		Return5d:          calculator.Return(s.closes, i, 5),
		Return20d:         calculator.Return(s.closes, i, 20),
		MARatio5:          calculator.MARatio(s.closes, i, 5),
		MARatio10:         calculator.MARatio(s.closes, i, 10),
		MARatio20:         calculator.MARatio(s.closes, i, 20),
		MARatio50:         calculator.MARatio(s.closes, i, 50),
		RSI14:             calculator.RSI(s.closes, i, 14),
		MACD:              macd,
		MACDSignal:        signal,
		BollingerPosition: calculator.BollingerPosition(s.closes, i, 20),
		VolumeRatio20:     calculator.VolumeRatio(s.volumes, i, 20),
		VolumeRatioMA10:   calculator.VolumeRatio(s.volumes, i, 10),
		Volatility20:      calculator.Volatility(s.closes, i, 20),
		HighLowRatio:      calculator.HighLowRatio(s.highs[i], s.lows[i]),
		Open:              bar.OpenFloat(),
		High:              s.highs[i],
		Low:               s.lows[i],
		Close:             s.closes[i],
		Volume:            bar.Volume,
	}
}

func symbolOf(bars []model.Bar) string {
	if len(bars) == 0 {
		return ""
	}
	return utils.NormalizeSymbol(bars[0].Symbol)
}
