package calculator

// BollingerPosition locates closes[i] inside the band mean±2σ of the trailing
// period closes: 0 at the lower band, 1 at the upper band. The value is not
// clamped. A flat window returns 0.5.
func BollingerPosition(closes []float64, i, period int) float64 {
	if i < 0 || i >= len(closes) {
		return 0.5
	}
	window := Trailing(closes, i, period)
	sd := PopStdDev(window)
	if sd <= flatTolerance {
		return 0.5
	}
	lower := Mean(window) - 2*sd
	return (closes[i] - lower) / (4 * sd)
}

// Volatility is the population standard deviation of the trailing period closes.
func Volatility(closes []float64, i, period int) float64 {
	return PopStdDev(Trailing(closes, i, period))
}

// HighLowRatio is high/low, 1 when low is zero.
func HighLowRatio(high, low float64) float64 {
	return Ratio(high, low, 1)
}

// Range is the bar range (high-low) relative to close.
func Range(high, low, closePrice float64) float64 {
	return Ratio(high-low, closePrice, 0)
}
