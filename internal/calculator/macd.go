package calculator

const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACDSeries holds the MACD line and its signal line for a close series.
// Because the EMA recurrence only looks backwards, the value at index i equals
// what a fresh computation over closes[:i+1] would produce once both slow and
// signal windows are seeded.
type MACDSeries struct {
	line        []float64
	signal      []float64
	lineStart   int
	signalStart int
}

func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	fastEMA, fastStart := EMA(closes, fast)
	slowEMA, slowStart := EMA(closes, slow)
	if len(fastEMA) == 0 || len(slowEMA) == 0 {
		return MACDSeries{}
	}

	start := fastStart
	if slowStart > start {
		start = slowStart
	}
	line := make([]float64, 0, len(closes)-start)
	for t := start; t < len(closes); t++ {
		line = append(line, fastEMA[t-fastStart]-slowEMA[t-slowStart])
	}

	signalEMA, signalOffset := EMA(line, signal)
	return MACDSeries{
		line:        line,
		signal:      signalEMA,
		lineStart:   start,
		signalStart: start + signalOffset,
	}
}

// At returns the MACD and signal values at close index i. Before the signal
// line is seeded the MACD value is returned for both; before the MACD line is
// seeded both are 0.
func (m MACDSeries) At(i int) (macd, signal float64) {
	if len(m.line) == 0 || i < m.lineStart {
		return 0, 0
	}
	j := i - m.lineStart
	if j >= len(m.line) {
		j = len(m.line) - 1
	}
	macd = m.line[j]
	if i < m.signalStart || len(m.signal) == 0 {
		return macd, macd
	}
	s := i - m.signalStart
	if s >= len(m.signal) {
		s = len(m.signal) - 1
	}
	return macd, m.signal[s]
}
