package calculator

// SMA is the mean of the trailing period values ending at i.
func SMA(values []float64, i, period int) float64 {
	return Mean(Trailing(values, i, period))
}

// MARatio is values[i] divided by its trailing simple moving average.
func MARatio(values []float64, i, period int) float64 {
	if i < 0 || i >= len(values) {
		return 1
	}
	return Ratio(values[i], SMA(values, i, period), 1)
}

// VolumeRatio is volumes[i] divided by the mean of the trailing period volumes.
func VolumeRatio(volumes []float64, i, period int) float64 {
	if i < 0 || i >= len(volumes) {
		return 1
	}
	return Ratio(volumes[i], SMA(volumes, i, period), 1)
}

// EMA computes the exponential moving average of values. The first output is the
// simple mean of the first period values (or of all values when fewer exist) and
// sits at index start of values; each later output follows
// ema = value*k + prev*(1-k) with k = 2/(period+1).
func EMA(values []float64, period int) (series []float64, start int) {
	if len(values) == 0 || period <= 0 {
		return nil, 0
	}
	seed := period
	if seed > len(values) {
		seed = len(values)
	}
	k := 2.0 / float64(period+1)

	series = make([]float64, 0, len(values)-seed+1)
	prev := Mean(values[:seed])
	series = append(series, prev)
	for _, v := range values[seed:] {
		prev = v*k + prev*(1-k)
		series = append(series, prev)
	}
	return series, seed - 1
}
