package calculator

// RSI uses simple averages of the gains and losses over the trailing period
// deltas ending at i. Returns 50 when there is no movement and 100 when there
// are no losses.
func RSI(closes []float64, i, period int) float64 {
	if i <= 0 || i >= len(closes) || period <= 0 {
		return 50
	}
	start := i - period + 1
	if start < 1 {
		start = 1
	}

	var gain, loss float64
	for k := start; k <= i; k++ {
		change := closes[k] - closes[k-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	n := float64(i - start + 1)
	avgGain := gain / n
	avgLoss := loss / n

	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
