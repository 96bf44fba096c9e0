package strategy

import "math"

// Indicator helpers. All return series aligned with the input; positions
// inside the warmup window hold NaN. Comparisons against NaN are false,
// which matches the signal rules' treatment of unready indicators.

// SMA is a simple moving average over period.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || period > len(values) {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI is the relative strength index using rolling-mean gains and losses
// over period.
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || period >= len(values) {
		return out
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := SMA(gains[1:], period)
	avgLoss := SMA(losses[1:], period)
	for i := range avgGain {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) {
			continue
		}
		if avgLoss[i] == 0 {
			out[i+1] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i+1] = 100 - 100/(1+rs)
	}
	return out
}

// EMA is an exponential moving average with smoothing 2/(period+1), seeded
// with the first value.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Bollinger returns the upper, middle, and lower bands at stdDev standard
// deviations around an SMA of period.
func Bollinger(values []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSeries(len(values))
	lower = nanSeries(len(values))
	if period <= 1 || period > len(values) {
		return upper, middle, lower
	}
	for i := period - 1; i < len(values); i++ {
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - middle[i]
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		upper[i] = middle[i] + stdDev*sd
		lower[i] = middle[i] - stdDev*sd
	}
	return upper, middle, lower
}

// MACD returns the MACD line, signal line, and histogram for the given
// fast/slow/signal periods.
func MACD(values []float64, fast, slow, signal int) (line, signalLine, histogram []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	line = make([]float64, len(values))
	for i := range values {
		line[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(line, signal)

	histogram = make([]float64, len(values))
	for i := range values {
		histogram[i] = line[i] - signalLine[i]
	}
	return line, signalLine, histogram
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// gt is a NaN-safe greater-than: false when either side is NaN.
func gt(a, b float64) bool {
	return !math.IsNaN(a) && !math.IsNaN(b) && a > b
}

// lt is a NaN-safe less-than.
func lt(a, b float64) bool {
	return !math.IsNaN(a) && !math.IsNaN(b) && a < b
}
