// Package indicator computes technical indicators over ordered bar sequences.
//
// Every function returns a series the same length as its input. Positions without
// enough history hold NaN; callers check Ready before deciding on a value.
package indicator

import (
	"math"

	"auto_paper_bot/exchange"

	"github.com/markcheno/go-talib"
)

// zeroTolerance absorbs the residue talib's running sums leave behind.
const zeroTolerance = 1e-12

// Bands holds the three Bollinger series.
type Bands struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// Ready reports whether series holds a defined value at index i.
func Ready(series []float64, i int) bool {
	if i < 0 || i >= len(series) {
		return false
	}
	v := series[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA is the exponential moving average with alpha = 2/(period+1), seeded by the first value.
// It is defined from the first element on, matching a non-adjusted recursive EMA.
func EMA(values []float64, period int) []float64 {
	if period <= 0 {
		return nanSeries(len(values))
	}
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingMean is the simple moving average; the first period-1 positions are NaN.
func RollingMean(series []float64, period int) []float64 {
	if period <= 0 || len(series) < period {
		return nanSeries(len(series))
	}
	out := talib.Sma(series, period)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first bar uses high-low.
func TrueRange(bars []exchange.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
		}
		out[i] = tr
	}
	return out
}

// ATR is the simple rolling mean of the true range over period bars.
func ATR(bars []exchange.Bar, period int) []float64 {
	out := RollingMean(TrueRange(bars), period)
	for i, v := range out {
		if Ready(out, i) && math.Abs(v) < zeroTolerance {
			out[i] = 0
		}
	}
	return out
}

// RSI averages positive and negative close-to-close deltas over a rolling window.
// A window without losses reads 100, a window without any movement reads 50.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n <= period {
		return out
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := RollingMean(gains, period)
	avgLoss := RollingMean(losses, period)

	// Index 0 carries no delta, so the first full window ends at index period.
	for i := period; i < n; i++ {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.Abs(l) < zeroTolerance && math.Abs(g) < zeroTolerance:
			out[i] = 50
		case math.Abs(l) < zeroTolerance:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// Bollinger returns the rolling mean plus/minus mult population standard deviations.
func Bollinger(closes []float64, period int, mult float64) Bands {
	n := len(closes)
	if period < 2 || n < period {
		return Bands{Mid: nanSeries(n), Upper: nanSeries(n), Lower: nanSeries(n)}
	}
	upper, mid, lower := talib.BBands(closes, period, mult, mult, talib.SMA)
	for i := 0; i < period-1; i++ {
		upper[i], mid[i], lower[i] = math.NaN(), math.NaN(), math.NaN()
	}
	return Bands{Mid: mid, Upper: upper, Lower: lower}
}
