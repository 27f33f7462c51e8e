package indicator

import (
	"math"
	"testing"

	"auto_paper_bot/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMADegenerateSmoothing(t *testing.T) {
	assert.Equal(t, []float64{10, 20, 30}, EMA([]float64{10, 20, 30}, 1))
}

func TestEMARecurrence(t *testing.T) {
	got := EMA([]float64{10, 20, 30}, 3)
	// alpha = 0.5
	assert.InDeltaSlice(t, []float64{10, 15, 22.5}, got, 1e-12)
}

func TestRollingMeanLeadingNaN(t *testing.T) {
	got := RollingMean([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 5)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDeltaSlice(t, []float64{2, 3, 4}, got[2:], 1e-12)

	short := RollingMean([]float64{1, 2}, 3)
	assert.False(t, Ready(short, 0))
	assert.False(t, Ready(short, 1))
}

func flatBars(n int, price float64) []exchange.Bar {
	bars := make([]exchange.Bar, n)
	for i := range bars {
		bars[i] = exchange.Bar{OpenTime: int64(i) * 1000, CloseTime: int64(i+1)*1000 - 1,
			Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return bars
}

func TestATRFlatBarsIsZero(t *testing.T) {
	atr := ATR(flatBars(10, 50), 3)
	for i := 0; i < 2; i++ {
		assert.False(t, Ready(atr, i))
	}
	for i := 2; i < 10; i++ {
		assert.Equal(t, 0.0, atr[i], "index %d", i)
	}
}

func TestATRUsesPreviousClose(t *testing.T) {
	bars := []exchange.Bar{
		{High: 10, Low: 8, Close: 9},
		{High: 12, Low: 11, Close: 11.5}, // gap up: |12-9| = 3
		{High: 11, Low: 7, Close: 8},     // range 4
	}
	assert.Equal(t, []float64{2, 3, 4}, TrueRange(bars))
	atr := ATR(bars, 2)
	assert.InDelta(t, 2.5, atr[1], 1e-12)
	assert.InDelta(t, 3.5, atr[2], 1e-12)
}

func TestRSI(t *testing.T) {
	closes := []float64{1, 2, 1, 2, 1, 2}
	rsi := RSI(closes, 2)
	assert.False(t, Ready(rsi, 1))
	// window (+1, -1) -> 50
	assert.InDelta(t, 50, rsi[2], 1e-9)
	assert.InDelta(t, 50, rsi[5], 1e-9)

	up := RSI([]float64{1, 2, 3, 4, 5}, 3)
	assert.InDelta(t, 100, up[4], 1e-9)

	flat := RSI([]float64{5, 5, 5, 5, 5}, 3)
	assert.InDelta(t, 50, flat[4], 1e-9)

	mixed := RSI([]float64{10, 12, 11, 14}, 3)
	// gains 2+0+3 = 5, losses 1 -> rs 5 -> 83.33
	assert.InDelta(t, 100-100/6.0, mixed[3], 1e-9)
}

func TestBollingerPopulationStdDev(t *testing.T) {
	b := Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	for i := 0; i < 4; i++ {
		assert.False(t, Ready(b.Mid, i))
	}
	assert.InDelta(t, 3, b.Mid[4], 1e-9)
	assert.InDelta(t, 3+2*math.Sqrt2, b.Upper[4], 1e-9)
	assert.InDelta(t, 3-2*math.Sqrt2, b.Lower[4], 1e-9)
}

func TestBollingerInsufficientHistory(t *testing.T) {
	b := Bollinger([]float64{1, 2}, 5, 2)
	assert.Len(t, b.Mid, 2)
	assert.False(t, Ready(b.Upper, 1))
}
