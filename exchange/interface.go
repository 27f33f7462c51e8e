package exchange

import (
	"context"
	"time"
)

// Bar is one fixed-interval OHLCV candle. Times are epoch milliseconds.
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// CloseAt returns the bar close as a time.Time.
func (b Bar) CloseAt() time.Time {
	return time.UnixMilli(b.CloseTime)
}

// Closes extracts the close series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Client is the market-data collaborator the bot polls. Implementations own their
// own timeout and retry policy; callers treat every call as synchronous and fallible.
type Client interface {
	// RecentBars returns up to count bars, oldest first. The last bar may still be forming.
	RecentBars(ctx context.Context, symbol, interval string, count int) ([]Bar, error)

	// SpotPrice returns a best-effort current price.
	SpotPrice(ctx context.Context, symbol string) (float64, error)
}
