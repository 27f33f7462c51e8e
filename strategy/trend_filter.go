package strategy

import (
	"context"
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/indicator"
)

// trendFilterMargin is the number of bars beyond the EMA period the filter needs before it gates.
const trendFilterMargin = 5

// Allowance is the directional gate handed to Decide.
type Allowance struct {
	Long  bool
	Short bool
	// EMA is the higher-timeframe EMA, zero when the filter did not gate.
	EMA float64
}

// AllowAll lets both directions through.
var AllowAll = Allowance{Long: true, Short: true}

// TrendFilter restricts entries to the side of a higher-timeframe EMA.
type TrendFilter struct {
	client exchange.Client
	symbol string
	cfg    config.TrendFilterConfig
}

func NewTrendFilter(client exchange.Client, symbol string, cfg config.TrendFilterConfig) *TrendFilter {
	return &TrendFilter{client: client, symbol: symbol, cfg: cfg}
}

// Allow fetches higher-timeframe bars and evaluates the gate. A disabled filter allows both sides.
func (f *TrendFilter) Allow(ctx context.Context) (Allowance, error) {
	if f == nil || !f.cfg.Enabled {
		return AllowAll, nil
	}
	bars, err := f.client.RecentBars(ctx, f.symbol, f.cfg.Interval, f.cfg.KlinesLimit)
	if err != nil {
		return Allowance{}, fmt.Errorf("trend filter: %w", err)
	}
	return EvaluateTrend(bars, f.cfg.EMAPeriod), nil
}

// EvaluateTrend compares the latest close with the EMA. Too little history allows both sides.
func EvaluateTrend(bars []exchange.Bar, emaPeriod int) Allowance {
	if len(bars) < emaPeriod+trendFilterMargin {
		return AllowAll
	}
	closes := exchange.Closes(bars)
	ema := indicator.EMA(closes, emaPeriod)
	last, e := closes[len(closes)-1], ema[len(ema)-1]
	return Allowance{Long: last > e, Short: last < e, EMA: e}
}
