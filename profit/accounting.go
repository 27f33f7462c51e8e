package profit

import (
	"math"
	"sync"

	"auto_paper_bot/ledger"
)

// Stats summarizes closed trades and the equity curve of one run.
type Stats struct {
	ClosedTrades   int     `json:"closed_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRatePct     float64 `json:"win_rate_pct"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	ProfitFactor   float64 `json:"profit_factor"` // +Inf is reported as 0 when there is no loss
	RealizedPnL    float64 `json:"realized_pnl"`
	Fees           float64 `json:"fees"`
	PeakValue      float64 `json:"peak_value"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// Accountant accumulates fills and portfolio marks for a run. Realized P&L of a close
// is net of its own fee; the entry fee is already out of cash and shows in Fees only.
type Accountant struct {
	mu    sync.Mutex
	stats Stats
}

func NewAccountant() *Accountant {
	return &Accountant{}
}

// RecordFill adds one ledger fill. Only closes count as trades.
func (a *Accountant) RecordFill(f ledger.Fill) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Fees += f.Fee
	if f.Kind != "close_long" && f.Kind != "close_short" {
		return
	}
	s := &a.stats
	s.ClosedTrades++
	s.RealizedPnL += f.Realized
	if f.Realized > 0 {
		s.Wins++
		s.GrossProfit += f.Realized
	} else {
		s.Losses++
		s.GrossLoss += -f.Realized
	}
	s.WinRatePct = float64(s.Wins) / float64(s.ClosedTrades) * 100
	s.ProfitFactor = 0
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
}

// MarkValue feeds the portfolio value after a cycle into the drawdown tracker.
func (a *Accountant) MarkValue(pv float64) {
	if pv <= 0 || math.IsNaN(pv) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if pv > a.stats.PeakValue {
		a.stats.PeakValue = pv
		return
	}
	if dd := (a.stats.PeakValue - pv) / a.stats.PeakValue * 100; dd > a.stats.MaxDrawdownPct {
		a.stats.MaxDrawdownPct = dd
	}
}

// Stats returns a copy of the accumulated statistics.
func (a *Accountant) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
