// Package backtest replays the session machine over historical bars.
package backtest

import (
	"context"
	"errors"
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/ledger"
	"auto_paper_bot/logs"
	"auto_paper_bot/notify"
	"auto_paper_bot/profit"
	"auto_paper_bot/risk"
	"auto_paper_bot/session"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"
)

// Warmup is the minimum number of bars before the first replayed cycle.
const Warmup = 60

// Report summarizes a replay.
type Report struct {
	Strategy  string
	Bars      int
	Cycles    int
	Trades    int
	RiskExits int
	Halts     int
	StartCash float64
	EndValue  float64
	PnL       float64
	PnLPct    float64
	Realized  float64
	Stats     profit.Stats
	Fills     []ledger.Fill
	Final     *state.SessionState
}

func (r Report) String() string {
	return fmt.Sprintf("strategy=%s bars=%d trades=%d risk_exits=%d end=%.2f pnl=%.2f (%+.2f%%) realized=%.2f win_rate=%.1f%% max_dd=%.2f%%",
		r.Strategy, r.Bars, r.Trades, r.RiskExits, r.EndValue, r.PnL, r.PnLPct, r.Realized, r.Stats.WinRatePct, r.Stats.MaxDrawdownPct)
}

// Run replays bars through a fresh in-memory session. Each cycle sees the window bars[:i],
// whose last bar plays the forming bar; the decided bar's close is the live price and its
// close time is the clock. The trend filter is not applied.
func Run(ctx context.Context, cfg *config.Config, strat strategy.Strategy, bars []exchange.Bar) (Report, error) {
	replay := *cfg
	replay.Paper.Enabled = true

	defaults := state.Defaults{PaperEnabled: true, StartCash: replay.Paper.StartCash}
	m, err := session.NewMachine(&replay, session.Options{
		Strategy: strat,
		Risk:     risk.NewManager(cfg.Risk),
		Store:    state.NewStore(state.NewMemoryBackend(), defaults),
		Notifier: notify.Nop{},
	})
	if err != nil {
		return Report{}, err
	}

	rep := Report{Strategy: strat.Name(), Bars: len(bars), StartCash: replay.Paper.StartCash}
	st := state.New(defaults)
	acct := profit.NewAccountant()
	acct.MarkValue(replay.Paper.StartCash)

	warmup := Warmup
	if w := cfg.MinBars(); w > warmup {
		warmup = w
	}
	for i := warmup; i <= len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		window := bars[:i]
		decided := window[len(window)-2]

		next, out, err := m.Step(ctx, st, session.Input{
			Bars:      window,
			LivePrice: decided.Close,
			Allow:     strategy.AllowAll,
			Now:       decided.CloseAt(),
		})
		if errors.Is(err, strategy.ErrInsufficientHistory) {
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("replay bar %d: %w", decided.CloseTime, err)
		}
		st = next
		rep.Cycles++
		rep.Fills = append(rep.Fills, out.Fills...)
		for _, f := range out.Fills {
			acct.RecordFill(f)
		}
		acct.MarkValue(out.PortfolioVal)
		if out.RiskExit != nil {
			rep.RiskExits++
		}
		if out.HaltedNow {
			rep.Halts++
		}
	}

	if len(bars) > 0 {
		last := bars[len(bars)-1].Close
		rep.EndValue = ledger.PortfolioValue(st.Account, last)
	} else {
		rep.EndValue = st.Account.Cash
	}
	rep.Trades = st.Account.Trades
	rep.Realized = st.Account.RealizedPnL
	rep.PnL = rep.EndValue - rep.StartCash
	if rep.StartCash > 0 {
		rep.PnLPct = rep.PnL / rep.StartCash * 100
	}
	rep.Final = st
	rep.Stats = acct.Stats()

	logs.Infof("[Backtest] Done. %s interval=%s", rep, cfg.Normal.KlineInterval)
	return rep, nil
}
