// monitor/rest.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/ledger"
	"auto_paper_bot/logs"
	"auto_paper_bot/notify"
	"auto_paper_bot/profit"
	"auto_paper_bot/session"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"

	"golang.org/x/sync/errgroup"
)

// Runner polls the market over REST and feeds each observation to the session machine.
// Cycles never overlap; the runner owns the live session state.
type Runner struct {
	cfg      *config.Config
	client   exchange.Client
	machine  *session.Machine
	filter   *strategy.TrendFilter
	notifier notify.Notifier
	strategy string
	now      func() time.Time
	acct     *profit.Accountant

	mu        sync.RWMutex
	st        *state.SessionState
	snap      Snapshot
	lastAlert string
}

// NewRunner takes ownership of st. filter may be nil.
func NewRunner(cfg *config.Config, client exchange.Client, machine *session.Machine, filter *strategy.TrendFilter, n notify.Notifier, strategyName string, st *state.SessionState) *Runner {
	if n == nil {
		n = notify.Nop{}
	}
	r := &Runner{
		cfg:      cfg,
		client:   client,
		machine:  machine,
		filter:   filter,
		notifier: n,
		strategy: strategyName,
		now:      time.Now,
		acct:     profit.NewAccountant(),
		st:       st,
	}
	r.snap = r.buildSnapshot(st, 0)
	return r
}

// State returns a copy of the live session state.
func (r *Runner) State() *state.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.Clone()
}

// Snapshot returns the status of the latest cycle.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Start runs cycles every poll interval until ctx is cancelled. The first cycle runs immediately.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.Normal.PollSeconds) * time.Second)
	defer ticker.Stop()

	heartbeatInterval := time.Duration(r.cfg.Normal.HeartbeatIntervalMinutes) * time.Minute
	lastHeartbeat := r.now()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logs.Info("[Monitor] Received stop signal, exiting.")
			return
		case <-ticker.C:
			r.runOnce(ctx)
			if heartbeatInterval > 0 && r.now().Sub(lastHeartbeat) >= heartbeatInterval {
				r.heartbeat()
				lastHeartbeat = r.now()
			}
		}
	}
}

// runOnce is the per-cycle error boundary: nothing escapes it.
func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.RunCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.recordError(err)
		if errors.Is(err, strategy.ErrInsufficientHistory) {
			logs.Warnf("[Monitor] Skipping cycle: %v", err)
			return
		}
		logs.Errorf("[Monitor] Cycle failed: %v", err)
		r.alert(ctx, err)
	}
}

// RunCycle fetches bars, the spot price and the trend allowance concurrently and runs one
// session step. The live state is replaced only when the step succeeded.
func (r *Runner) RunCycle(ctx context.Context) (session.Outcome, error) {
	var (
		bars  []exchange.Bar
		price float64
		allow = strategy.AllowAll
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := r.client.RecentBars(gctx, r.cfg.Symbol, r.cfg.Normal.KlineInterval, r.cfg.Normal.KlinesLimit)
		if err != nil {
			return fmt.Errorf("fetch %s bars: %w", r.cfg.Normal.KlineInterval, err)
		}
		bars = b
		return nil
	})
	g.Go(func() error {
		p, err := r.client.SpotPrice(gctx, r.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("fetch spot price: %w", err)
		}
		price = p
		return nil
	})
	if r.filter != nil {
		// A failed filter blocks new entries but must not stop the risk checks.
		g.Go(func() error {
			a, err := r.filter.Allow(gctx)
			if err != nil {
				if gctx.Err() == nil {
					logs.Warnf("[Monitor] Blocking entries this cycle: %v", err)
				}
				allow = strategy.Allowance{}
				return nil
			}
			allow = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return session.Outcome{}, err
	}

	r.mu.RLock()
	live := r.st
	r.mu.RUnlock()

	next, out, err := r.machine.Step(ctx, live, session.Input{Bars: bars, LivePrice: price, Allow: allow})
	if err != nil {
		return out, err
	}

	for _, f := range out.Fills {
		r.acct.RecordFill(f)
	}
	r.acct.MarkValue(out.PortfolioVal)

	r.mu.Lock()
	r.st = next
	r.snap = r.buildSnapshot(next, price)
	r.snap.LastSignal = string(out.Signal)
	r.snap.LastBarCloseMs = out.Context.BarCloseMs
	r.lastAlert = ""
	r.mu.Unlock()

	logs.Debugf("[Monitor] Bar %d close %.2f live %.2f pos %s pv %.2f signal %q",
		out.Context.BarCloseMs, out.Context.Close, price, next.Position, out.PortfolioVal, out.Signal)
	return out, nil
}

func (r *Runner) buildSnapshot(st *state.SessionState, price float64) Snapshot {
	a := st.Account
	s := Snapshot{
		Symbol:             r.cfg.Symbol,
		Strategy:           r.strategy,
		Position:           string(st.Position),
		Price:              price,
		Cash:               a.Cash,
		QtyLong:            a.QtyLong,
		QtyShort:           a.QtyShort,
		RealizedPnL:        a.RealizedPnL,
		Trades:             a.Trades,
		TrailActive:        a.TrailActive,
		TrailStop:          a.TrailStop,
		DayKey:             st.DayKey,
		DayStartValue:      st.DayStartValue,
		HaltedToday:        st.HaltedToday,
		CooldownUntilBarMs: st.CooldownUntilBarMs,
		LastProcessedBarMs: st.LastProcessedBarMs,
		Session:            r.acct.Stats(),
		UpdatedAt:          r.now().UTC(),
	}
	if price > 0 {
		s.PortfolioValue = ledger.PortfolioValue(a, price)
		s.UnrealizedPnL = ledger.UnrealizedPnL(a, price)
	}
	return s
}

func (r *Runner) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.LastError = err.Error()
	r.snap.UpdatedAt = r.now().UTC()
}

// alert notifies a cycle failure once per distinct error until a cycle succeeds again.
func (r *Runner) alert(ctx context.Context, err error) {
	r.mu.Lock()
	if r.lastAlert == err.Error() {
		r.mu.Unlock()
		return
	}
	r.lastAlert = err.Error()
	r.mu.Unlock()

	msg := notify.Message{Title: "ERROR", Lines: []string{r.cfg.Symbol + ": " + err.Error()}}.Render()
	if nerr := r.notifier.SendText(ctx, msg); nerr != nil {
		logs.Warnf("[Monitor] Failed to notify cycle error: %v", nerr)
	}
}

func (r *Runner) heartbeat() {
	s := r.Snapshot()
	logs.Infof("[Heartbeat] %s %s pos=%s price=%.2f value=%.2f realized=%.2f trades=%d halted=%t",
		s.Symbol, s.Strategy, s.Position, s.Price, s.PortfolioValue, s.RealizedPnL, s.Trades, s.HaltedToday)
}
