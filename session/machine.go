// Package session runs one decision cycle: strategy, risk and ledger against the session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/journal"
	"auto_paper_bot/ledger"
	"auto_paper_bot/logs"
	"auto_paper_bot/notify"
	"auto_paper_bot/risk"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"
	"auto_paper_bot/utils"

	"github.com/sirupsen/logrus"
)

// Persister saves the session state atomically.
type Persister interface {
	Save(ctx context.Context, st *state.SessionState) error
}

// TradeRecorder receives every committed fill.
type TradeRecorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Input is everything a cycle observes from the market.
type Input struct {
	Bars      []exchange.Bar
	LivePrice float64
	Allow     strategy.Allowance
	// Now overrides the machine clock, used by backtests to replay bar time.
	Now time.Time
}

// Outcome describes what a cycle did.
type Outcome struct {
	Context      strategy.Context
	NewBar       bool
	Signal       strategy.Action // strategy decision on a new bar, Hold otherwise
	RiskExit     *risk.ForceCloseAction
	Fills        []ledger.Fill
	HaltedNow    bool
	InCooldown   bool
	DayRolled    bool
	Saved        bool
	OpenBlocked  string // why a strategy open was not executed
	PortfolioVal float64
}

// Machine is the session state machine. It is not safe for concurrent Steps;
// exactly one cycle runs at a time.
type Machine struct {
	symbol       string
	strategy     strategy.Strategy
	risk         risk.RiskManager
	ledger       *ledger.Ledger
	killSwitch   *KillSwitch
	store        Persister
	notifier     notify.Notifier
	journal      TradeRecorder
	barDuration  time.Duration
	reentryBars  int
	paperEnabled bool
	now          func() time.Time
}

// Options carries the collaborators of a Machine. Journal may be nil.
type Options struct {
	Strategy strategy.Strategy
	Risk     risk.RiskManager
	Store    Persister
	Notifier notify.Notifier
	Journal  TradeRecorder
}

func NewMachine(cfg *config.Config, opts Options) (*Machine, error) {
	dur, ok := utils.ParseInterval(cfg.Normal.KlineInterval)
	if !ok {
		return nil, fmt.Errorf("invalid kline interval %q", cfg.Normal.KlineInterval)
	}
	if opts.Strategy == nil || opts.Risk == nil || opts.Store == nil {
		return nil, errors.New("session machine needs a strategy, a risk manager and a store")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Machine{
		symbol:       cfg.Symbol,
		strategy:     opts.Strategy,
		risk:         opts.Risk,
		ledger:       ledger.New(cfg.Paper),
		killSwitch:   NewKillSwitch(cfg.Risk.UseKillSwitch, cfg.Risk.MaxDailyDDPct, cfg.Normal.DayUTCOffsetHours),
		store:        opts.Store,
		notifier:     opts.Notifier,
		journal:      opts.Journal,
		barDuration:  dur,
		reentryBars:  cfg.Risk.ReentryBars,
		paperEnabled: cfg.Paper.Enabled,
		now:          time.Now,
	}, nil
}

// SetClock replaces the wall clock, used by tests.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// cycle accumulates side effects that are released only after the state is saved.
type cycle struct {
	messages []string
	entries  []journal.Entry
}

// Step runs one cycle against a copy of live. On success the returned state has been
// persisted and replaces live; on error live is returned untouched and nothing was sent.
func (m *Machine) Step(ctx context.Context, live *state.SessionState, in Input) (*state.SessionState, Outcome, error) {
	out := Outcome{Signal: strategy.Hold}
	c, err := m.strategy.BuildContext(in.Bars)
	if err != nil {
		return live, out, err
	}
	out.Context = c
	price := in.LivePrice
	if !utils.IsFinite(price) || price <= 0 {
		return live, out, fmt.Errorf("invalid live price %v", price)
	}
	now := in.Now
	if now.IsZero() {
		now = m.now()
	}

	next := live.Clone()
	var cy cycle

	out.DayRolled = m.killSwitch.Rollover(next, now, ledger.PortfolioValue(next.Account, price))

	pv := ledger.PortfolioValue(next.Account, price)
	if tripped, dd := m.killSwitch.Check(next, pv); tripped {
		out.HaltedNow = true
		cy.messages = append(cy.messages, notify.Message{
			Title: "KILL SWITCH ON",
			Lines: []string{
				fmt.Sprintf("Daily DD %.2f%% >= %.2f%%", dd, m.killSwitch.maxDailyDDPct),
				"Stop opening new positions for today.",
			},
		}.Render())
	}

	out.NewBar = c.BarCloseMs > next.LastProcessedBarMs

	// Risk exits run on every cycle against the live price and bypass the cooldown.
	exited, err := m.applyRisk(next, price, c, &cy, &out)
	if err != nil {
		return live, out, err
	}
	if exited {
		if out.NewBar {
			next.LastProcessedBarMs = c.BarCloseMs
		}
		return m.commit(ctx, live, next, price, &cy, out)
	}

	if !out.NewBar {
		// Duplicate or stale bar: no decisioning. Save only what risk/day handling changed.
		if *next == *live {
			out.PortfolioVal = ledger.PortfolioValue(next.Account, price)
			return live, out, nil
		}
		return m.commit(ctx, live, next, price, &cy, out)
	}
	next.LastProcessedBarMs = c.BarCloseMs

	if next.CooldownUntilBarMs != 0 && c.BarCloseMs < next.CooldownUntilBarMs {
		out.InCooldown = true
		logs.Debugf("[Session] Bar %d inside cooldown until %d", c.BarCloseMs, next.CooldownUntilBarMs)
		return m.commit(ctx, live, next, price, &cy, out)
	}

	out.Signal = m.strategy.Decide(c, next.Position, in.Allow.Long, in.Allow.Short)
	if out.Signal != strategy.Hold {
		if err := m.applySignal(next, c, price, in.Allow, &cy, &out); err != nil {
			return live, out, err
		}
	}
	return m.commit(ctx, live, next, price, &cy, out)
}

func (m *Machine) applyRisk(next *state.SessionState, price float64, c strategy.Context, cy *cycle, out *Outcome) (bool, error) {
	actions := m.risk.Evaluate(next, price)
	for _, act := range actions {
		if armed, ok := act.(*risk.TrailActivatedAction); ok {
			cy.messages = append(cy.messages, notify.Message{
				Title: fmt.Sprintf("TRAIL ON (%s)", upper(armed.Side)),
				Lines: []string{"Stop init ~ " + notify.Money(armed.Stop)},
			}.Render())
		}
	}
	forced := risk.ForcedClose(actions)
	if forced == nil {
		return false, nil
	}

	fill, err := m.ledger.Close(next, price)
	if err != nil {
		return false, fmt.Errorf("risk exit %s: %w", forced.Reason, err)
	}
	out.RiskExit = forced
	out.Fills = append(out.Fills, fill)
	m.setCooldown(next, c.BarCloseMs)

	logs.WithFields(logrus.Fields{
		"symbol": m.symbol, "reason": forced.Reason, "side": forced.Side, "price": price, "level": forced.Level, "realized": fill.Realized,
	}).Warn("[Risk] Forced exit")
	cy.messages = append(cy.messages,
		notify.Message{Title: fmt.Sprintf("%s (%s)", riskTitle(forced.Reason), upper(forced.Side)), Lines: []string{forced.Description()}}.Render(),
		notify.TradeSummary(fmt.Sprintf("After %s %s", riskTitle(forced.Reason), upper(forced.Side)), next, price),
	)
	cy.entries = append(cy.entries, m.entry(fill, string(forced.Reason), next, price, c.BarCloseMs))
	return true, nil
}

func (m *Machine) applySignal(next *state.SessionState, c strategy.Context, price float64, allow strategy.Allowance, cy *cycle, out *Outcome) error {
	action := out.Signal
	if action.IsOpen() && next.HaltedToday {
		out.OpenBlocked = "kill switch"
		logs.Infof("[Session] %s signal at %.2f ignored: kill switch active", action, c.Close)
		return nil
	}
	if !m.paperEnabled {
		out.OpenBlocked = "paper trading disabled"
		cy.messages = append(cy.messages, notify.Message{
			Title: fmt.Sprintf("SIGNAL %s (paper off)", upper(action)),
			Lines: []string{"Close " + notify.Money(c.Close)},
		}.Render())
		return nil
	}

	var (
		fill ledger.Fill
		err  error
	)
	switch action {
	case strategy.OpenLong:
		fill, err = m.ledger.OpenLong(next, c.Close, c.ATR)
	case strategy.OpenShort:
		fill, err = m.ledger.OpenShort(next, c.Close, c.ATR)
	case strategy.CloseLong:
		fill, err = m.ledger.CloseLong(next, c.Close)
	case strategy.CloseShort:
		fill, err = m.ledger.CloseShort(next, c.Close)
	default:
		return nil
	}
	if errors.Is(err, ledger.ErrInsufficientCash) || errors.Is(err, ledger.ErrPositionOpen) || errors.Is(err, ledger.ErrNoPosition) {
		out.OpenBlocked = err.Error()
		logs.Warnf("[Session] %s not executed: %v", action, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", action, err)
	}

	out.Fills = append(out.Fills, fill)
	m.setCooldown(next, c.BarCloseMs)

	logs.WithFields(logrus.Fields{
		"symbol": m.symbol, "strategy": m.strategy.Name(), "price": fill.Price, "qty": fill.Quantity, "fee": fill.Fee, "realized": fill.Realized,
	}).Infof("[TRADE] %s @ %.2f", upper(action), c.Close)

	lines := []string{"Close " + notify.Money(c.Close)}
	if allow.EMA > 0 {
		lines = append(lines, "Trend EMA "+notify.Money(allow.EMA))
	}
	cy.messages = append(cy.messages,
		notify.Message{Title: fmt.Sprintf("%s (%s signal)", upper(action), m.strategy.Name()), Lines: lines}.Render(),
		notify.TradeSummary("After "+upper(action), next, price),
	)
	cy.entries = append(cy.entries, m.entry(fill, "signal", next, price, c.BarCloseMs))
	return nil
}

func (m *Machine) setCooldown(st *state.SessionState, barCloseMs int64) {
	until := barCloseMs + int64(m.reentryBars)*m.barDuration.Milliseconds()
	if until > st.CooldownUntilBarMs {
		st.CooldownUntilBarMs = until
	}
}

func (m *Machine) entry(f ledger.Fill, reason string, st *state.SessionState, price float64, barCloseMs int64) journal.Entry {
	return journal.Entry{
		Kind:           f.Kind,
		Side:           string(f.Side),
		Reason:         reason,
		Price:          f.Price,
		Quantity:       f.Quantity,
		Fee:            f.Fee,
		Realized:       f.Realized,
		CashAfter:      st.Account.Cash,
		PortfolioAfter: ledger.PortfolioValue(st.Account, price),
		BarCloseMs:     barCloseMs,
	}
}

// commit persists next and only then releases notifications and journal entries.
func (m *Machine) commit(ctx context.Context, live, next *state.SessionState, price float64, cy *cycle, out Outcome) (*state.SessionState, Outcome, error) {
	if err := next.CheckInvariants(); err != nil {
		return live, out, fmt.Errorf("refusing to save inconsistent state: %w", err)
	}
	if err := m.store.Save(ctx, next); err != nil {
		return live, out, fmt.Errorf("failed to persist session state: %w", err)
	}
	out.Saved = true
	out.PortfolioVal = ledger.PortfolioValue(next.Account, price)

	if m.journal != nil {
		for _, e := range cy.entries {
			if err := m.journal.Record(ctx, e); err != nil {
				logs.Errorf("[Session] Trade journal write failed: %v", err)
			}
		}
	}
	for _, msg := range cy.messages {
		if err := m.notifier.SendText(ctx, msg); err != nil {
			logs.Warnf("[Session] Notification failed: %v", err)
		}
	}
	return next, out, nil
}

func riskTitle(r risk.CloseReason) string {
	switch r {
	case risk.ReasonStopLoss:
		return "STOP LOSS"
	case risk.ReasonTakeProfit:
		return "TAKE PROFIT"
	default:
		return "TRAILING STOP"
	}
}

func upper[T ~string](s T) string {
	return strings.ToUpper(strings.ReplaceAll(string(s), "_", " "))
}
