package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/journal"
	"auto_paper_bot/notify"
	"auto_paper_bot/risk"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveMin = int64(5 * 60 * 1000)

// scriptStrategy returns a fixed context and emits its scripted action whenever it is
// consistent with the current position and gates.
type scriptStrategy struct {
	ctx    strategy.Context
	action strategy.Action
	err    error
}

func (s *scriptStrategy) Name() string { return "script" }

func (s *scriptStrategy) BuildContext([]exchange.Bar) (strategy.Context, error) {
	return s.ctx, s.err
}

func (s *scriptStrategy) Decide(_ strategy.Context, pos state.Position, allowLong, allowShort bool) strategy.Action {
	switch {
	case s.action == strategy.OpenLong && pos == state.Flat && allowLong,
		s.action == strategy.OpenShort && pos == state.Flat && allowShort,
		s.action == strategy.CloseLong && pos == state.Long,
		s.action == strategy.CloseShort && pos == state.Short:
		return s.action
	}
	return strategy.Hold
}

type recordingJournal struct{ entries []journal.Entry }

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

type harness struct {
	m       *Machine
	strat   *scriptStrategy
	backend *state.MemoryBackend
	notes   *notify.Recorder
	journal *recordingJournal
	st      *state.SessionState
	now     time.Time
	base    int64
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paper.FeeRate = 0
	cfg.Paper.SlippageRate = 0
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		strat:   &scriptStrategy{},
		backend: state.NewMemoryBackend(),
		notes:   &notify.Recorder{},
		journal: &recordingJournal{},
		now:     time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC),
	}
	h.base = h.now.UnixMilli() - 1
	defaults := state.Defaults{PaperEnabled: cfg.Paper.Enabled, StartCash: cfg.Paper.StartCash}
	store := state.NewStore(h.backend, defaults)

	m, err := NewMachine(cfg, Options{
		Strategy: h.strat,
		Risk:     risk.NewManager(cfg.Risk),
		Store:    store,
		Notifier: h.notes,
		Journal:  h.journal,
	})
	require.NoError(t, err)
	m.SetClock(func() time.Time { return h.now })
	h.m = m
	h.st = state.New(defaults)
	return h
}

func (h *harness) bar(i int) int64 { return h.base + int64(i)*fiveMin }

// step runs a cycle on bar i with the given close, ATR, live price and scripted action.
func (h *harness) step(t *testing.T, i int, close, atr, live float64, action strategy.Action) Outcome {
	t.Helper()
	h.strat.ctx = strategy.Context{BarCloseMs: h.bar(i), Close: close, ATR: atr}
	h.strat.action = action
	next, out, err := h.m.Step(context.Background(), h.st, Input{LivePrice: live, Allow: strategy.AllowAll})
	require.NoError(t, err)
	h.st = next
	return out
}

func (h *harness) messagesContaining(sub string) int {
	n := 0
	for _, m := range h.notes.Messages() {
		if strings.Contains(m, sub) {
			n++
		}
	}
	return n
}

func TestOpenLongOnNewBar(t *testing.T) {
	h := newHarness(t, nil)
	out := h.step(t, 1, 100, 2, 100, strategy.OpenLong)

	require.Len(t, out.Fills, 1)
	assert.Equal(t, strategy.OpenLong, out.Signal)
	assert.Equal(t, state.Long, h.st.Position)
	assert.InDelta(t, 10.0, h.st.Account.QtyLong, 1e-12)
	assert.Equal(t, 2.0, h.st.Account.EntryATR)
	assert.Equal(t, h.bar(1), h.st.LastProcessedBarMs)
	assert.Equal(t, h.bar(1)+3*fiveMin, h.st.CooldownUntilBarMs)
	assert.Equal(t, 1000.0, h.st.DayStartValue)
	assert.Equal(t, "2026-05-04", h.st.DayKey)
	assert.Equal(t, 1, h.backend.Writes())
	assert.Equal(t, 1, h.messagesContaining("OPEN LONG (script signal)"))
	assert.Equal(t, 1, h.messagesContaining("After OPEN LONG"))
	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, "signal", h.journal.entries[0].Reason)
}

func TestDuplicateBarIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenLong)
	before := *h.st

	out := h.step(t, 1, 100, 2, 100, strategy.CloseLong)
	assert.False(t, out.NewBar)
	assert.Empty(t, out.Fills)
	assert.Equal(t, strategy.Hold, out.Signal)
	assert.Equal(t, before, *h.st)
	assert.Equal(t, 1, h.backend.Writes(), "unchanged state is not rewritten")

	out = h.step(t, 0, 100, 2, 100, strategy.CloseLong)
	assert.False(t, out.NewBar, "older bars are treated as duplicates")
	assert.Equal(t, h.bar(1), h.st.LastProcessedBarMs)
}

func TestCooldownBlocksStrategyActions(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenLong)

	for i := 2; i <= 3; i++ {
		out := h.step(t, i, 101, 2, 101, strategy.CloseLong)
		assert.True(t, out.InCooldown, "bar %d", i)
		assert.Empty(t, out.Fills)
		assert.Equal(t, state.Long, h.st.Position)
		assert.Equal(t, h.bar(i), h.st.LastProcessedBarMs)
	}

	out := h.step(t, 4, 101, 2, 101, strategy.CloseLong)
	assert.False(t, out.InCooldown)
	require.Len(t, out.Fills, 1)
	assert.Equal(t, state.Flat, h.st.Position)
	assert.InDelta(t, 1010.0, h.st.Account.Cash, 1e-9)
	assert.Equal(t, h.bar(4)+3*fiveMin, h.st.CooldownUntilBarMs)
}

func TestRiskExitBypassesCooldown(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenLong)

	out := h.step(t, 2, 99, 2, 97, strategy.Hold)
	require.NotNil(t, out.RiskExit)
	assert.Equal(t, risk.ReasonStopLoss, out.RiskExit.Reason)
	assert.Equal(t, state.Flat, h.st.Position)
	assert.InDelta(t, 970.0, h.st.Account.Cash, 1e-9)
	assert.Equal(t, h.bar(2), h.st.LastProcessedBarMs)
	assert.Equal(t, h.bar(2)+3*fiveMin, h.st.CooldownUntilBarMs)
	assert.Equal(t, 1, h.messagesContaining("STOP LOSS (LONG)"))
	require.Len(t, h.journal.entries, 2)
	assert.Equal(t, "stop_loss", h.journal.entries[1].Reason)
}

func TestRiskExitRunsOnDuplicateBar(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenLong)

	out := h.step(t, 1, 100, 2, 104.5, strategy.Hold)
	assert.False(t, out.NewBar)
	require.NotNil(t, out.RiskExit)
	assert.Equal(t, risk.ReasonTakeProfit, out.RiskExit.Reason)
	assert.Equal(t, h.bar(1), h.st.LastProcessedBarMs)
	assert.Equal(t, 2, h.backend.Writes())
}

func TestTrailActivationIsPersistedAndNotified(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenLong)

	h.step(t, 1, 100, 2, 102.5, strategy.Hold)
	assert.True(t, h.st.Account.TrailActive)
	assert.InDelta(t, 99.9, h.st.Account.TrailStop, 1e-9)
	assert.Equal(t, 2, h.backend.Writes())
	assert.Equal(t, 1, h.messagesContaining("TRAIL ON (LONG)"))

	prev := h.st.Account.TrailStop
	for i, p := range []float64{103, 102, 103.5, 102.8} {
		h.step(t, 1, 100, 2, p, strategy.Hold)
		assert.GreaterOrEqual(t, h.st.Account.TrailStop, prev, "step %d", i)
		prev = h.st.Account.TrailStop
	}
}

func TestKillSwitchHaltsOpensUntilNextDay(t *testing.T) {
	h := newHarness(t, nil)
	// A wide ATR keeps the fixed stop out of the way.
	h.step(t, 1, 100, 10, 100, strategy.OpenLong)

	out := h.step(t, 1, 100, 10, 96.5, strategy.Hold)
	assert.True(t, out.HaltedNow)
	assert.True(t, h.st.HaltedToday)
	assert.Equal(t, 1, h.messagesContaining("KILL SWITCH ON"))

	out = h.step(t, 1, 100, 10, 99, strategy.Hold)
	assert.False(t, out.HaltedNow, "halt is reported once")
	assert.True(t, h.st.HaltedToday, "recovering value does not un-halt")

	out = h.step(t, 4, 96.5, 10, 96.5, strategy.CloseLong)
	require.Len(t, out.Fills, 1, "closes are still allowed while halted")

	out = h.step(t, 7, 97, 10, 97, strategy.OpenLong)
	assert.Equal(t, strategy.OpenLong, out.Signal)
	assert.Empty(t, out.Fills)
	assert.Equal(t, "kill switch", out.OpenBlocked)
	assert.Equal(t, state.Flat, h.st.Position)

	h.now = h.now.Add(24 * time.Hour)
	out = h.step(t, 7+288, 97, 10, 97, strategy.OpenLong)
	assert.True(t, out.DayRolled)
	assert.False(t, h.st.HaltedToday)
	assert.InDelta(t, 965.0, h.st.DayStartValue, 1e-9)
	require.Len(t, out.Fills, 1)
	assert.Equal(t, state.Long, h.st.Position)
}

func TestKillSwitchScenario(t *testing.T) {
	ks := NewKillSwitch(true, 3, 7)
	st := state.New(state.Defaults{StartCash: 1000})
	st.DayStartValue = 1000

	tripped, dd := ks.Check(st, 975)
	assert.False(t, tripped)
	assert.InDelta(t, 2.5, dd, 1e-9)

	tripped, dd = ks.Check(st, 965)
	assert.True(t, tripped)
	assert.InDelta(t, 3.5, dd, 1e-9)
	assert.True(t, st.HaltedToday)

	disabled := NewKillSwitch(false, 3, 7)
	st2 := state.New(state.Defaults{StartCash: 1000})
	st2.DayStartValue = 1000
	tripped, _ = disabled.Check(st2, 1)
	assert.False(t, tripped)
}

func TestDayKeyUsesFixedOffset(t *testing.T) {
	ks := NewKillSwitch(true, 3, 7)
	assert.Equal(t, "2026-05-04", ks.DayKey(time.Date(2026, 5, 3, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-05-03", ks.DayKey(time.Date(2026, 5, 3, 16, 59, 0, 0, time.UTC)))

	st := state.New(state.Defaults{StartCash: 1000})
	st.DayKey = "2026-05-04"
	st.HaltedToday = true
	assert.False(t, ks.Rollover(st, time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC), 900))
	assert.Equal(t, 900.0, st.DayStartValue, "missing start value is filled")
	assert.True(t, st.HaltedToday)
}

func TestFailedSaveLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FailWrites = true
	live := h.st

	h.strat.ctx = strategy.Context{BarCloseMs: h.bar(1), Close: 100, ATR: 2}
	h.strat.action = strategy.OpenLong
	next, out, err := h.m.Step(context.Background(), live, Input{LivePrice: 100, Allow: strategy.AllowAll})
	require.Error(t, err)
	assert.Same(t, live, next)
	assert.False(t, out.Saved)
	assert.Equal(t, state.Flat, live.Position)
	assert.Equal(t, 1000.0, live.Account.Cash)
	assert.Zero(t, live.LastProcessedBarMs)
	assert.Empty(t, h.notes.Messages())
	assert.Empty(t, h.journal.entries)
}

func TestInsufficientHistorySkipsCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.strat.err = fmt.Errorf("%w: have 3 bars", strategy.ErrInsufficientHistory)

	next, _, err := h.m.Step(context.Background(), h.st, Input{LivePrice: 100, Allow: strategy.AllowAll})
	assert.ErrorIs(t, err, strategy.ErrInsufficientHistory)
	assert.Same(t, h.st, next)
	assert.Zero(t, h.backend.Writes())
}

func TestInvalidLivePrice(t *testing.T) {
	h := newHarness(t, nil)
	h.strat.ctx = strategy.Context{BarCloseMs: h.bar(1), Close: 100}
	_, _, err := h.m.Step(context.Background(), h.st, Input{LivePrice: 0})
	assert.Error(t, err)
}

func TestDirectionalGateIsHonored(t *testing.T) {
	h := newHarness(t, nil)
	h.strat.ctx = strategy.Context{BarCloseMs: h.bar(1), Close: 100, ATR: 2}
	h.strat.action = strategy.OpenLong
	next, out, err := h.m.Step(context.Background(), h.st, Input{LivePrice: 100, Allow: strategy.Allowance{Short: true}})
	require.NoError(t, err)
	assert.Equal(t, strategy.Hold, out.Signal)
	assert.Equal(t, state.Flat, next.Position)
}

func TestPaperDisabledOnlyNotifies(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Paper.Enabled = false })
	out := h.step(t, 1, 100, 2, 100, strategy.OpenShort)
	assert.Equal(t, strategy.OpenShort, out.Signal)
	assert.Empty(t, out.Fills)
	assert.Equal(t, state.Flat, h.st.Position)
	assert.Zero(t, h.st.CooldownUntilBarMs)
	assert.Equal(t, 1, h.messagesContaining("SIGNAL OPEN SHORT (paper off)"))
}

func TestShortRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, 1, 100, 2, 100, strategy.OpenShort)
	assert.Equal(t, state.Short, h.st.Position)

	out := h.step(t, 4, 99, 2, 99, strategy.CloseShort)
	require.Len(t, out.Fills, 1)
	assert.InDelta(t, 10.0, out.Fills[0].Realized, 1e-9)
	assert.Equal(t, state.Flat, h.st.Position)
	assert.InDelta(t, 1010.0, out.PortfolioVal, 1e-9)
}
