package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/notify"
	"auto_paper_bot/risk"
	"auto_paper_bot/session"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu       sync.Mutex
	bars     []exchange.Bar
	price    float64
	barsErr  error
	priceErr error
	// intervalErr fails fetches for one interval only.
	intervalErr map[string]error
	calls       int
}

func (f *fakeMarket) RecentBars(_ context.Context, _, interval string, _ int) ([]exchange.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.intervalErr[interval]; ok {
		return nil, err
	}
	return f.bars, f.barsErr
}

func (f *fakeMarket) SpotPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

func flatBars(n int, start int64) []exchange.Bar {
	const step = int64(5 * 60 * 1000)
	bars := make([]exchange.Bar, n)
	for i := range bars {
		open := start + int64(i)*step
		bars[i] = exchange.Bar{OpenTime: open, CloseTime: open + step - 1, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return bars
}

type fixture struct {
	cfg     *config.Config
	machine *session.Machine
	runner  *Runner
	market  *fakeMarket
	backend *state.MemoryBackend
	notes   *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.Strategy = "trend"

	strat, err := strategy.New(cfg)
	require.NoError(t, err)
	backend := state.NewMemoryBackend()
	defaults := state.Defaults{PaperEnabled: true, StartCash: cfg.Paper.StartCash}
	notes := &notify.Recorder{}
	m, err := session.NewMachine(cfg, session.Options{
		Strategy: strat,
		Risk:     risk.NewManager(cfg.Risk),
		Store:    state.NewStore(backend, defaults),
		Notifier: notes,
	})
	require.NoError(t, err)

	market := &fakeMarket{bars: flatBars(40, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC).UnixMilli()), price: 100}
	r := NewRunner(cfg, market, m, nil, notes, strat.Name(), state.New(defaults))
	return &fixture{cfg: cfg, machine: m, runner: r, market: market, backend: backend, notes: notes}
}

func TestRunCycleReplacesStateOnSuccess(t *testing.T) {
	f := newFixture(t)
	out, err := f.runner.RunCycle(context.Background())
	require.NoError(t, err)

	bars := f.market.bars
	assert.True(t, out.NewBar)
	assert.Equal(t, strategy.Hold, out.Signal)
	assert.Equal(t, bars[len(bars)-2].CloseTime, f.runner.State().LastProcessedBarMs)
	assert.Equal(t, 1, f.backend.Writes())

	snap := f.runner.Snapshot()
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, "flat", snap.Position)
	assert.Equal(t, 1000.0, snap.PortfolioValue)
	assert.Equal(t, "hold", snap.LastSignal)
	assert.Empty(t, snap.LastError)
}

func TestTrendFilterFailureStillRunsStopLoss(t *testing.T) {
	f := newFixture(t)
	f.market.intervalErr = map[string]error{f.cfg.Filters.TrendFilter.Interval: errors.New("timeout")}
	f.market.price = 90

	st := state.New(state.Defaults{PaperEnabled: true, StartCash: f.cfg.Paper.StartCash})
	st.Position = state.Long
	st.Account.Cash = 0
	st.Account.QtyLong = 10
	st.Account.AvgLong = 100
	st.Account.EntryPrice = 100
	st.Account.EntryATR = 2
	filter := strategy.NewTrendFilter(f.market, f.cfg.Symbol, f.cfg.Filters.TrendFilter)
	r := NewRunner(f.cfg, f.market, f.machine, filter, f.notes, "trend", st)

	out, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.RiskExit)
	assert.Equal(t, risk.ReasonStopLoss, out.RiskExit.Reason)

	got := r.State()
	assert.Equal(t, state.Flat, got.Position)
	assert.Zero(t, got.Account.QtyLong)
	assert.InDelta(t, 900, got.Account.Cash, 5)
	assert.Equal(t, 1, f.backend.Writes())
	assert.Empty(t, r.Snapshot().LastError)
}

func TestTrendFilterFailureBlocksEntries(t *testing.T) {
	f := newFixture(t)
	f.market.intervalErr = map[string]error{f.cfg.Filters.TrendFilter.Interval: errors.New("timeout")}
	filter := strategy.NewTrendFilter(f.market, f.cfg.Symbol, f.cfg.Filters.TrendFilter)
	r := NewRunner(f.cfg, f.market, f.machine, filter, f.notes, "trend", state.New(state.Defaults{PaperEnabled: true, StartCash: f.cfg.Paper.StartCash}))

	r.runOnce(context.Background())
	assert.Empty(t, f.notes.Messages())
	assert.Empty(t, r.Snapshot().LastError)
	assert.Equal(t, "flat", r.Snapshot().Position)
	assert.Equal(t, 1, f.backend.Writes())
}

func TestStateCopyIsDetached(t *testing.T) {
	f := newFixture(t)
	st := f.runner.State()
	st.Account.Cash = 1
	assert.Equal(t, 1000.0, f.runner.State().Account.Cash)
}

func TestFetchFailureKeepsStateAndAlertsOnce(t *testing.T) {
	f := newFixture(t)
	f.market.priceErr = errors.New("connection reset")

	f.runner.runOnce(context.Background())
	f.runner.runOnce(context.Background())

	assert.Zero(t, f.backend.Writes())
	assert.Zero(t, f.runner.State().LastProcessedBarMs)
	require.Len(t, f.notes.Messages(), 1)
	assert.Contains(t, f.notes.Messages()[0], "connection reset")
	assert.Contains(t, f.runner.Snapshot().LastError, "fetch spot price")

	// Recovery re-arms the alert.
	f.market.priceErr = nil
	f.runner.runOnce(context.Background())
	f.market.priceErr = errors.New("connection reset")
	f.runner.runOnce(context.Background())
	assert.Len(t, f.notes.Messages(), 2)
}

func TestInsufficientHistoryIsNotAlerted(t *testing.T) {
	f := newFixture(t)
	f.market.bars = f.market.bars[:5]

	_, err := f.runner.RunCycle(context.Background())
	assert.ErrorIs(t, err, strategy.ErrInsufficientHistory)

	f.runner.runOnce(context.Background())
	assert.Empty(t, f.notes.Messages())
	assert.Zero(t, f.backend.Writes())
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.market.mu.Lock()
		defer f.market.mu.Unlock()
		return f.market.calls > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestStatusServerRoutes(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.RunCycle(context.Background())
	require.NoError(t, err)
	h := NewStatusServer("127.0.0.1:0", f.runner).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"ok"`))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, "trend", snap.Strategy)
	assert.Equal(t, 1000.0, snap.Cash)
	assert.NotZero(t, snap.LastProcessedBarMs)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
