// orchestrator.go
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"auto_paper_bot/backtest"
	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/journal"
	"auto_paper_bot/ledger"
	"auto_paper_bot/logs"
	"auto_paper_bot/monitor"
	"auto_paper_bot/notify"
	"auto_paper_bot/risk"
	"auto_paper_bot/session"
	"auto_paper_bot/state"
	"auto_paper_bot/strategy"

	"github.com/google/uuid"
)

// Simulated market parameters.
const (
	simInitialPrice = 60000.0
	simAmplitude    = 1500.0
)

type Orchestrator struct {
	cfg      *config.Config
	runID    string
	client   exchange.Client
	store    *state.Store
	journal  *journal.Journal
	notifier notify.Notifier
	strategy strategy.Strategy
	runner   *monitor.Runner
	status   *monitor.StatusServer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newClient(cfg *config.Config, envCfg *config.EnvConfig) exchange.Client {
	if cfg.UseSimulation {
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
		return exchange.NewMockClient(simInitialPrice, simAmplitude)
	}
	return exchange.NewBinanceClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds)
}

// statePath resolves the configured state location; an explicit state_file wins.
func statePath(cfg *config.Config) string {
	if cfg.Normal.StateFile != "" {
		return cfg.Normal.StateFile
	}
	ext := ".json"
	if cfg.Normal.StateBackend == "sqlite" {
		ext = ".db"
	}
	return filepath.Join(cfg.Normal.StateDirectory, strings.ToUpper(cfg.Symbol)+"_state"+ext)
}

func openStore(cfg *config.Config, path string) (*state.Store, error) {
	defaults := state.Defaults{PaperEnabled: cfg.Paper.Enabled, StartCash: cfg.Paper.StartCash}
	var (
		backend state.Backend
		err     error
	)
	switch cfg.Normal.StateBackend {
	case "sqlite":
		backend, err = state.NewSQLiteBackend(path, cfg.Symbol)
	default:
		backend, err = state.NewFileBackend(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s state backend: %w", cfg.Normal.StateBackend, err)
	}
	return state.NewStore(backend, defaults), nil
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	runID := uuid.NewString()
	client := newClient(cfg, envCfg)

	strat, err := strategy.New(cfg)
	if err != nil {
		return nil, err
	}

	path := statePath(cfg)
	store, err := openStore(cfg, path)
	if err != nil {
		return nil, err
	}
	st, err := store.Load(context.Background())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load session state from %s: %w", path, err)
	}
	logs.Infof("[Orchestrator] Session state loaded from %s: position=%s cash=%.2f trades=%d last_bar=%d",
		path, st.Position, st.Account.Cash, st.Account.Trades, st.LastProcessedBarMs)

	var jr *journal.Journal
	var recorder session.TradeRecorder
	if cfg.Normal.JournalPath != "" {
		jr, err = journal.Open(cfg.Normal.JournalPath, runID, cfg.Symbol, strat.Name())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open trade journal: %w", err)
		}
		recorder = jr
		logs.Infof("[Orchestrator] Trade journal: %s", cfg.Normal.JournalPath)
	}

	notifier := notify.New(envCfg.TelegramToken, envCfg.TelegramChatID, time.Duration(cfg.Normal.HTTPTimeoutSeconds)*time.Second)
	if _, ok := notifier.(notify.Nop); ok {
		logs.Warnf("[Orchestrator] TG_BOT_TOKEN/TG_CHAT_ID not set, notifications disabled.")
	}

	machine, err := session.NewMachine(cfg, session.Options{
		Strategy: strat,
		Risk:     risk.NewManager(cfg.Risk),
		Store:    store,
		Notifier: notifier,
		Journal:  recorder,
	})
	if err != nil {
		if jr != nil {
			jr.Close()
		}
		store.Close()
		return nil, fmt.Errorf("failed to build session machine: %w", err)
	}

	var filter *strategy.TrendFilter
	if cfg.Filters.TrendFilter.Enabled {
		filter = strategy.NewTrendFilter(client, cfg.Symbol, cfg.Filters.TrendFilter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		runID:    runID,
		client:   client,
		store:    store,
		journal:  jr,
		notifier: notifier,
		strategy: strat,
		runner:   monitor.NewRunner(cfg, client, machine, filter, notifier, strat.Name(), st),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Normal.StatusAddr != "" {
		o.status = monitor.NewStatusServer(cfg.Normal.StatusAddr, o.runner)
	}
	return o, nil
}

func (o *Orchestrator) Start() {
	if o.status != nil {
		o.status.Start()
	}
	o.notifyStartup()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runner.Start(o.ctx)
	}()
	logs.Infof("Paper bot %s (%s) started, run id %s. Press Ctrl+C to exit.", o.cfg.Symbol, o.strategy.Name(), o.runID)
}

func (o *Orchestrator) notifyStartup() {
	c := o.cfg
	lines := []string{
		fmt.Sprintf("Strategy: %s", o.strategy.Name()),
		fmt.Sprintf("Symbol: %s %s, poll %ds", c.Symbol, c.Normal.KlineInterval, c.Normal.PollSeconds),
		fmt.Sprintf("Paper: %t, start cash %s, order %.0f%%", c.Paper.Enabled, notify.Money(c.Paper.StartCash), c.Paper.OrderPct*100),
	}
	if c.Strategy == "trend" {
		lines = append(lines, fmt.Sprintf("Filters: vol %t (x%.2f), atr %t (>=%.2f%%), trend %t (%s EMA%d)",
			c.Filters.UseVolFilter, c.Filters.VolSpikeMult, c.Filters.UseATRFilter, c.Filters.MinATRPct*100,
			c.Filters.TrendFilter.Enabled, c.Filters.TrendFilter.Interval, c.Filters.TrendFilter.EMAPeriod))
	} else {
		lines = append(lines, fmt.Sprintf("RSI %d buy<=%.0f sell>=%.0f, BB %d x%.1f",
			c.Indicators.RSIPeriod, c.Reversion.RSIBuy, c.Reversion.RSISell, c.Indicators.BBPeriod, c.Indicators.BBMult))
	}
	lines = append(lines,
		fmt.Sprintf("TP/SL: %t (SL %.1f ATR, TP %.1f ATR)", c.Risk.UseTPSL, c.Risk.SLATRMult, c.Risk.TPATRMult),
		fmt.Sprintf("Trailing: %t (%.1f ATR after %.1fR)", c.Risk.UseTrailing, c.Risk.TrailATRMult, c.Risk.TrailActivateR),
		fmt.Sprintf("Kill switch: %t (%.1f%%/day), re-entry %d bars", c.Risk.UseKillSwitch, c.Risk.MaxDailyDDPct, c.Risk.ReentryBars),
	)
	msg := notify.Message{Title: "PAPER BOT STARTED", Lines: lines}.Render()
	if err := o.notifier.SendText(o.ctx, msg); err != nil {
		logs.Warnf("[Orchestrator] Startup notification failed: %v", err)
	}
}

func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")

	o.cancel()
	o.wg.Wait()

	if o.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.status.Shutdown(ctx); err != nil {
			logs.Errorf("Failed to stop status server: %v", err)
		}
		cancel()
	}

	o.printFinalSummary()

	if o.journal != nil {
		if err := o.journal.Close(); err != nil {
			logs.Errorf("Failed to close trade journal: %v", err)
		}
	}
	if err := o.store.Close(); err != nil {
		logs.Errorf("Failed to close state store: %v", err)
	}
	logs.Info("All services stopped successfully.")
}

func (o *Orchestrator) printFinalSummary() {
	st := o.runner.State()
	price := o.runner.Snapshot().Price

	logs.Info("--- Final Paper Summary ---")
	logs.Infof("Position: %s (long %.8f, short %.8f)", st.Position, st.Account.QtyLong, st.Account.QtyShort)
	logs.Infof("Cash: %.2f USDT, realized PnL: %.4f USDT, trades: %d", st.Account.Cash, st.Account.RealizedPnL, st.Account.Trades)
	if price > 0 {
		pv := ledger.PortfolioValue(st.Account, price)
		logs.Infof("Portfolio value at %.2f: %.2f USDT (%+.2f vs start)", price, pv, pv-st.Account.StartCash)
	}
	logs.Info("---------------------------")
}

// RunBacktest replays the last n bars of the configured symbol and interval.
func RunBacktest(ctx context.Context, cfg *config.Config, envCfg *config.EnvConfig, n int) (backtest.Report, error) {
	client := newClient(cfg, envCfg)
	strat, err := strategy.New(cfg)
	if err != nil {
		return backtest.Report{}, err
	}
	bars, err := client.RecentBars(ctx, cfg.Symbol, cfg.Normal.KlineInterval, n)
	if err != nil {
		return backtest.Report{}, fmt.Errorf("failed to fetch %d bars: %w", n, err)
	}
	logs.Infof("[Backtest] Fetched %d %s bars for %s", len(bars), cfg.Normal.KlineInterval, cfg.Symbol)
	return backtest.Run(ctx, cfg, strat, bars)
}
