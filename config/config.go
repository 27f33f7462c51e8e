// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"

	"auto_paper_bot/utils"

	"gopkg.in/yaml.v2"
)

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	KlineInterval            string  `yaml:"kline_interval"`
	KlinesLimit              int     `yaml:"klines_limit"`
	PollSeconds              int     `yaml:"poll_seconds"`
	HTTPTimeoutSeconds       int     `yaml:"http_timeout_seconds"`
	HeartbeatIntervalMinutes int     `yaml:"heartbeat_interval_minutes"`
	DayUTCOffsetHours        float64 `yaml:"day_utc_offset_hours"`
	LogDirectory             string  `yaml:"log_directory"`
	StateDirectory           string  `yaml:"state_directory"`
	StateFile                string  `yaml:"state_file"`
	StateBackend             string  `yaml:"state_backend"`
	JournalPath              string  `yaml:"journal_path"`
	StatusAddr               string  `yaml:"status_addr"`
}

// PaperConfig describes the virtual ledger.
type PaperConfig struct {
	Enabled      bool    `yaml:"enabled"`
	StartCash    float64 `yaml:"start_cash"`
	OrderPct     float64 `yaml:"order_pct"`
	FeeRate      float64 `yaml:"fee_rate"`
	SlippageRate float64 `yaml:"slippage_rate"`
}

// IndicatorConfig holds lookback periods and multipliers shared by the strategies.
type IndicatorConfig struct {
	EMAPeriod    int     `yaml:"ema_period"`
	ATRPeriod    int     `yaml:"atr_period"`
	VolSMAPeriod int     `yaml:"vol_sma_period"`
	RSIPeriod    int     `yaml:"rsi_period"`
	BBPeriod     int     `yaml:"bb_period"`
	BBMult       float64 `yaml:"bb_mult"`
}

// TrendFilterConfig configures the higher-timeframe EMA direction gate.
type TrendFilterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	EMAPeriod   int    `yaml:"ema_period"`
	KlinesLimit int    `yaml:"klines_limit"`
}

// FilterConfig holds the entry filters of the trend-breakout strategy.
type FilterConfig struct {
	UseVolFilter   bool              `yaml:"use_vol_filter"`
	VolSpikeMult   float64           `yaml:"vol_spike_mult"`
	UseATRFilter   bool              `yaml:"use_atr_filter"`
	MinATRPct      float64           `yaml:"min_atr_pct"`
	ExitOnEMACross bool              `yaml:"exit_on_ema_cross"`
	TrendFilter    TrendFilterConfig `yaml:"trend_filter"`
}

// ReversionConfig holds the RSI thresholds of the range-reversion strategy.
type ReversionConfig struct {
	RSIBuy  float64 `yaml:"rsi_buy"`
	RSISell float64 `yaml:"rsi_sell"`
}

// RiskConfig holds TP/SL, trailing stop, kill-switch and re-entry parameters.
type RiskConfig struct {
	UseTPSL        bool    `yaml:"use_tp_sl"`
	SLATRMult      float64 `yaml:"sl_atr_mult"`
	TPATRMult      float64 `yaml:"tp_atr_mult"`
	UseTrailing    bool    `yaml:"use_trailing"`
	TrailATRMult   float64 `yaml:"trail_atr_mult"`
	TrailActivateR float64 `yaml:"trail_activate_r"`
	UseKillSwitch  bool    `yaml:"use_kill_switch"`
	MaxDailyDDPct  float64 `yaml:"max_daily_dd_pct"`
	ReentryBars    int     `yaml:"reentry_bars"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string          `yaml:"symbol"`
	Strategy      string          `yaml:"strategy"`
	UseSimulation bool            `yaml:"use_simulation"`
	Normal        NormalConfig    `yaml:"normal_config"`
	Logs          LogConfig       `yaml:"logs"`
	Paper         PaperConfig     `yaml:"paper"`
	Indicators    IndicatorConfig `yaml:"indicators"`
	Filters       FilterConfig    `yaml:"filters"`
	Reversion     ReversionConfig `yaml:"reversion"`
	Risk          RiskConfig      `yaml:"risk"`
}

// NewConfig returns a Config populated with the defaults the bot ships with.
func NewConfig() *Config {
	return &Config{
		Symbol:   "BTCUSDT",
		Strategy: "trend",
		Normal: NormalConfig{
			KlineInterval:            "5m",
			KlinesLimit:              800,
			PollSeconds:              5,
			HTTPTimeoutSeconds:       10,
			HeartbeatIntervalMinutes: 30,
			DayUTCOffsetHours:        7,
			LogDirectory:             "logs",
			StateDirectory:           "state",
			StateBackend:             "file",
		},
		Logs: LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Paper: PaperConfig{
			Enabled:      true,
			StartCash:    1000,
			OrderPct:     1.0,
			FeeRate:      0.001,
			SlippageRate: 0.0005,
		},
		Indicators: IndicatorConfig{
			EMAPeriod:    20,
			ATRPeriod:    14,
			VolSMAPeriod: 20,
			RSIPeriod:    14,
			BBPeriod:     20,
			BBMult:       2.0,
		},
		Filters: FilterConfig{
			UseVolFilter:   true,
			VolSpikeMult:   1.5,
			UseATRFilter:   true,
			MinATRPct:      0.003,
			ExitOnEMACross: true,
			TrendFilter: TrendFilterConfig{
				Enabled:     true,
				Interval:    "1h",
				EMAPeriod:   200,
				KlinesLimit: 400,
			},
		},
		Reversion: ReversionConfig{
			RSIBuy:  30,
			RSISell: 70,
		},
		Risk: RiskConfig{
			UseTPSL:        true,
			SLATRMult:      1.2,
			TPATRMult:      2.0,
			UseTrailing:    true,
			TrailATRMult:   1.3,
			TrailActivateR: 1.0,
			UseKillSwitch:  true,
			MaxDailyDDPct:  3.0,
			ReentryBars:    3,
		},
	}
}

// LoadConfig loads configuration from a given path, applies environment overrides, and validates it.
// An empty path skips the file and uses defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.Normal.StateBackend = strings.ToLower(strings.TrimSpace(cfg.Normal.StateBackend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("'symbol' must be specified")
	}
	if c.Strategy != "trend" && c.Strategy != "range" {
		return fmt.Errorf("'strategy' must be 'trend' or 'range', got %q", c.Strategy)
	}

	n := c.Normal
	if _, ok := utils.ParseInterval(n.KlineInterval); !ok {
		return fmt.Errorf("'normal_config.kline_interval' %q is not a valid interval", n.KlineInterval)
	}
	if n.PollSeconds <= 0 {
		return fmt.Errorf("'normal_config.poll_seconds' must be positive")
	}
	if n.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("'normal_config.http_timeout_seconds' must be positive")
	}
	if n.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("'normal_config.heartbeat_interval_minutes' must be positive")
	}
	if n.DayUTCOffsetHours < -12 || n.DayUTCOffsetHours > 14 {
		return fmt.Errorf("'normal_config.day_utc_offset_hours' must be within [-12, 14]")
	}
	if n.LogDirectory == "" {
		return fmt.Errorf("'normal_config.log_directory' must be specified (e.g., 'logs')")
	}
	if n.StateDirectory == "" && n.StateFile == "" {
		return fmt.Errorf("either 'normal_config.state_directory' or 'normal_config.state_file' must be specified")
	}
	if n.StateBackend != "file" && n.StateBackend != "sqlite" {
		return fmt.Errorf("'normal_config.state_backend' must be 'file' or 'sqlite'")
	}

	if c.Logs.LogLevel == "" {
		return fmt.Errorf("'logs.log_level' must be specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("'logs.max_size_mb', 'logs.max_backups' and 'logs.max_age_days' must be positive")
	}

	p := c.Paper
	if p.Enabled && p.StartCash <= 0 {
		return fmt.Errorf("'paper.start_cash' must be > 0 when paper trading is enabled")
	}
	if p.OrderPct < 0 || p.OrderPct > 1 {
		return fmt.Errorf("'paper.order_pct' must be between 0.0 and 1.0")
	}
	if p.FeeRate < 0 || p.FeeRate >= 1 {
		return fmt.Errorf("'paper.fee_rate' must be within [0, 1)")
	}
	if p.SlippageRate < 0 || p.SlippageRate >= 1 {
		return fmt.Errorf("'paper.slippage_rate' must be within [0, 1)")
	}

	ind := c.Indicators
	if ind.EMAPeriod <= 0 || ind.ATRPeriod <= 0 || ind.VolSMAPeriod <= 0 || ind.RSIPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}
	if ind.BBPeriod < 2 {
		return fmt.Errorf("'indicators.bb_period' must be at least 2")
	}
	if ind.BBMult <= 0 {
		return fmt.Errorf("'indicators.bb_mult' must be positive")
	}
	if n.KlinesLimit < c.MinBars() {
		return fmt.Errorf("'normal_config.klines_limit' (%d) must be at least %d for the configured lookbacks", n.KlinesLimit, c.MinBars())
	}

	f := c.Filters
	if f.UseVolFilter && f.VolSpikeMult <= 0 {
		return fmt.Errorf("'filters.vol_spike_mult' must be positive when the volume filter is enabled")
	}
	if f.UseATRFilter && f.MinATRPct < 0 {
		return fmt.Errorf("'filters.min_atr_pct' cannot be negative")
	}
	if f.TrendFilter.Enabled {
		if _, ok := utils.ParseInterval(f.TrendFilter.Interval); !ok {
			return fmt.Errorf("'filters.trend_filter.interval' %q is not a valid interval", f.TrendFilter.Interval)
		}
		if f.TrendFilter.EMAPeriod <= 0 || f.TrendFilter.KlinesLimit <= 0 {
			return fmt.Errorf("'filters.trend_filter.ema_period' and 'klines_limit' must be positive")
		}
	}

	if c.Reversion.RSIBuy <= 0 || c.Reversion.RSISell >= 100 || c.Reversion.RSIBuy >= c.Reversion.RSISell {
		return fmt.Errorf("'reversion' thresholds must satisfy 0 < rsi_buy < rsi_sell < 100")
	}

	r := c.Risk
	if r.UseTPSL && (r.SLATRMult <= 0 || r.TPATRMult <= 0) {
		return fmt.Errorf("'risk.sl_atr_mult' and 'risk.tp_atr_mult' must be positive when TP/SL is enabled")
	}
	if r.UseTrailing && (r.TrailATRMult <= 0 || r.TrailActivateR < 0) {
		return fmt.Errorf("'risk.trail_atr_mult' must be positive and 'risk.trail_activate_r' non-negative when trailing is enabled")
	}
	if r.UseKillSwitch && r.MaxDailyDDPct <= 0 {
		return fmt.Errorf("'risk.max_daily_dd_pct' must be > 0 when the kill switch is enabled")
	}
	if r.ReentryBars < 0 {
		return fmt.Errorf("'risk.reentry_bars' cannot be negative")
	}
	return nil
}

// MinBars is the number of bars a decision needs: the longest lookback plus a margin
// for the previous bar and the still-forming bar.
func (c *Config) MinBars() int {
	longest := 0
	for _, p := range []int{c.Indicators.EMAPeriod, c.Indicators.ATRPeriod, c.Indicators.VolSMAPeriod} {
		if p > longest {
			longest = p
		}
	}
	if c.Strategy == "range" {
		for _, p := range []int{c.Indicators.RSIPeriod + 1, c.Indicators.BBPeriod, c.Indicators.ATRPeriod} {
			if p > longest {
				longest = p
			}
		}
	}
	return longest + HistoryMargin
}

// HistoryMargin is added to the longest lookback before a strategy will decide.
const HistoryMargin = 10

// EnvConfig carries secrets that never live in the YAML file.
type EnvConfig struct {
	TelegramToken  string
	TelegramChatID string
	ApiKey         string
	ApiSecret      string
	BaseURL        string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		TelegramToken:  cleanSecret(os.Getenv("TG_BOT_TOKEN")),
		TelegramChatID: cleanSecret(os.Getenv("TG_CHAT_ID")),
		ApiKey:         os.Getenv("BINANCE_API_KEY"),
		ApiSecret:      os.Getenv("BINANCE_SECRET_KEY"),
		BaseURL:        os.Getenv("BINANCE_BASE_URL"),
	}
}

func cleanSecret(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"'`)
}
