package config

import (
	"fmt"
	"strconv"
	"strings"
)

// lookupFunc matches os.LookupEnv so tests can inject a fake environment.
type lookupFunc func(string) (string, bool)

// applyEnv overlays the environment variables the bot has always honored.
// Unset or empty variables leave the file/default value untouched.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SYMBOL", &cfg.Symbol)
	e.str("STRATEGY", &cfg.Strategy)
	e.boolean("USE_SIMULATION", &cfg.UseSimulation)

	e.str("KLINE_INTERVAL", &cfg.Normal.KlineInterval)
	e.integer("KLINES_LIMIT", &cfg.Normal.KlinesLimit)
	e.integer("POLL_SEC", &cfg.Normal.PollSeconds)
	e.str("STATE_FILE", &cfg.Normal.StateFile)
	e.str("STATE_BACKEND", &cfg.Normal.StateBackend)
	e.str("JOURNAL_PATH", &cfg.Normal.JournalPath)
	e.str("STATUS_ADDR", &cfg.Normal.StatusAddr)
	e.float("DAY_UTC_OFFSET_HOURS", &cfg.Normal.DayUTCOffsetHours)

	e.str("LOG_LEVEL", &cfg.Logs.LogLevel)
	e.integer("LOG_MAX_MB", &cfg.Logs.MaxSizeMB)
	e.integer("LOG_BACKUP_COUNT", &cfg.Logs.MaxBackups)

	e.boolean("PAPER_TRADING", &cfg.Paper.Enabled)
	e.float("START_CASH_USDT", &cfg.Paper.StartCash)
	e.float("ORDER_PCT", &cfg.Paper.OrderPct)
	e.float("FEE_RATE", &cfg.Paper.FeeRate)
	e.float("SLIPPAGE_RATE", &cfg.Paper.SlippageRate)

	e.integer("EMA_5M_PERIOD", &cfg.Indicators.EMAPeriod)
	e.integer("ATR_PERIOD", &cfg.Indicators.ATRPeriod)
	e.integer("VOL_SMA_PERIOD", &cfg.Indicators.VolSMAPeriod)
	e.integer("RSI_PERIOD", &cfg.Indicators.RSIPeriod)
	e.integer("BB_PERIOD", &cfg.Indicators.BBPeriod)
	e.float("BB_MULT", &cfg.Indicators.BBMult)

	e.boolean("USE_VOL_FILTER", &cfg.Filters.UseVolFilter)
	e.float("VOL_SPIKE_MULT", &cfg.Filters.VolSpikeMult)
	e.boolean("USE_ATR_FILTER", &cfg.Filters.UseATRFilter)
	e.float("MIN_ATR_PCT", &cfg.Filters.MinATRPct)
	e.boolean("EXIT_ON_EMA_CROSS", &cfg.Filters.ExitOnEMACross)
	e.boolean("EMA_FILTER_1H", &cfg.Filters.TrendFilter.Enabled)
	e.integer("EMA_1H_PERIOD", &cfg.Filters.TrendFilter.EMAPeriod)
	e.integer("EMA_1H_KLINES_LIMIT", &cfg.Filters.TrendFilter.KlinesLimit)

	e.float("RSI_BUY", &cfg.Reversion.RSIBuy)
	e.float("RSI_SELL", &cfg.Reversion.RSISell)

	e.boolean("USE_TP_SL", &cfg.Risk.UseTPSL)
	e.float("SL_ATR_MULT", &cfg.Risk.SLATRMult)
	e.float("TP_ATR_MULT", &cfg.Risk.TPATRMult)
	e.boolean("USE_TRAILING", &cfg.Risk.UseTrailing)
	e.float("TRAIL_ATR_MULT", &cfg.Risk.TrailATRMult)
	e.float("TRAIL_ACTIVATE_R", &cfg.Risk.TrailActivateR)
	e.boolean("USE_KILL_SWITCH", &cfg.Risk.UseKillSwitch)
	e.float("MAX_DAILY_DD_PCT", &cfg.Risk.MaxDailyDDPct)
	e.integer("REENTRY_BARS", &cfg.Risk.ReentryBars)

	return e.err
}

// envReader keeps the first parse error and ignores later variables once one fails.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) value(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.value(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.value(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("invalid int env %s=%s", name, v)
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.value(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = fmt.Errorf("invalid float env %s=%s", name, v)
		return
	}
	*dst = f
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.value(name); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			*dst = true
		default:
			*dst = false
		}
	}
}
