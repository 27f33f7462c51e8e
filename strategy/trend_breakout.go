package strategy

import (
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/indicator"
	"auto_paper_bot/state"
)

// TrendBreakout opens on a close beyond the previous bar's range on the EMA's side,
// gated by volume and volatility filters.
type TrendBreakout struct {
	emaPeriod    int
	atrPeriod    int
	volSMAPeriod int
	filters      config.FilterConfig
	minBars      int
}

func NewTrendBreakout(cfg *config.Config) *TrendBreakout {
	return &TrendBreakout{
		emaPeriod:    cfg.Indicators.EMAPeriod,
		atrPeriod:    cfg.Indicators.ATRPeriod,
		volSMAPeriod: cfg.Indicators.VolSMAPeriod,
		filters:      cfg.Filters,
		minBars:      cfg.MinBars(),
	}
}

func (s *TrendBreakout) Name() string { return "trend" }

func (s *TrendBreakout) BuildContext(bars []exchange.Bar) (Context, error) {
	if err := requireBars(bars, s.minBars); err != nil {
		return Context{}, err
	}
	closes := exchange.Closes(bars)
	ema := indicator.EMA(closes, s.emaPeriod)
	atr := indicator.ATR(bars, s.atrPeriod)
	volSMA := indicator.RollingMean(exchange.Volumes(bars), s.volSMAPeriod)

	i := len(bars) - 2
	last, prev := bars[i], bars[i-1]
	for name, series := range map[string][]float64{"ema": ema, "atr": atr, "volume sma": volSMA} {
		if !indicator.Ready(series, i) {
			return Context{}, fmt.Errorf("%w: %s undefined at bar %d", ErrInsufficientHistory, name, last.CloseTime)
		}
	}

	c := Context{
		BarCloseMs: last.CloseTime,
		Close:      last.Close,
		ATR:        atr[i],
		PrevHigh:   prev.High,
		PrevLow:    prev.Low,
		EMA:        ema[i],
		Volume:     last.Volume,
		VolumeSMA:  volSMA[i],
		VolumeOK:   true,
		ATROK:      true,
	}
	c.BreakoutUp = c.Close > c.PrevHigh && c.Close > c.EMA
	c.BreakoutDown = c.Close < c.PrevLow && c.Close < c.EMA
	c.ExitLong = c.Close < c.PrevLow || (s.filters.ExitOnEMACross && c.Close < c.EMA)
	c.ExitShort = c.Close > c.PrevHigh || (s.filters.ExitOnEMACross && c.Close > c.EMA)

	if s.filters.UseVolFilter {
		c.VolumeOK = c.Volume >= s.filters.VolSpikeMult*c.VolumeSMA
	}
	if s.filters.UseATRFilter {
		c.ATROK = c.Close > 0 && c.ATR/c.Close >= s.filters.MinATRPct
	}
	return c, nil
}

// Decide exits on the opposite-side break, and from flat checks long before short.
func (s *TrendBreakout) Decide(c Context, pos state.Position, allowLong, allowShort bool) Action {
	switch pos {
	case state.Long:
		if c.ExitLong {
			return CloseLong
		}
	case state.Short:
		if c.ExitShort {
			return CloseShort
		}
	case state.Flat:
		if !c.VolumeOK || !c.ATROK {
			return Hold
		}
		if c.BreakoutUp && allowLong {
			return OpenLong
		}
		if c.BreakoutDown && allowShort {
			return OpenShort
		}
	}
	return Hold
}
