package strategy

import (
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/indicator"
	"auto_paper_bot/state"
)

// RangeReversion fades closes outside the Bollinger bands when RSI confirms the extreme,
// and exits back at the middle band.
type RangeReversion struct {
	rsiPeriod int
	bbPeriod  int
	bbMult    float64
	atrPeriod int
	rsiBuy    float64
	rsiSell   float64
	minBars   int
}

func NewRangeReversion(cfg *config.Config) *RangeReversion {
	return &RangeReversion{
		rsiPeriod: cfg.Indicators.RSIPeriod,
		bbPeriod:  cfg.Indicators.BBPeriod,
		bbMult:    cfg.Indicators.BBMult,
		atrPeriod: cfg.Indicators.ATRPeriod,
		rsiBuy:    cfg.Reversion.RSIBuy,
		rsiSell:   cfg.Reversion.RSISell,
		minBars:   cfg.MinBars(),
	}
}

func (s *RangeReversion) Name() string { return "range" }

func (s *RangeReversion) BuildContext(bars []exchange.Bar) (Context, error) {
	if err := requireBars(bars, s.minBars); err != nil {
		return Context{}, err
	}
	closes := exchange.Closes(bars)
	rsi := indicator.RSI(closes, s.rsiPeriod)
	bands := indicator.Bollinger(closes, s.bbPeriod, s.bbMult)
	atr := indicator.ATR(bars, s.atrPeriod)

	i := len(bars) - 2
	last := bars[i]
	for name, series := range map[string][]float64{
		"rsi": rsi, "band mid": bands.Mid, "band upper": bands.Upper, "band lower": bands.Lower, "atr": atr,
	} {
		if !indicator.Ready(series, i) {
			return Context{}, fmt.Errorf("%w: %s undefined at bar %d", ErrInsufficientHistory, name, last.CloseTime)
		}
	}

	return Context{
		BarCloseMs: last.CloseTime,
		Close:      last.Close,
		ATR:        atr[i],
		RSI:        rsi[i],
		BandMid:    bands.Mid[i],
		BandUpper:  bands.Upper[i],
		BandLower:  bands.Lower[i],
	}, nil
}

// Decide closes at the middle band, and from flat checks long before short.
func (s *RangeReversion) Decide(c Context, pos state.Position, allowLong, allowShort bool) Action {
	switch pos {
	case state.Long:
		if c.Close >= c.BandMid {
			return CloseLong
		}
	case state.Short:
		if c.Close <= c.BandMid {
			return CloseShort
		}
	case state.Flat:
		if allowLong && c.Close <= c.BandLower && c.RSI <= s.rsiBuy {
			return OpenLong
		}
		if allowShort && c.Close >= c.BandUpper && c.RSI >= s.rsiSell {
			return OpenShort
		}
	}
	return Hold
}
