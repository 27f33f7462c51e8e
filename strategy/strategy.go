// strategy/strategy.go
package strategy

import (
	"errors"
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/exchange"
	"auto_paper_bot/state"
)

// ErrInsufficientHistory means the bars cannot support a decision yet; the cycle is skipped.
var ErrInsufficientHistory = errors.New("insufficient history")

// Action is the outcome of a decision.
type Action string

const (
	Hold       Action = "hold"
	OpenLong   Action = "open_long"
	OpenShort  Action = "open_short"
	CloseLong  Action = "close_long"
	CloseShort Action = "close_short"
)

// IsOpen reports whether a opens a position.
func (a Action) IsOpen() bool { return a == OpenLong || a == OpenShort }

// Context is the snapshot of the last closed bar a decision is made on.
// Fields not used by a strategy stay zero.
type Context struct {
	BarCloseMs int64   `json:"bar_close_ms"`
	Close      float64 `json:"close"`
	ATR        float64 `json:"atr"`

	// trend-breakout
	PrevHigh     float64 `json:"prev_high,omitempty"`
	PrevLow      float64 `json:"prev_low,omitempty"`
	EMA          float64 `json:"ema,omitempty"`
	Volume       float64 `json:"volume,omitempty"`
	VolumeSMA    float64 `json:"volume_sma,omitempty"`
	VolumeOK     bool    `json:"volume_ok,omitempty"`
	ATROK        bool    `json:"atr_ok,omitempty"`
	BreakoutUp   bool    `json:"breakout_up,omitempty"`
	BreakoutDown bool    `json:"breakout_down,omitempty"`
	ExitLong     bool    `json:"exit_long,omitempty"`
	ExitShort    bool    `json:"exit_short,omitempty"`

	// range-reversion
	RSI       float64 `json:"rsi,omitempty"`
	BandMid   float64 `json:"band_mid,omitempty"`
	BandUpper float64 `json:"band_upper,omitempty"`
	BandLower float64 `json:"band_lower,omitempty"`
}

// Strategy turns bars into a decision context and a context into an action.
// Both variants decide on the second-to-last bar; the last bar is still forming.
type Strategy interface {
	Name() string
	BuildContext(bars []exchange.Bar) (Context, error)
	Decide(ctx Context, pos state.Position, allowLong, allowShort bool) Action
}

// New selects the configured strategy variant.
func New(cfg *config.Config) (Strategy, error) {
	switch cfg.Strategy {
	case "trend":
		return NewTrendBreakout(cfg), nil
	case "range":
		return NewRangeReversion(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func requireBars(bars []exchange.Bar, minBars int) error {
	if len(bars) < minBars {
		return fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(bars), minBars)
	}
	return nil
}
