// state/state.go
package state

import (
	"fmt"

	"auto_paper_bot/utils"
)

// Position is the phase of the single modeled position.
type Position string

const (
	Flat  Position = "flat"
	Long  Position = "long"
	Short Position = "short"
)

func (p Position) Valid() bool {
	return p == Flat || p == Long || p == Short
}

// PaperAccount is the virtual ledger. EntryPrice, EntryATR and the trailing fields describe
// the open position only and are stale while flat.
type PaperAccount struct {
	Enabled     bool    `json:"enabled"`
	StartCash   float64 `json:"start_cash"`
	Cash        float64 `json:"cash"`
	QtyLong     float64 `json:"qty_long"`
	AvgLong     float64 `json:"avg_long"`
	QtyShort    float64 `json:"qty_short"`
	AvgShort    float64 `json:"avg_short"`
	RealizedPnL float64 `json:"realized_pnl"`
	Trades      int     `json:"trades"`
	EntryPrice  float64 `json:"entry_price"`
	EntryATR    float64 `json:"entry_atr"`
	TrailActive bool    `json:"trail_active"`
	TrailStop   float64 `json:"trail_stop"`
}

// HasLong reports whether the long side holds more than dust.
func (a *PaperAccount) HasLong() bool { return a.QtyLong > utils.LongQtyTolerance }

// HasShort reports whether the short side holds more than dust.
func (a *PaperAccount) HasShort() bool { return a.QtyShort > utils.ShortQtyTolerance }

// ResetTrailing disarms the trailing stop.
func (a *PaperAccount) ResetTrailing() {
	a.TrailActive = false
	a.TrailStop = 0
}

// SessionState is the aggregate persisted after every cycle.
type SessionState struct {
	Position           Position     `json:"position"`
	LastProcessedBarMs int64        `json:"last_processed_bar_ms"`
	CooldownUntilBarMs int64        `json:"cooldown_until_bar_ms"`
	DayKey             string       `json:"day_key"`
	DayStartValue      float64      `json:"day_start_value"`
	HaltedToday        bool         `json:"halted_today"`
	Account            PaperAccount `json:"paper"`
}

// Defaults seeds a fresh session and backfills fields missing from older documents.
type Defaults struct {
	PaperEnabled bool
	StartCash    float64
}

// New creates a flat session with the configured starting cash.
func New(d Defaults) *SessionState {
	return &SessionState{
		Position: Flat,
		Account: PaperAccount{
			Enabled:   d.PaperEnabled,
			StartCash: d.StartCash,
			Cash:      d.StartCash,
		},
	}
}

// Clone returns an independent copy. SessionState holds only values.
func (s *SessionState) Clone() *SessionState {
	c := *s
	return &c
}

// CheckInvariants verifies position/quantity consistency.
func (s *SessionState) CheckInvariants() error {
	a := &s.Account
	if a.HasLong() && a.HasShort() {
		return fmt.Errorf("both sides open: qty_long=%.12f qty_short=%.12f", a.QtyLong, a.QtyShort)
	}
	switch s.Position {
	case Flat:
		if a.HasLong() || a.HasShort() {
			return fmt.Errorf("position flat but quantities long=%.12f short=%.12f", a.QtyLong, a.QtyShort)
		}
	case Long:
		if !a.HasLong() {
			return fmt.Errorf("position long without long quantity")
		}
	case Short:
		if !a.HasShort() {
			return fmt.Errorf("position short without short quantity")
		}
	default:
		return fmt.Errorf("unknown position %q", s.Position)
	}
	return nil
}
