package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"auto_paper_bot/logs"
)

// SchemaVersion is written into every saved document.
const SchemaVersion = 2

// dustQty is the quantity at or below which a persisted side is treated as closed on load.
const dustQty = 1e-12

// paperDoc mirrors PaperAccount with every field optional, plus the keys older
// versions of the bot wrote.
type paperDoc struct {
	Enabled     *bool    `json:"enabled"`
	StartCash   *float64 `json:"start_cash"`
	Cash        *float64 `json:"cash"`
	QtyLong     *float64 `json:"qty_long"`
	AvgLong     *float64 `json:"avg_long"`
	QtyShort    *float64 `json:"qty_short"`
	AvgShort    *float64 `json:"avg_short"`
	RealizedPnL *float64 `json:"realized_pnl"`
	Trades      *int     `json:"trades"`
	EntryPrice  *float64 `json:"entry_price"`
	EntryATR    *float64 `json:"entry_atr"`
	TrailActive *bool    `json:"trail_active"`
	TrailStop   *float64 `json:"trail_stop"`

	// legacy
	BTCLong  *float64 `json:"btc_long"`
	BTCShort *float64 `json:"btc_short"`
	BTC      *float64 `json:"btc"`
	Qty      *float64 `json:"qty"`
	AvgEntry *float64 `json:"avg_entry"`
}

type sessionDoc struct {
	SchemaVersion      int       `json:"schema_version"`
	Position           *string   `json:"position"`
	LastProcessedBarMs *int64    `json:"last_processed_bar_ms"`
	CooldownUntilBarMs *int64    `json:"cooldown_until_bar_ms"`
	DayKey             *string   `json:"day_key"`
	DayStartValue      *float64  `json:"day_start_value"`
	HaltedToday        *bool     `json:"halted_today"`
	Paper              *paperDoc `json:"paper"`

	// legacy
	LastBarMs *int64  `json:"last_bar_ms"`
	Day       *string `json:"day"`
	HaltToday *bool   `json:"halt_today"`
}

type encodedSession struct {
	SchemaVersion int `json:"schema_version"`
	SessionState
}

// Encode serializes a session in the current schema.
func Encode(st *SessionState) ([]byte, error) {
	data, err := json.MarshalIndent(encodedSession{SchemaVersion: SchemaVersion, SessionState: *st}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session state: %w", err)
	}
	return data, nil
}

// Decode parses a document of any schema version and normalizes it: missing fields take
// their defaults, legacy keys migrate onto the long side, and the position is reconciled
// with the persisted quantities.
func Decode(data []byte, d Defaults) (*SessionState, error) {
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}

	st := New(d)
	if doc.Position != nil {
		st.Position = Position(strings.ToLower(strings.TrimSpace(*doc.Position)))
	}
	st.LastProcessedBarMs = firstInt64(doc.LastProcessedBarMs, doc.LastBarMs)
	setInt64(&st.CooldownUntilBarMs, doc.CooldownUntilBarMs)
	if key := firstString(doc.DayKey, doc.Day); key != "" {
		st.DayKey = key
	}
	setFloat(&st.DayStartValue, doc.DayStartValue)
	if doc.HaltedToday != nil {
		st.HaltedToday = *doc.HaltedToday
	} else if doc.HaltToday != nil {
		st.HaltedToday = *doc.HaltToday
	}

	if p := doc.Paper; p != nil {
		a := &st.Account
		if p.Enabled != nil {
			a.Enabled = *p.Enabled
		}
		setFloat(&a.StartCash, p.StartCash)
		if p.Cash != nil {
			a.Cash = *p.Cash
		} else if p.StartCash != nil {
			a.Cash = *p.StartCash
		}
		a.QtyLong = firstFloat(p.QtyLong, p.BTCLong, p.BTC, p.Qty)
		a.AvgLong = firstFloat(p.AvgLong, p.AvgEntry)
		a.QtyShort = firstFloat(p.QtyShort, p.BTCShort)
		setFloat(&a.AvgShort, p.AvgShort)
		setFloat(&a.RealizedPnL, p.RealizedPnL)
		if p.Trades != nil {
			a.Trades = *p.Trades
		}
		setFloat(&a.EntryPrice, p.EntryPrice)
		setFloat(&a.EntryATR, p.EntryATR)
		if p.TrailActive != nil {
			a.TrailActive = *p.TrailActive
		}
		setFloat(&a.TrailStop, p.TrailStop)
	}

	if err := reconcilePosition(st); err != nil {
		return nil, err
	}
	return st, nil
}

// reconcilePosition makes the position phase agree with the persisted quantities.
func reconcilePosition(st *SessionState) error {
	a := &st.Account
	if a.QtyLong > dustQty && a.QtyShort > dustQty {
		return fmt.Errorf("corrupt session state: long %.12f and short %.12f both open", a.QtyLong, a.QtyShort)
	}
	if !st.Position.Valid() {
		logs.Warnf("[State] Unknown position %q in saved state, deriving from quantities", st.Position)
		st.Position = Flat
	}

	switch {
	case st.Position == Long && a.QtyLong <= dustQty:
		st.Position = Flat
	case st.Position == Short && a.QtyShort <= dustQty:
		st.Position = Flat
	}
	if st.Position == Flat {
		if a.QtyLong > dustQty {
			logs.Warnf("[State] Saved state is flat but holds %.8f long, resuming long", a.QtyLong)
			st.Position = Long
		} else if a.QtyShort > dustQty {
			logs.Warnf("[State] Saved state is flat but holds %.8f short, resuming short", a.QtyShort)
			st.Position = Short
		}
	}
	if st.Position == Flat {
		a.QtyLong, a.AvgLong, a.QtyShort, a.AvgShort = 0, 0, 0, 0
		a.ResetTrailing()
	}
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func firstFloat(vs ...*float64) float64 {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstInt64(vs ...*int64) int64 {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstString(vs ...*string) string {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return ""
}
