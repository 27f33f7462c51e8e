// risk/manager.go
package risk

import (
	"math"

	"auto_paper_bot/config"
	"auto_paper_bot/logs"
	"auto_paper_bot/state"
)

// RiskManager evaluates exit rules against the live price. It may update the account's
// trailing fields and returns at most one ForceCloseAction per evaluation.
type RiskManager interface {
	Evaluate(st *state.SessionState, price float64) []Action
}

// Ensure Manager implements RiskManager
var _ RiskManager = (*Manager)(nil)

// Manager applies ATR-sized stop-loss, take-profit and trailing stop rules,
// all measured from the entry price and the ATR frozen at entry.
type Manager struct {
	cfg config.RiskConfig
}

func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Evaluate first moves the trailing stop, then checks SL, TP and trailing stop in that order.
// The first breached rule wins.
func (m *Manager) Evaluate(st *state.SessionState, price float64) []Action {
	if !m.cfg.UseTPSL && !m.cfg.UseTrailing {
		return nil
	}
	if st.Position != state.Long && st.Position != state.Short {
		return nil
	}
	a := &st.Account
	entry, atr := a.EntryPrice, a.EntryATR
	if entry <= 0 || atr <= 0 || price <= 0 || math.IsNaN(price) {
		return nil
	}

	var actions []Action
	if m.cfg.UseTrailing {
		if armed := m.updateTrailing(st.Position, a, price); armed != nil {
			actions = append(actions, armed)
		}
	}
	if closeAction := m.checkExits(st.Position, a, price); closeAction != nil {
		actions = append(actions, closeAction)
	}
	return actions
}

// updateTrailing arms the stop once the move in favor reaches TrailActivateR entry ATRs,
// then ratchets it in the favorable direction only.
func (m *Manager) updateTrailing(pos state.Position, a *state.PaperAccount, price float64) Action {
	dist := m.cfg.TrailATRMult * a.EntryATR
	profit := price - a.EntryPrice
	candidate := price - dist
	if pos == state.Short {
		profit = a.EntryPrice - price
		candidate = price + dist
	}

	if !a.TrailActive {
		if profit < m.cfg.TrailActivateR*a.EntryATR {
			return nil
		}
		a.TrailActive = true
		a.TrailStop = candidate
		logs.Infof("[Risk] Trailing stop armed for %s at %.2f (price %.2f, entry %.2f)", pos, candidate, price, a.EntryPrice)
		return &TrailActivatedAction{Side: pos, Price: price, Stop: candidate}
	}

	if (pos == state.Long && candidate > a.TrailStop) || (pos == state.Short && candidate < a.TrailStop) {
		logs.Debugf("[Risk] Trailing stop for %s moved %.2f -> %.2f", pos, a.TrailStop, candidate)
		a.TrailStop = candidate
	}
	return nil
}

func (m *Manager) checkExits(pos state.Position, a *state.PaperAccount, price float64) *ForceCloseAction {
	entry, atr := a.EntryPrice, a.EntryATR
	if pos == state.Long {
		sl := entry - m.cfg.SLATRMult*atr
		tp := entry + m.cfg.TPATRMult*atr
		switch {
		case m.cfg.UseTPSL && price <= sl:
			return &ForceCloseAction{Side: pos, Reason: ReasonStopLoss, Price: price, Level: sl}
		case m.cfg.UseTPSL && price >= tp:
			return &ForceCloseAction{Side: pos, Reason: ReasonTakeProfit, Price: price, Level: tp}
		case m.cfg.UseTrailing && a.TrailActive && price <= a.TrailStop:
			return &ForceCloseAction{Side: pos, Reason: ReasonTrailingStop, Price: price, Level: a.TrailStop}
		}
		return nil
	}

	sl := entry + m.cfg.SLATRMult*atr
	tp := entry - m.cfg.TPATRMult*atr
	switch {
	case m.cfg.UseTPSL && price >= sl:
		return &ForceCloseAction{Side: pos, Reason: ReasonStopLoss, Price: price, Level: sl}
	case m.cfg.UseTPSL && price <= tp:
		return &ForceCloseAction{Side: pos, Reason: ReasonTakeProfit, Price: price, Level: tp}
	case m.cfg.UseTrailing && a.TrailActive && price >= a.TrailStop:
		return &ForceCloseAction{Side: pos, Reason: ReasonTrailingStop, Price: price, Level: a.TrailStop}
	}
	return nil
}

// ForcedClose returns the close action in actions, if any.
func ForcedClose(actions []Action) *ForceCloseAction {
	for _, act := range actions {
		if c, ok := act.(*ForceCloseAction); ok {
			return c
		}
	}
	return nil
}
