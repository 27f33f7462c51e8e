// risk/actions.go
package risk

import (
	"fmt"

	"auto_paper_bot/state"
)

// Action is anything the risk manager asks the session to act on or report.
type Action interface {
	Description() string
}

// CloseReason names the rule that forced an exit.
type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonTrailingStop CloseReason = "trailing_stop"
)

// === Specific Action Implementations ===

// ForceCloseAction closes the open position regardless of strategy signals and cooldown.
type ForceCloseAction struct {
	Side   state.Position
	Reason CloseReason
	Price  float64 // live price that breached the level
	Level  float64 // the breached SL, TP or trailing stop
}

func (a *ForceCloseAction) Description() string {
	op := "<="
	if (a.Side == state.Long && a.Reason == ReasonTakeProfit) || (a.Side == state.Short && a.Reason != ReasonTakeProfit) {
		op = ">="
	}
	return fmt.Sprintf("%s (%s): now %.2f %s %.2f", a.Reason, a.Side, a.Price, op, a.Level)
}

// TrailActivatedAction reports that the trailing stop has armed.
type TrailActivatedAction struct {
	Side  state.Position
	Price float64
	Stop  float64
}

func (a *TrailActivatedAction) Description() string {
	return fmt.Sprintf("Trailing stop armed (%s): price %.2f, stop %.2f", a.Side, a.Price, a.Stop)
}
