// Package ledger applies simulated fills to the paper account.
package ledger

import (
	"errors"
	"fmt"

	"auto_paper_bot/config"
	"auto_paper_bot/state"
	"auto_paper_bot/utils"
)

var (
	// ErrInsufficientCash means the order would spend no meaningful cash.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrNoPosition means a close was requested for a side that holds nothing.
	ErrNoPosition = errors.New("no position to close")
	// ErrPositionOpen means an open was requested while not flat.
	ErrPositionOpen = errors.New("position already open")
)

// Side is the direction of a fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Fill records a single simulated execution.
type Fill struct {
	Kind     string  // open_long, close_long, open_short, close_short
	Side     Side    // execution direction
	Price    float64 // fill price after slippage
	Quantity float64
	Fee      float64
	Realized float64 // only set on closes
}

// Ledger holds the sizing and cost parameters. It is stateless; all state lives in the account.
type Ledger struct {
	orderPct     float64
	feeRate      float64
	slippageRate float64
}

func New(cfg config.PaperConfig) *Ledger {
	return &Ledger{
		orderPct:     utils.Clamp(cfg.OrderPct, 0, 1),
		feeRate:      cfg.FeeRate,
		slippageRate: cfg.SlippageRate,
	}
}

// buyPrice and sellPrice apply slippage against the trader.
func (l *Ledger) buyPrice(p float64) float64  { return p * (1 + l.slippageRate) }
func (l *Ledger) sellPrice(p float64) float64 { return p * (1 - l.slippageRate) }

func (l *Ledger) checkOpen(st *state.SessionState, price float64) (float64, error) {
	if st.Position != state.Flat {
		return 0, fmt.Errorf("%w: %s", ErrPositionOpen, st.Position)
	}
	if !utils.IsFinite(price) || price <= 0 {
		return 0, fmt.Errorf("invalid fill price %v", price)
	}
	amount := st.Account.Cash * l.orderPct
	if amount <= utils.MinCash {
		return 0, fmt.Errorf("%w: cash %.8f, order fraction %.4f", ErrInsufficientCash, st.Account.Cash, l.orderPct)
	}
	return amount, nil
}

func recordEntry(a *state.PaperAccount, fill, entryATR float64) {
	a.EntryPrice = fill
	a.EntryATR = entryATR
	a.ResetTrailing()
	a.Trades++
}

// OpenLong spends order_pct of cash on a long position.
func (l *Ledger) OpenLong(st *state.SessionState, price, entryATR float64) (Fill, error) {
	spend, err := l.checkOpen(st, price)
	if err != nil {
		return Fill{}, err
	}
	a := &st.Account
	fill := l.buyPrice(price)
	fee := spend * l.feeRate
	qty := (spend - fee) / fill

	a.Cash -= spend
	a.QtyLong, a.AvgLong = qty, fill
	a.QtyShort, a.AvgShort = 0, 0
	recordEntry(a, fill, entryATR)
	st.Position = state.Long

	return Fill{Kind: "open_long", Side: Buy, Price: fill, Quantity: qty, Fee: fee}, nil
}

// CloseLong sells the whole long position.
func (l *Ledger) CloseLong(st *state.SessionState, price float64) (Fill, error) {
	a := &st.Account
	if st.Position != state.Long || a.QtyLong <= 0 {
		return Fill{}, fmt.Errorf("%w: long", ErrNoPosition)
	}
	qty := a.QtyLong
	fill := l.sellPrice(price)
	gross := qty * fill
	fee := gross * l.feeRate
	realized := (fill-a.AvgLong)*qty - fee

	a.RealizedPnL += realized
	a.Cash += gross - fee
	a.QtyLong, a.AvgLong = 0, 0
	a.ResetTrailing()
	a.Trades++
	st.Position = state.Flat

	return Fill{Kind: "close_long", Side: Sell, Price: fill, Quantity: qty, Fee: fee, Realized: realized}, nil
}

// OpenShort sells order_pct of cash worth of notional short and credits the proceeds.
func (l *Ledger) OpenShort(st *state.SessionState, price, entryATR float64) (Fill, error) {
	notional, err := l.checkOpen(st, price)
	if err != nil {
		return Fill{}, err
	}
	a := &st.Account
	fill := l.sellPrice(price)
	fee := notional * l.feeRate
	qty := (notional - fee) / fill

	a.Cash += notional - fee
	a.QtyShort, a.AvgShort = qty, fill
	a.QtyLong, a.AvgLong = 0, 0
	recordEntry(a, fill, entryATR)
	st.Position = state.Short

	return Fill{Kind: "open_short", Side: Sell, Price: fill, Quantity: qty, Fee: fee}, nil
}

// CloseShort buys back the whole short position.
func (l *Ledger) CloseShort(st *state.SessionState, price float64) (Fill, error) {
	a := &st.Account
	if st.Position != state.Short || a.QtyShort <= 0 {
		return Fill{}, fmt.Errorf("%w: short", ErrNoPosition)
	}
	qty := a.QtyShort
	fill := l.buyPrice(price)
	gross := qty * fill
	fee := gross * l.feeRate
	realized := (a.AvgShort-fill)*qty - fee

	a.RealizedPnL += realized
	a.Cash -= gross + fee
	a.QtyShort, a.AvgShort = 0, 0
	a.ResetTrailing()
	a.Trades++
	st.Position = state.Flat

	return Fill{Kind: "close_short", Side: Buy, Price: fill, Quantity: qty, Fee: fee, Realized: realized}, nil
}

// Close closes whichever side is open.
func (l *Ledger) Close(st *state.SessionState, price float64) (Fill, error) {
	switch st.Position {
	case state.Long:
		return l.CloseLong(st, price)
	case state.Short:
		return l.CloseShort(st, price)
	default:
		return Fill{}, ErrNoPosition
	}
}

// PortfolioValue marks the account to price; the short side is a liability.
func PortfolioValue(a state.PaperAccount, price float64) float64 {
	return a.Cash + a.QtyLong*price - a.QtyShort*price
}

// UnrealizedPnL is the open position's profit at price, before exit costs.
func UnrealizedPnL(a state.PaperAccount, price float64) float64 {
	return (price-a.AvgLong)*a.QtyLong + (a.AvgShort-price)*a.QtyShort
}
