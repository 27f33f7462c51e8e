package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"auto_paper_bot/ledger"
	"auto_paper_bot/state"

	"github.com/shopspring/decimal"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 3800

// Message is a title followed by one line per fact.
type Message struct {
	Title string
	Lines []string
}

// Render produces the plain-text body, trimmed to the Telegram limit.
func (m Message) Render() string {
	var b strings.Builder
	if title := strings.TrimSpace(m.Title); title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	for _, line := range m.Lines {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return body
}

// Money renders v rounded to cents with thousands separators, e.g. -1,234.50.
func Money(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if sign == "-" && strings.Trim(intPart+frac, "0") == "" {
		sign = ""
	}
	return sign + b.String() + "." + frac
}

// Qty renders a base-asset quantity with eight decimals.
func Qty(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

// SignedPct renders a percentage with an explicit sign, e.g. +1.25%.
func SignedPct(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return d.StringFixed(2) + "%"
	}
	return "+" + d.StringFixed(2) + "%"
}

// TradeSummary describes the account after a fill, marked at price.
func TradeSummary(title string, st *state.SessionState, price float64) string {
	a := st.Account
	pv := ledger.PortfolioValue(a, price)
	pnl := pv - a.StartCash
	pnlPct := 0.0
	if a.StartCash > 0 {
		pnlPct = pnl / a.StartCash * 100
	}
	lines := []string{
		"Now: " + Money(price),
		"Cash: " + Money(a.Cash),
		"Pos: " + string(st.Position),
		fmt.Sprintf("Long: %s avg %s", Qty(a.QtyLong), Money(a.AvgLong)),
		fmt.Sprintf("Short: %s avg %s", Qty(a.QtyShort), Money(a.AvgShort)),
	}
	if a.TrailActive {
		lines = append(lines, "Trail stop: "+Money(a.TrailStop))
	}
	lines = append(lines,
		"Port: "+Money(pv),
		fmt.Sprintf("PnL: %s (%s)", Money(pnl), SignedPct(pnlPct)),
		fmt.Sprintf("Realized: %s Trades: %d", Money(a.RealizedPnL), a.Trades),
	)
	return Message{Title: title, Lines: lines}.Render()
}
