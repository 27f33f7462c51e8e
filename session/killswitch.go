package session

import (
	"fmt"
	"time"

	"auto_paper_bot/logs"
	"auto_paper_bot/state"
)

// KillSwitch halts new entries for the rest of the day once the portfolio has
// drawn down MaxDailyDDPct from the day's starting value.
type KillSwitch struct {
	enabled       bool
	maxDailyDDPct float64
	dayLoc        *time.Location
}

// NewKillSwitch keys days in a fixed UTC offset.
func NewKillSwitch(enabled bool, maxDailyDDPct, utcOffsetHours float64) *KillSwitch {
	offset := int(utcOffsetHours * 3600)
	return &KillSwitch{
		enabled:       enabled,
		maxDailyDDPct: maxDailyDDPct,
		dayLoc:        time.FixedZone(fmt.Sprintf("UTC%+g", utcOffsetHours), offset),
	}
}

// DayKey is the calendar date of t in the switch's zone.
func (k *KillSwitch) DayKey(t time.Time) string {
	return t.In(k.dayLoc).Format("2006-01-02")
}

// Rollover starts a new day when the key changes, snapshotting the portfolio value and
// clearing the halt. A missing start value is filled in without clearing the halt.
func (k *KillSwitch) Rollover(st *state.SessionState, now time.Time, portfolioValue float64) bool {
	key := k.DayKey(now)
	if st.DayKey != key {
		logs.Infof("[KillSwitch] New trading day %s (was %q), day start value %.2f", key, st.DayKey, portfolioValue)
		st.DayKey = key
		st.DayStartValue = portfolioValue
		st.HaltedToday = false
		return true
	}
	if st.DayStartValue <= 0 {
		st.DayStartValue = portfolioValue
	}
	return false
}

// Drawdown returns the day's drawdown in percent; zero without a start value.
func Drawdown(st *state.SessionState, portfolioValue float64) float64 {
	if st.DayStartValue <= 0 {
		return 0
	}
	return (st.DayStartValue - portfolioValue) / st.DayStartValue * 100
}

// Check trips the halt when the drawdown reaches the threshold. It reports true only on the
// cycle the halt is first set; the halt then stays until the next rollover.
func (k *KillSwitch) Check(st *state.SessionState, portfolioValue float64) (bool, float64) {
	if !k.enabled || st.HaltedToday {
		return false, 0
	}
	dd := Drawdown(st, portfolioValue)
	if dd < k.maxDailyDDPct {
		return false, dd
	}
	st.HaltedToday = true
	logs.Warnf("[KillSwitch] Daily drawdown %.2f%% >= %.2f%%. New entries halted until the next day.", dd, k.maxDailyDDPct)
	return true, dd
}
