// utils/math.go
package utils

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// LongQtyTolerance and ShortQtyTolerance are the quantities below which a side counts as flat.
	LongQtyTolerance  = 1e-10
	ShortQtyTolerance = 1e-12

	// MinCash is the smallest cash balance an open order is attempted with.
	MinCash = 1e-6
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseInterval parses kline intervals such as "5m", "1h", "1d", "1w". Units are
// case-sensitive: the exchange reads "1M" as one month, which is not supported.
func ParseInterval(interval string) (time.Duration, bool) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch interval[len(interval)-1] {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
