package utils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":    5 * time.Minute,
		"1h":    time.Hour,
		"4h":    4 * time.Hour,
		" 15m ": 15 * time.Minute,
		"1d":    24 * time.Hour,
		"1w":    7 * 24 * time.Hour,
		"30s":   30 * time.Second,
	}
	for in, want := range cases {
		got, ok := ParseInterval(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "m", "0m", "-1h", "5x", "abc", "1M", "4H"} {
		_, ok := ParseInterval(bad)
		assert.False(t, ok, bad)
	}
}

func TestClampAndFinite(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(1.5, 0, 1))
	assert.Equal(t, 0.0, Clamp(-0.2, 0, 1))
	assert.Equal(t, 0.4, Clamp(0.4, 0, 1))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(1)))
	assert.True(t, IsFinite(3))
}
