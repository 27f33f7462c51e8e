package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"auto_paper_bot/logs"
	"auto_paper_bot/utils"
)

//
// Simulated market for running the bot without network access
//

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// MockClient synthesizes bars from a sine wave with a deterministic wobble,
// aligned to real interval boundaries so the session sees bars close on schedule.
type MockClient struct {
	mu              sync.Mutex
	now             func() time.Time
	simInitialPrice float64
	simAmplitude    float64
	cyclePeriod     float64 // bars per sine cycle
	baseVolume      float64
}

// NewMockClient creates a simulator starting near initialPrice.
func NewMockClient(initialPrice, amplitude float64) *MockClient {
	logs.Infof("[Mock Client] Price simulator configured. Initial price: %.4f, amplitude: %.4f", initialPrice, amplitude)
	return &MockClient{
		now:             time.Now,
		simInitialPrice: initialPrice,
		simAmplitude:    amplitude,
		cyclePeriod:     96,
		baseVolume:      100,
	}
}

// SetClock replaces the wall clock, used by tests.
func (c *MockClient) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// priceAt returns the synthetic price at fractional bar index x.
func (c *MockClient) priceAt(x float64) float64 {
	wave := math.Sin(2 * math.Pi * x / c.cyclePeriod)
	wobble := 0.15 * math.Sin(2*math.Pi*x/7.3)
	return c.simInitialPrice + c.simAmplitude*(wave+wobble)
}

// RecentBars builds count bars ending with the bar that contains "now" (still forming).
func (c *MockClient) RecentBars(ctx context.Context, symbol, interval string, count int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dur, err := parseIntervalMs(interval)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("bar count must be positive, got %d", count)
	}

	c.mu.Lock()
	nowMs := c.now().UnixMilli()
	c.mu.Unlock()

	currentOpen := nowMs - nowMs%dur
	bars := make([]Bar, 0, count)
	for i := count - 1; i >= 0; i-- {
		open := currentOpen - int64(i)*dur
		idx := float64(open / dur)
		o := c.priceAt(idx)
		cl := c.priceAt(idx + 1)
		if i == 0 {
			// Forming bar: close tracks the live price.
			cl = c.priceAt(idx + float64(nowMs-open)/float64(dur))
		}
		spread := math.Abs(cl-o) + c.simAmplitude*0.02
		bars = append(bars, Bar{
			OpenTime:  open,
			CloseTime: open + dur - 1,
			Open:      o,
			High:      math.Max(o, cl) + spread*0.5,
			Low:       math.Min(o, cl) - spread*0.5,
			Close:     cl,
			Volume:    c.baseVolume * (1 + 0.8*math.Abs(math.Sin(idx/3))),
		})
	}
	return bars, nil
}

// SpotPrice returns the synthetic price at the current instant on a 1-minute grid.
func (c *MockClient) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bars, err := c.RecentBars(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	return bars[0].Close, nil
}

func parseIntervalMs(interval string) (int64, error) {
	d, ok := utils.ParseInterval(interval)
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d.Milliseconds(), nil
}
