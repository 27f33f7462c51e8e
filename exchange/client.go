// exchange/client.go
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"auto_paper_bot/logs"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
)

// Ensure BinanceClient implements Client
var _ Client = (*BinanceClient)(nil)

// maxKlinesPerRequest is Binance's per-request cap on klines.
const maxKlinesPerRequest = 1000

// RetryPolicy bounds how often a failed call is retried.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy retries transient failures three times with jittered exponential backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Min: 500 * time.Millisecond, Max: 5 * time.Second}

// klineFetcher is the single SDK call the pagination logic depends on.
type klineFetcher func(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]*binance.Kline, error)

// BinanceClient reads public spot market data through the go-binance SDK.
type BinanceClient struct {
	sdk    *binance.Client
	retry  RetryPolicy
	klines klineFetcher
}

// NewBinanceClient creates a spot market-data client. Keys are optional for public endpoints.
func NewBinanceClient(apiKey, apiSecret, baseURL string, timeoutSeconds int) *BinanceClient {
	sdk := binance.NewClient(apiKey, apiSecret)
	if strings.TrimSpace(baseURL) != "" {
		sdk.BaseURL = strings.TrimSpace(baseURL)
	}
	sdk.HTTPClient = &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}

	c := &BinanceClient{sdk: sdk, retry: DefaultRetryPolicy}
	c.klines = c.fetchKlines
	return c
}

func (c *BinanceClient) fetchKlines(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]*binance.Kline, error) {
	svc := c.sdk.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if endTime > 0 {
		svc = svc.EndTime(endTime)
	}
	return svc.Do(ctx)
}

// RecentBars pages backwards through history until count bars are collected or history runs out.
func (c *BinanceClient) RecentBars(ctx context.Context, symbol, interval string, count int) ([]Bar, error) {
	if count <= 0 {
		return nil, fmt.Errorf("bar count must be positive, got %d", count)
	}

	var (
		results []*binance.Kline
		endTime int64
	)
	for len(results) < count {
		reqLimit := count - len(results)
		if reqLimit > maxKlinesPerRequest {
			reqLimit = maxKlinesPerRequest
		}

		var page []*binance.Kline
		err := c.withRetry(ctx, "klines", func() error {
			var err error
			page, err = c.klines(ctx, symbol, interval, reqLimit, endTime)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s %s klines: %w", symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}

		// Older pages are prepended.
		results = append(page, results...)
		if len(page) < reqLimit {
			break
		}
		endTime = page[0].OpenTime - 1
	}

	if len(results) > count {
		results = results[len(results)-count:]
	}

	bars := make([]Bar, 0, len(results))
	for _, k := range results {
		if k == nil {
			continue
		}
		bar, err := convertKline(k)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	logs.Debugf("[Market] Fetched %d %s %s bars", len(bars), symbol, interval)
	return bars, nil
}

// SpotPrice returns the latest ticker price.
func (c *BinanceClient) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*binance.SymbolPrice
	err := c.withRetry(ctx, "ticker price", func() error {
		var err error
		prices, err = c.sdk.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s price: %w", symbol, err)
	}
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			price, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid %s price %q: %w", symbol, p.Price, err)
			}
			logs.Debugf("[Market] %s price = %.2f", symbol, price)
			return price, nil
		}
	}
	return 0, fmt.Errorf("price for %s missing from ticker response", symbol)
}

// withRetry retries fn on transport failures. Binance API errors carry a code and are returned at once.
func (c *BinanceClient) withRetry(ctx context.Context, what string, fn func() error) error {
	b := &backoff.Backoff{Min: c.retry.Min, Max: c.retry.Max, Factor: 2, Jitter: true}
	attempts := c.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if common.IsAPIError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := b.Duration()
		logs.Warnf("[Market] %s attempt %d/%d failed: %v, retrying in %s", what, attempt, attempts, err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func convertKline(k *binance.Kline) (Bar, error) {
	fields := []struct {
		name string
		raw  string
	}{{"open", k.Open}, {"high", k.High}, {"low", k.Low}, {"close", k.Close}, {"volume", k.Volume}}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("invalid kline %s %q at %d: %w", f.name, f.raw, k.OpenTime, err)
		}
		values[i] = v
	}
	return Bar{
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
