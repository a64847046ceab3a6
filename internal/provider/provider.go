package provider

import (
	"context"
	"time"
)

// Quote is one daily OHLCV bar in the normalized shape returned by all
// providers. Date is truncated to UTC midnight of the trading day.
type Quote struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Tuple returns the bar as the ordered wire shape
// [timestamp_ms, open, high, low, close, volume].
func (q Quote) Tuple() [6]float64 {
	return [6]float64{
		float64(q.Date.UnixMilli()),
		q.Open, q.High, q.Low, q.Close,
		float64(q.Volume),
	}
}

// Fundamentals is a point-in-time snapshot of descriptive metrics for a
// symbol. Providers differ in coverage, so every numeric field is a
// pointer: nil means the provider did not report it, never zero.
type Fundamentals struct {
	Symbol     string    `json:"symbol"`
	PERatio    *float64  `json:"pe_ratio,omitempty"`
	MarketCap  *float64  `json:"market_cap,omitempty"` // USD
	Beta       *float64  `json:"beta,omitempty"`
	Week52High *float64  `json:"week52_high,omitempty"`
	Week52Low  *float64  `json:"week52_low,omitempty"`
	Source     string    `json:"source"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Provider is the uniform capability each external data source adapts to.
// Implementations normalize their native response shapes into Quote and
// Fundamentals, and report every non-success condition as *Error.
type Provider interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, rangeDays int) ([]Quote, error)
	FetchFundamentals(ctx context.Context, symbol string) (Fundamentals, error)
}

// Day truncates t to UTC midnight, the canonical key for daily bars.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
