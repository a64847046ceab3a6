// Package finnhub is the tertiary market-data provider. Its free tier
// covers daily candles and a company profile; it does not report PE,
// beta, or 52-week ranges, so those fundamentals stay unknown.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"finvestor/internal/httpx"
	"finvestor/internal/provider"
)

const defaultEndpoint = "https://finnhub.io/api/v1"

type Config struct {
	Name     string
	Endpoint string
	APIKey   string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// candleResponse is the native parallel-array candle shape. Status "ok"
// or "no_data"; arrays are index-aligned.
type candleResponse struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

type profileResponse struct {
	Name string `json:"name"`
	// MarketCapitalization is reported in millions of USD.
	MarketCapitalization *float64 `json:"marketCapitalization"`
}

func (p *Provider) FetchDaily(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -rangeDays)
	q := url.Values{
		"symbol":     []string{symbol},
		"resolution": []string{"D"},
		"from":       []string{fmt.Sprintf("%d", from.Unix())},
		"to":         []string{fmt.Sprintf("%d", to.Unix())},
	}
	var candles candleResponse
	if err := p.get(ctx, "/stock/candle", q, &candles); err != nil {
		return nil, err
	}
	if candles.Status == "no_data" || len(candles.Close) == 0 {
		return nil, provider.Errf(p.cfg.Name, provider.NotFound, "%s: no candle data", symbol)
	}
	if candles.Status != "ok" {
		return nil, provider.Errf(p.cfg.Name, provider.Malformed, "%s: candle status %q", symbol, candles.Status)
	}
	if len(candles.Time) != len(candles.Close) {
		return nil, provider.Errf(p.cfg.Name, provider.Malformed, "%s: misaligned candle arrays", symbol)
	}

	quotes := make([]provider.Quote, 0, len(candles.Time))
	for i, ts := range candles.Time {
		quotes = append(quotes, provider.Quote{
			Symbol: symbol,
			Date:   provider.Day(time.Unix(ts, 0)),
			Open:   at(candles.Open, i),
			High:   at(candles.High, i),
			Low:    at(candles.Low, i),
			Close:  candles.Close[i],
			Volume: int64(at(candles.Volume, i)),
		})
	}
	return quotes, nil
}

func (p *Provider) FetchFundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	var profile profileResponse
	if err := p.get(ctx, "/stock/profile2", url.Values{"symbol": []string{symbol}}, &profile); err != nil {
		return provider.Fundamentals{}, err
	}
	if profile.Name == "" {
		return provider.Fundamentals{}, provider.Errf(p.cfg.Name, provider.NotFound, "%s: empty profile", symbol)
	}
	f := provider.Fundamentals{
		Symbol:    symbol,
		Source:    p.cfg.Name,
		FetchedAt: time.Now().UTC(),
	}
	if profile.MarketCapitalization != nil {
		cap := *profile.MarketCapitalization * 1_000_000 // millions -> USD
		f.MarketCap = &cap
	}
	return f, nil
}

func (p *Provider) get(ctx context.Context, path string, q url.Values, out any) error {
	u := fmt.Sprintf("%s%s?%s", p.cfg.Endpoint, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return provider.Errf(p.cfg.Name, provider.Malformed, "build request: %w", err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("X-Finnhub-Token", p.cfg.APIKey)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return provider.Errf(p.cfg.Name, provider.Timeout, "%s: %w", path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.Errf(p.cfg.Name, provider.RateLimited, "%s: status 429", path)
	case resp.StatusCode == http.StatusNotFound:
		return provider.Errf(p.cfg.Name, provider.NotFound, "%s: status 404", path)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return provider.Errf(p.cfg.Name, provider.Malformed, "%s: status %d: %s", path, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Errf(p.cfg.Name, provider.Malformed, "decode %s: %w", path, err)
	}
	return nil
}

func at(vals []float64, i int) float64 {
	if i >= len(vals) {
		return 0
	}
	return vals[i]
}
