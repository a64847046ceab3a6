// Package yahoochart is the primary market-data provider, backed by the
// public Yahoo Finance v8 chart API.
package yahoochart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"finvestor/internal/httpx"
	"finvestor/internal/provider"
)

const defaultEndpoint = "https://query1.finance.yahoo.com/v8/finance/chart"

type Config struct {
	Name      string
	Endpoint  string
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker (e.g. SPX -> ^GSPC)
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) yahooSymbol(symbol string) string {
	if mapped, ok := p.cfg.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// chartResponse is the native Yahoo chart shape. Null entries appear on
// holidays and are skipped during normalization.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				TrailingPE *float64 `json:"trailingPE"`
				MarketCap  *float64 `json:"marketCap"`
				Beta       *float64 `json:"beta"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Provider) FetchDaily(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, error) {
	bars, _, err := p.fetchChart(ctx, symbol, yahooRange(rangeDays))
	if err != nil {
		return nil, err
	}
	if len(bars) > rangeDays && rangeDays > 0 {
		bars = bars[len(bars)-rangeDays:]
	}
	return bars, nil
}

func (p *Provider) FetchFundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	// One year of daily bars gives the 52-week range; PE/cap/beta come
	// from the chart meta when Yahoo includes them.
	bars, meta, err := p.fetchChart(ctx, symbol, "1y")
	if err != nil {
		return provider.Fundamentals{}, err
	}
	f := provider.Fundamentals{
		Symbol:    symbol,
		PERatio:   meta.TrailingPE,
		MarketCap: meta.MarketCap,
		Beta:      meta.Beta,
		Source:    p.cfg.Name,
		FetchedAt: time.Now().UTC(),
	}
	for i, b := range bars {
		if i == 0 {
			hi, lo := b.High, b.Low
			f.Week52High, f.Week52Low = &hi, &lo
			continue
		}
		if b.High > *f.Week52High {
			*f.Week52High = b.High
		}
		if b.Low < *f.Week52Low {
			*f.Week52Low = b.Low
		}
	}
	return f, nil
}

type chartMeta struct {
	TrailingPE *float64
	MarketCap  *float64
	Beta       *float64
}

func (p *Provider) fetchChart(ctx context.Context, symbol, rng string) ([]provider.Quote, chartMeta, error) {
	u := fmt.Sprintf("%s/%s?interval=1d&range=%s", p.cfg.Endpoint, url.PathEscape(p.yahooSymbol(symbol)), rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.Malformed, "build request: %w", err)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		// Transport failures and deadline hits both count as timeouts
		// for fallthrough purposes.
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.Timeout, "fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.NotFound, "%s: status 404", symbol)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.RateLimited, "%s: status 429", symbol)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.Malformed, "%s: status %d: %s", symbol, resp.StatusCode, string(b))
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.Malformed, "decode %s: %w", symbol, err)
	}
	if chart.Chart.Error != nil {
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.NotFound, "%s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, chartMeta{}, provider.Errf(p.cfg.Name, provider.NotFound, "%s: no data returned", symbol)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]provider.Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue // null bar (holiday, halted session)
		}
		bars = append(bars, provider.Quote{
			Symbol: symbol,
			Date:   provider.Day(time.Unix(ts, 0)),
			Open:   deref(quote.Open, i),
			High:   deref(quote.High, i),
			Low:    deref(quote.Low, i),
			Close:  *quote.Close[i],
			Volume: int64(deref(quote.Volume, i)),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	meta := chartMeta{
		TrailingPE: result.Meta.TrailingPE,
		MarketCap:  result.Meta.MarketCap,
		Beta:       result.Meta.Beta,
	}
	return bars, meta, nil
}

func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func yahooRange(days int) string {
	switch {
	case days <= 0:
		return "1y"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 186:
		return "6mo"
	case days <= 372:
		return "1y"
	default:
		return "2y"
	}
}
