// Package alphavantage is the secondary market-data provider. The free
// tier is heavily throttled (documented 5 requests/minute), so callers
// are expected to gate it with a long minimum interval.
package alphavantage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"finvestor/internal/provider"
)

type Config struct {
	Name string
}

type Provider struct {
	cfg    Config
	client *APIClient
}

func New(cfg Config, client *APIClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "alphavantage"
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchDaily(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, error) {
	outputSize := "compact"
	if rangeDays > 100 {
		outputSize = "full"
	}
	resp, err := p.client.DailySeries(ctx, symbol, outputSize)
	if err != nil {
		return nil, provider.Errf(p.cfg.Name, provider.Timeout, "daily series %s: %w", symbol, err)
	}
	if err := p.apiFailure(resp.Note, resp.Information, resp.ErrorMessage, symbol); err != nil {
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, provider.Errf(p.cfg.Name, provider.NotFound, "%s: empty series", symbol)
	}

	cutoff := provider.Day(time.Now()).AddDate(0, 0, -rangeDays)
	quotes := make([]provider.Quote, 0, len(resp.Series))
	for day, bar := range resp.Series {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, provider.Errf(p.cfg.Name, provider.Malformed, "%s: bad series date %q", symbol, day)
		}
		if rangeDays > 0 && date.Before(cutoff) {
			continue
		}
		o, err1 := bar.Open.Float64()
		h, err2 := bar.High.Float64()
		l, err3 := bar.Low.Float64()
		c, err4 := bar.Close.Float64()
		v, err5 := bar.Volume.Int64()
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return nil, provider.Errf(p.cfg.Name, provider.Malformed, "%s: non-numeric bar on %s", symbol, day)
		}
		quotes = append(quotes, provider.Quote{
			Symbol: symbol,
			Date:   provider.Day(date),
			Open:   o, High: h, Low: l, Close: c,
			Volume: v,
		})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Date.Before(quotes[j].Date) })
	return quotes, nil
}

func (p *Provider) FetchFundamentals(ctx context.Context, symbol string) (provider.Fundamentals, error) {
	resp, err := p.client.Overview(ctx, symbol)
	if err != nil {
		return provider.Fundamentals{}, provider.Errf(p.cfg.Name, provider.Timeout, "overview %s: %w", symbol, err)
	}
	if err := p.apiFailure(resp.Note, "", resp.ErrorMessage, symbol); err != nil {
		return provider.Fundamentals{}, err
	}
	if resp.Symbol == "" {
		return provider.Fundamentals{}, provider.Errf(p.cfg.Name, provider.NotFound, "%s: empty overview", symbol)
	}
	return provider.Fundamentals{
		Symbol:     symbol,
		PERatio:    optionalNumber(resp.PERatio),
		MarketCap:  optionalNumber(resp.MarketCap),
		Beta:       optionalNumber(resp.Beta),
		Week52High: optionalNumber(resp.Week52High),
		Week52Low:  optionalNumber(resp.Week52Low),
		Source:     p.cfg.Name,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (p *Provider) apiFailure(note, information, errorMessage, symbol string) error {
	// The free tier signals throttling through a 200 response carrying
	// a Note (or Information) field instead of data.
	if strings.TrimSpace(note) != "" || strings.TrimSpace(information) != "" {
		return provider.Errf(p.cfg.Name, provider.RateLimited, "%s: api note: %s%s", symbol, note, information)
	}
	if strings.TrimSpace(errorMessage) != "" {
		return provider.Errf(p.cfg.Name, provider.NotFound, "%s: %s", symbol, errorMessage)
	}
	return nil
}

// optionalNumber parses Alpha Vantage's stringly-typed metrics. "None"
// and "-" mean the metric is not reported; both map to nil, never zero.
func optionalNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
