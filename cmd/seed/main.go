// Command seed loads historical daily data for a symbol list through
// the provider fallback chain into the local store. Run it once before
// first serving traffic, or whenever new symbols are added.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"

	"finvestor/internal/config"
	"finvestor/internal/httpx"
	"finvestor/internal/provider"
	"finvestor/internal/provider/alphavantage"
	"finvestor/internal/provider/fallback"
	"finvestor/internal/provider/finnhub"
	"finvestor/internal/provider/ratelimit"
	"finvestor/internal/provider/yahoochart"
	"finvestor/internal/store"
)

func main() {
	var symbolsCSV string
	var rangeDays int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL,MSFT,GOOGL,AMZN,TSLA,SPY,QQQ,DIA"), "comma-separated ticker symbols")
	flag.IntVar(&rangeDays, "range-days", 365, "days of history to load per symbol")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := log.Logger{
		Level:      log.ParseLevel(cfg.LogLevel),
		TimeFormat: "15:04:05",
		Writer:     &log.ConsoleWriter{EndWithMessage: true},
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var providers []provider.Provider
	intervals := make(map[string]time.Duration)
	if cfg.Yahoo.Enabled {
		p := yahoochart.New(yahoochart.Config{Endpoint: cfg.Yahoo.Endpoint}, httpClient)
		providers = append(providers, p)
		intervals[p.Name()] = time.Duration(cfg.Yahoo.MinIntervalSec) * time.Second
	}
	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey != "" {
		client, err := alphavantage.NewAPIClient(cfg.AlphaVantage.APIKey, alphavantage.WithHTTPClient(httpClient.HTTP))
		if err == nil {
			p := alphavantage.New(alphavantage.Config{}, client)
			providers = append(providers, p)
			intervals[p.Name()] = time.Duration(cfg.AlphaVantage.MinIntervalSec) * time.Second
		}
	}
	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		p := finnhub.New(finnhub.Config{Endpoint: cfg.Finnhub.Endpoint, APIKey: cfg.Finnhub.APIKey}, httpClient)
		providers = append(providers, p)
		intervals[p.Name()] = time.Duration(cfg.Finnhub.MinIntervalSec) * time.Second
	}
	if len(providers) == 0 {
		logger.Fatal().Msg("no providers enabled")
	}

	gate := ratelimit.New(intervals)
	chain := fallback.New(providers, gate, time.Duration(cfg.MarketData.ProviderTimeoutSec)*time.Second, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	symbols := splitCSV(symbolsCSV)
	loaded, skipped := 0, 0
	for _, sym := range symbols {
		quotes, source, err := chain.Daily(ctx, sym, rangeDays)
		if err != nil {
			logger.Warn().Str("symbol", sym).Err(err).Msg("skipped")
			skipped++
			continue
		}
		if err := st.UpsertQuotes(quotes); err != nil {
			logger.Fatal().Str("symbol", sym).Err(err).Msg("upsert quotes")
		}
		if err := st.UpsertTicker(store.Ticker{Symbol: sym, Name: sym}); err != nil {
			logger.Fatal().Str("symbol", sym).Err(err).Msg("upsert ticker")
		}
		if f, _, err := chain.Fundamentals(ctx, sym); err == nil {
			if err := st.UpsertFundamentals(f); err != nil {
				logger.Fatal().Str("symbol", sym).Err(err).Msg("upsert fundamentals")
			}
		}
		logger.Info().Str("symbol", sym).Str("source", source).Int("rows", len(quotes)).Msg("loaded")
		loaded++
	}
	logger.Info().Int("loaded", loaded).Int("skipped", skipped).Msg("seed complete")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
