package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"finvestor/internal/benchmark"
	"finvestor/internal/config"
	"finvestor/internal/httpx"
	"finvestor/internal/marketdata"
	"finvestor/internal/portfolio"
	"finvestor/internal/pricing"
	"finvestor/internal/provider"
	"finvestor/internal/provider/alphavantage"
	"finvestor/internal/provider/fallback"
	"finvestor/internal/provider/finnhub"
	"finvestor/internal/provider/ratelimit"
	"finvestor/internal/provider/yahoochart"
	"finvestor/internal/store"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
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
	logger.Info().Str("path", cfg.Database.Path).Msg("store opened")

	providers, intervals := buildProviders(cfg, &logger)
	if len(providers) == 0 {
		logger.Fatal().Msg("no providers enabled")
	}

	gate := ratelimit.New(intervals)
	chain := fallback.New(providers, gate, time.Duration(cfg.MarketData.ProviderTimeoutSec)*time.Second, logger)
	market := marketdata.New(st, chain, marketdata.Config{
		FundamentalsTTL: time.Duration(cfg.MarketData.FundamentalsTTLHours) * time.Hour,
	}, logger)
	benchmarks := benchmark.New(market, cfg.Benchmarks.Symbols, time.Duration(cfg.Benchmarks.TTLSeconds)*time.Second, logger)
	pricer := pricing.New(st, cfg.Pricing.LookbackDays)
	portfolios := portfolio.New(st, pricer, logger)

	srv := &server{
		store:      st,
		market:     market,
		benchmarks: benchmarks,
		portfolios: portfolios,
		logger:     logger,
	}
	mux := http.NewServeMux()
	srv.routes(mux)

	// Optional nightly refresh keeps the store's daily rows covering
	// yesterday so morning page loads are cache hits.
	var scheduler *cron.Cron
	if cfg.Refresh.Cron != "" && len(cfg.Refresh.Symbols) > 0 {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Refresh.Cron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			for _, sym := range cfg.Refresh.Symbols {
				if _, err := market.Resolve(ctx, sym, 365); err != nil {
					logger.Warn().Str("symbol", sym).Err(err).Msg("scheduled refresh failed")
				}
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Str("cron", cfg.Refresh.Cron).Msg("invalid refresh schedule")
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info().Str("cron", cfg.Refresh.Cron).Int("symbols", len(cfg.Refresh.Symbols)).Msg("refresh scheduled")
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server")
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// buildProviders assembles the chain in fixed priority order:
// yahoo -> alphavantage -> finnhub.
func buildProviders(cfg config.Config, logger *log.Logger) ([]provider.Provider, map[string]time.Duration) {
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var providers []provider.Provider
	intervals := make(map[string]time.Duration)

	if cfg.Yahoo.Enabled {
		p := yahoochart.New(yahoochart.Config{Endpoint: cfg.Yahoo.Endpoint}, httpClient)
		providers = append(providers, p)
		intervals[p.Name()] = time.Duration(cfg.Yahoo.MinIntervalSec) * time.Second
	}
	if cfg.AlphaVantage.Enabled {
		if cfg.AlphaVantage.APIKey == "" {
			logger.Warn().Msg("alphavantage.enabled=true but ALPHAVANTAGE_KEY not set; skipping")
		} else {
			client, err := alphavantage.NewAPIClient(cfg.AlphaVantage.APIKey,
				alphavantage.WithHTTPClient(httpClient.HTTP))
			if err != nil {
				logger.Warn().Err(err).Msg("alphavantage client error; skipping")
			} else {
				p := alphavantage.New(alphavantage.Config{}, client)
				providers = append(providers, p)
				intervals[p.Name()] = time.Duration(cfg.AlphaVantage.MinIntervalSec) * time.Second
			}
		}
	}
	if cfg.Finnhub.Enabled {
		if cfg.Finnhub.APIKey == "" {
			logger.Warn().Msg("finnhub.enabled=true but FINNHUB_KEY not set; skipping")
		} else {
			p := finnhub.New(finnhub.Config{Endpoint: cfg.Finnhub.Endpoint, APIKey: cfg.Finnhub.APIKey}, httpClient)
			providers = append(providers, p)
			intervals[p.Name()] = time.Duration(cfg.Finnhub.MinIntervalSec) * time.Second
		}
	}
	return providers, intervals
}
