package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Database struct {
	Path string `json:"path"`
}

type Yahoo struct {
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint"`
	MinIntervalSec int    `json:"min_interval_sec"`
}

type AlphaVantage struct {
	Enabled        bool   `json:"enabled"`
	APIKey         string `json:"api_key"`
	MinIntervalSec int    `json:"min_interval_sec"`
}

type Finnhub struct {
	Enabled        bool   `json:"enabled"`
	APIKey         string `json:"api_key"`
	Endpoint       string `json:"endpoint"`
	MinIntervalSec int    `json:"min_interval_sec"`
}

type Benchmarks struct {
	Symbols    []string `json:"symbols"`
	TTLSeconds int      `json:"ttl_sec"`
}

type Pricing struct {
	// LookbackDays bounds the auto-pricing backward search, in calendar
	// days (weekends and holidays count).
	LookbackDays int `json:"lookback_days"`
}

type MarketData struct {
	FundamentalsTTLHours int `json:"fundamentals_ttl_hours"`
	ProviderTimeoutSec   int `json:"provider_timeout_sec"`
}

type Refresh struct {
	// Cron schedules a nightly re-fetch for the listed symbols; empty
	// disables it.
	Cron    string   `json:"cron"`
	Symbols []string `json:"symbols"`
}

type Config struct {
	Server       Server       `json:"server"`
	Database     Database     `json:"database"`
	Yahoo        Yahoo        `json:"yahoo"`
	AlphaVantage AlphaVantage `json:"alphavantage"`
	Finnhub      Finnhub      `json:"finnhub"`
	Benchmarks   Benchmarks   `json:"benchmarks"`
	Pricing      Pricing      `json:"pricing"`
	MarketData   MarketData   `json:"market_data"`
	Refresh      Refresh      `json:"refresh"`
	LogLevel     string       `json:"log_level"`
}

func Default() Config {
	return Config{
		Server:   Server{Port: "8080", RequestTimeoutSec: 15},
		Database: Database{Path: "finvestor.db"},
		Yahoo: Yahoo{
			Enabled:        true,
			MinIntervalSec: 1,
		},
		AlphaVantage: AlphaVantage{
			Enabled:        true,
			MinIntervalSec: 12, // free tier: 5 requests/minute
		},
		Finnhub: Finnhub{
			Enabled:        true,
			MinIntervalSec: 1,
		},
		Benchmarks: Benchmarks{
			Symbols:    []string{"SPY", "QQQ", "DIA"},
			TTLSeconds: 60,
		},
		Pricing:    Pricing{LookbackDays: 10},
		MarketData: MarketData{FundamentalsTTLHours: 24, ProviderTimeoutSec: 10},
		LogLevel:   "info",
	}
}

// Load reads JSON config from path. If path is empty or the file does
// not exist, it returns defaults. Environment variables override select
// fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ALPHAVANTAGE_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("FINNHUB_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("YAHOO_MIN_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Yahoo.MinIntervalSec = x
		}
	}
	if v := os.Getenv("ALPHAVANTAGE_MIN_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.AlphaVantage.MinIntervalSec = x
		}
	}
	if v := os.Getenv("FINNHUB_MIN_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Finnhub.MinIntervalSec = x
		}
	}
	if v := os.Getenv("BENCHMARK_SYMBOLS"); v != "" {
		cfg.Benchmarks.Symbols = splitCSV(v)
	}
	if v := os.Getenv("BENCHMARK_TTL_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Benchmarks.TTLSeconds = x
		}
	}
	if v := os.Getenv("PRICING_LOOKBACK_DAYS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Pricing.LookbackDays = x
		}
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		cfg.Refresh.Cron = v
	}
	if v := os.Getenv("REFRESH_SYMBOLS"); v != "" {
		cfg.Refresh.Symbols = splitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func atoi(s string) int {
	var x int
	fmt.Sscanf(s, "%d", &x)
	return x
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
