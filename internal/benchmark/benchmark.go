// Package benchmark serves the home-view benchmark strip: a small fixed
// set of index ETFs with last-close movement, cached process-wide for a
// short TTL so concurrent page loads don't hammer the providers.
package benchmark

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"finvestor/internal/marketdata"
)

// DefaultSymbols is the benchmark strip. Order is presentation order.
var DefaultSymbols = []string{"SPY", "QQQ", "DIA"}

var names = map[string]string{
	"SPY": "S&P 500",
	"QQQ": "Nasdaq 100",
	"DIA": "Dow Jones",
}

// Entry is one symbol's strip cell: either a success payload or an
// error message, never both. Entries are independent per symbol so one
// exhausted fallback chain cannot blank the whole strip.
type Entry struct {
	Symbol          string
	Name            string
	LastBusinessDay string
	Close           float64
	PreviousClose   float64
	Change          float64
	ChangePct       float64
	Error           string
}

// MarshalJSON emits the either-or wire shape: {symbol, error} for
// failures, the full payload otherwise.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Error != "" {
		return json.Marshal(struct {
			Symbol string `json:"symbol"`
			Error  string `json:"error"`
		}{e.Symbol, e.Error})
	}
	return json.Marshal(struct {
		Symbol          string  `json:"symbol"`
		Name            string  `json:"name"`
		LastBusinessDay string  `json:"last_business_day"`
		Close           float64 `json:"close"`
		PreviousClose   float64 `json:"previous_close"`
		Change          float64 `json:"change"`
		ChangePct       float64 `json:"change_pct"`
	}{e.Symbol, e.Name, e.LastBusinessDay, e.Close, e.PreviousClose, e.Change, e.ChangePct})
}

// MarketData resolves quotes for one symbol through the cached fallback
// pipeline.
type MarketData interface {
	Resolve(ctx context.Context, symbol string, rangeDays int) (marketdata.Result, error)
}

type cached struct {
	at    time.Time
	entry Entry
}

// Cache is the process-wide benchmark cache. It is owned by the
// composition root and shared by reference; the TTL is checked lazily
// on access, there is no refresh timer.
type Cache struct {
	md      MarketData
	symbols []string
	ttl     time.Duration
	now     func() time.Time
	logger  log.Logger

	mu      sync.Mutex
	entries map[string]cached
}

func New(md MarketData, symbols []string, ttl time.Duration, logger log.Logger) *Cache {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{
		md:      md,
		symbols: symbols,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]cached),
	}
}

// Resolve returns one entry per configured symbol, in order. Stale or
// missing symbols are fetched concurrently; each symbol's outcome is
// captured independently and error entries are cached for the full TTL
// too, so a failing provider chain is not re-walked on every page load.
func (c *Cache) Resolve(ctx context.Context) []Entry {
	now := c.now()

	var missing []string
	c.mu.Lock()
	for _, sym := range c.symbols {
		if e, ok := c.entries[sym]; !ok || now.Sub(e.at) >= c.ttl {
			missing = append(missing, sym)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		fresh := make([]Entry, len(missing))
		var g errgroup.Group
		for i, sym := range missing {
			i, sym := i, sym
			g.Go(func() error {
				fresh[i] = c.fetch(ctx, sym)
				return nil
			})
		}
		_ = g.Wait()

		c.mu.Lock()
		for _, e := range fresh {
			c.entries[e.Symbol] = cached{at: now, entry: e}
		}
		c.mu.Unlock()
	}

	out := make([]Entry, 0, len(c.symbols))
	c.mu.Lock()
	for _, sym := range c.symbols {
		out = append(out, c.entries[sym].entry)
	}
	c.mu.Unlock()
	return out
}

func (c *Cache) fetch(ctx context.Context, symbol string) Entry {
	res, err := c.md.Resolve(ctx, symbol, 14)
	if err != nil {
		c.logger.Warn().Str("symbol", symbol).Err(err).Msg("benchmark fetch failed")
		return Entry{Symbol: symbol, Error: err.Error()}
	}
	quotes := res.Quotes
	if len(quotes) < 2 {
		c.logger.Warn().Str("symbol", symbol).Int("rows", len(quotes)).Msg("insufficient benchmark data")
		return Entry{Symbol: symbol, Error: "insufficient data"}
	}

	last := quotes[len(quotes)-1]
	prev := quotes[len(quotes)-2]
	change := last.Close - prev.Close
	changePct := 0.0
	if prev.Close != 0 {
		changePct = change / prev.Close * 100
	}
	return Entry{
		Symbol:          symbol,
		Name:            names[symbol],
		LastBusinessDay: last.Date.Format("2006-01-02"),
		Close:           round2(last.Close),
		PreviousClose:   round2(prev.Close),
		Change:          round2(change),
		ChangePct:       round2(changePct),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
