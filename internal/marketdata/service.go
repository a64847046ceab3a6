// Package marketdata is the cached resolution service: persisted quotes
// and fundamentals are consulted before any network call, and misses go
// through the provider fallback chain exactly once per symbol at a time.
package marketdata

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"

	"finvestor/internal/provider"
)

// SourceCache is the provenance value for data served without touching
// any provider.
const SourceCache = "cache"

// Store is the narrow persistence interface the service depends on.
type Store interface {
	UpsertQuotes([]provider.Quote) error
	Quotes(symbol string, from, to time.Time) ([]provider.Quote, error)
	QuoteSpan(symbol string) (first, last time.Time, n int, err error)
	UpsertFundamentals(provider.Fundamentals) error
	Fundamentals(symbol string) (provider.Fundamentals, bool, error)
}

// Chain is the provider fallback resolver.
type Chain interface {
	Daily(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, string, error)
	Fundamentals(ctx context.Context, symbol string) (provider.Fundamentals, string, error)
}

// Result is a resolved market-data view for one symbol. Quotes are
// oldest-first. Fundamentals may be nil when every provider failed to
// produce a snapshot; that alone does not fail the resolution.
type Result struct {
	Symbol       string
	Quotes       []provider.Quote
	QuoteSource  string
	FromCache    bool
	Fundamentals *provider.Fundamentals
}

type Config struct {
	// FundamentalsTTL is the wall-clock age after which a persisted
	// snapshot is refetched. Defaults to 24h.
	FundamentalsTTL time.Duration
	// ListingGraceDays loosens the coverage check at the start of the
	// requested range so recently listed symbols are not refetched
	// forever. Defaults to 7.
	ListingGraceDays int
}

type Service struct {
	store  Store
	chain  Chain
	cfg    Config
	now    func() time.Time
	sf     singleflight.Group
	logger log.Logger
}

func New(store Store, chain Chain, cfg Config, logger log.Logger) *Service {
	if cfg.FundamentalsTTL <= 0 {
		cfg.FundamentalsTTL = 24 * time.Hour
	}
	if cfg.ListingGraceDays <= 0 {
		cfg.ListingGraceDays = 7
	}
	return &Service{store: store, chain: chain, cfg: cfg, now: time.Now, logger: logger}
}

// Resolve returns quotes for the trailing rangeDays plus the current
// fundamentals snapshot for symbol. Quotes and fundamentals are cached
// and refreshed independently.
func (s *Service) Resolve(ctx context.Context, symbol string, rangeDays int) (Result, error) {
	quotes, source, fromCache, err := s.resolveQuotes(ctx, symbol, rangeDays)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Symbol:      symbol,
		Quotes:      quotes,
		QuoteSource: source,
		FromCache:   fromCache,
	}
	if f, ok := s.resolveFundamentals(ctx, symbol); ok {
		res.Fundamentals = &f
	}
	return res, nil
}

func (s *Service) resolveQuotes(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, string, bool, error) {
	to := provider.Day(s.now())
	from := to.AddDate(0, 0, -rangeDays)

	covered, err := s.covered(symbol, from)
	if err != nil {
		return nil, "", false, err
	}
	if covered {
		quotes, err := s.store.Quotes(symbol, from, to)
		if err != nil {
			return nil, "", false, err
		}
		if len(quotes) > 0 {
			return quotes, SourceCache, true, nil
		}
	}

	// Miss: coalesce concurrent fetches for the same symbol so a burst
	// of requests costs one pass through the rate-limited chain.
	type fetched struct {
		quotes []provider.Quote
		source string
	}
	v, err, _ := s.sf.Do("daily:"+symbol, func() (any, error) {
		quotes, source, err := s.chain.Daily(ctx, symbol, rangeDays)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpsertQuotes(quotes); err != nil {
			return nil, err
		}
		return fetched{quotes, source}, nil
	})
	if err != nil {
		return nil, "", false, err
	}
	f := v.(fetched)

	// Serve from the store after the upsert so ordering and range
	// trimming are uniform with the cache-hit path.
	quotes, err := s.store.Quotes(symbol, from, to)
	if err != nil || len(quotes) == 0 {
		return f.quotes, f.source, false, err
	}
	return quotes, f.source, false, nil
}

// covered reports whether persisted rows already span the requested
// range: the newest row is no older than the last business day and the
// oldest reaches back to the range start (with listing grace). Daily
// rows are never refetched individually; historical prices don't change.
func (s *Service) covered(symbol string, from time.Time) (bool, error) {
	first, last, n, err := s.store.QuoteSpan(symbol)
	if err != nil || n == 0 {
		return false, err
	}
	if last.Before(lastBusinessDay(provider.Day(s.now()).AddDate(0, 0, -1))) {
		return false, nil
	}
	if first.After(from.AddDate(0, 0, s.cfg.ListingGraceDays)) {
		return false, nil
	}
	return true, nil
}

func (s *Service) resolveFundamentals(ctx context.Context, symbol string) (provider.Fundamentals, bool) {
	cached, ok, err := s.store.Fundamentals(symbol)
	if err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("fundamentals read failed")
		return provider.Fundamentals{}, false
	}
	if ok && s.now().Sub(cached.FetchedAt) < s.cfg.FundamentalsTTL {
		return cached, true
	}

	v, err, _ := s.sf.Do("fundamentals:"+symbol, func() (any, error) {
		f, _, err := s.chain.Fundamentals(ctx, symbol)
		if err != nil {
			return provider.Fundamentals{}, err
		}
		if err := s.store.UpsertFundamentals(f); err != nil {
			return provider.Fundamentals{}, err
		}
		return f, nil
	})
	if err != nil {
		// A stale snapshot beats no snapshot when every provider is down.
		if ok {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("fundamentals refresh failed, serving stale")
			return cached, true
		}
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("fundamentals unavailable")
		return provider.Fundamentals{}, false
	}
	return v.(provider.Fundamentals), true
}

// lastBusinessDay steps d back to the nearest weekday.
func lastBusinessDay(d time.Time) time.Time {
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
