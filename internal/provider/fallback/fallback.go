// Package fallback orchestrates the provider chain: try each provider
// in a fixed priority order, rate-limit gated, and return the first
// success together with its provenance. Priority is deliberately
// non-adaptive; providers' relative reliability shifts too slowly to
// justify dynamic ranking.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"finvestor/internal/provider"
	"finvestor/internal/provider/ratelimit"
)

// Attempt records one provider try within a resolution call. The trail
// is diagnostic only and never persisted.
type Attempt struct {
	Provider string    `json:"provider"`
	OK       bool      `json:"ok"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// ExhaustedError is the terminal failure for one resolution call: every
// provider in the chain failed. Callers treat it as "no data for this
// symbol", not as a system fault.
type ExhaustedError struct {
	Op       string
	Symbol   string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Detail))
	}
	return fmt.Sprintf("%s %s: all providers failed: %s", e.Op, e.Symbol, strings.Join(parts, "; "))
}

// Resolver holds the ordered provider chain.
type Resolver struct {
	providers   []provider.Provider
	gate        *ratelimit.Gate
	callTimeout time.Duration
	logger      log.Logger
}

func New(providers []provider.Provider, gate *ratelimit.Gate, callTimeout time.Duration, logger log.Logger) *Resolver {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Resolver{providers: providers, gate: gate, callTimeout: callTimeout, logger: logger}
}

// Daily resolves daily OHLCV bars for symbol. A provider returning zero
// bars counts as a failure and fallthrough continues.
func (r *Resolver) Daily(ctx context.Context, symbol string, rangeDays int) ([]provider.Quote, string, error) {
	var quotes []provider.Quote
	source, err := r.resolve(ctx, "daily", symbol, func(ctx context.Context, p provider.Provider) (int, error) {
		qs, err := p.FetchDaily(ctx, symbol, rangeDays)
		if err != nil {
			return 0, err
		}
		quotes = qs
		return len(qs), nil
	})
	if err != nil {
		return nil, "", err
	}
	return quotes, source, nil
}

// Fundamentals resolves a fundamentals snapshot for symbol. Missing
// individual fields are not failures; only a failed call is.
func (r *Resolver) Fundamentals(ctx context.Context, symbol string) (provider.Fundamentals, string, error) {
	var snap provider.Fundamentals
	source, err := r.resolve(ctx, "fundamentals", symbol, func(ctx context.Context, p provider.Provider) (int, error) {
		f, err := p.FetchFundamentals(ctx, symbol)
		if err != nil {
			return 0, err
		}
		snap = f
		return 1, nil
	})
	if err != nil {
		return provider.Fundamentals{}, "", err
	}
	snap.Source = source
	return snap, source, nil
}

// resolve walks the chain in order. call returns the number of records
// it produced; zero is treated as a provider failure so a technically
// successful empty payload still falls through.
func (r *Resolver) resolve(ctx context.Context, op, symbol string, call func(context.Context, provider.Provider) (int, error)) (string, error) {
	attempts := make([]Attempt, 0, len(r.providers))
	for _, p := range r.providers {
		if err := r.gate.Acquire(ctx, p.Name()); err != nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Detail: "rate limit wait: " + err.Error(), At: time.Now().UTC()})
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		n, err := call(callCtx, p)
		cancel()
		switch {
		case err != nil:
			attempts = append(attempts, Attempt{Provider: p.Name(), Detail: err.Error(), At: time.Now().UTC()})
			r.logger.Warn().Str("op", op).Str("symbol", symbol).Str("provider", p.Name()).Err(err).Msg("provider failed, falling through")
		case n == 0:
			attempts = append(attempts, Attempt{Provider: p.Name(), Detail: "empty result", At: time.Now().UTC()})
			r.logger.Warn().Str("op", op).Str("symbol", symbol).Str("provider", p.Name()).Msg("empty result, falling through")
		default:
			attempts = append(attempts, Attempt{Provider: p.Name(), OK: true, At: time.Now().UTC()})
			r.logger.Info().Str("op", op).Str("symbol", symbol).Str("provider", p.Name()).Int("records", n).Msg("resolved")
			return p.Name(), nil
		}
	}
	return "", &ExhaustedError{Op: op, Symbol: symbol, Attempts: attempts}
}
