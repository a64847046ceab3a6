// Package pricing resolves a holding's cost basis from persisted daily
// closes. It never calls providers: auto-pricing works purely against
// data already in the store.
package pricing

import (
	"fmt"
	"time"

	"finvestor/internal/provider"
)

// DefaultLookbackDays bounds the backward search in calendar days.
// Weekends and holidays count toward the bound.
const DefaultLookbackDays = 10

// UnavailableError means no persisted close exists on the target date
// or within the lookback window before it. It is user-correctable
// (supply a manual cost basis or pick another date), never transient.
type UnavailableError struct {
	Symbol       string
	TargetDate   time.Time
	DaysSearched int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no close for %s on %s or the %d prior days",
		e.Symbol, e.TargetDate.Format("2006-01-02"), e.DaysSearched)
}

// QuoteStore is the slice of persistence the resolver needs.
type QuoteStore interface {
	QuoteOn(symbol string, date time.Time) (provider.Quote, bool, error)
}

// Price is a resolved historical close. Exact is false when the close
// came from a prior trading day within the lookback window; that is
// informational, not an error.
type Price struct {
	Symbol       string    `json:"symbol"`
	Close        float64   `json:"close"`
	TargetDate   time.Time `json:"target_date"`
	ResolvedDate time.Time `json:"resolved_date"`
	Exact        bool      `json:"exact"`
}

type Resolver struct {
	store        QuoteStore
	lookbackDays int
	now          func() time.Time
}

func New(store QuoteStore, lookbackDays int) *Resolver {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Resolver{store: store, lookbackDays: lookbackDays, now: time.Now}
}

// Resolve returns the close for symbol on target, walking backward one
// calendar day at a time when the exact date is missing. The search
// only ever goes backward: a cost basis must never come from a date
// after the stated acquisition. A zero target means today.
func (r *Resolver) Resolve(symbol string, target time.Time) (Price, error) {
	if target.IsZero() {
		target = r.now()
	}
	target = provider.Day(target)

	for back := 0; back <= r.lookbackDays; back++ {
		day := target.AddDate(0, 0, -back)
		q, ok, err := r.store.QuoteOn(symbol, day)
		if err != nil {
			return Price{}, err
		}
		if ok {
			return Price{
				Symbol:       symbol,
				Close:        q.Close,
				TargetDate:   target,
				ResolvedDate: day,
				Exact:        back == 0,
			}, nil
		}
	}
	return Price{}, &UnavailableError{Symbol: symbol, TargetDate: target, DaysSearched: r.lookbackDays}
}
