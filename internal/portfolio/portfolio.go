// Package portfolio manages portfolios and their holdings. Its one
// piece of real logic is auto-pricing: a holding added without a cost
// basis gets one from historical closing data and is marked auto_priced.
package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"finvestor/internal/pricing"
	"finvestor/internal/provider"
	"finvestor/internal/store"
)

// Store is the slice of persistence this service needs.
type Store interface {
	CreatePortfolio(store.Portfolio) error
	Portfolio(id string) (store.Portfolio, bool, error)
	Portfolios() ([]store.Portfolio, error)
	DeletePortfolio(id string) error
	UpsertHolding(store.Holding) error
	Holdings(portfolioID string) ([]store.Holding, error)
	DeleteHolding(portfolioID, symbol string) error
}

// Pricer resolves a historical close for auto-pricing.
type Pricer interface {
	Resolve(symbol string, target time.Time) (pricing.Price, error)
}

// ErrNotFound is returned when the referenced portfolio does not exist.
var ErrNotFound = fmt.Errorf("portfolio not found")

type Service struct {
	store  Store
	pricer Pricer
	logger log.Logger
}

func New(st Store, pricer Pricer, logger log.Logger) *Service {
	return &Service{store: st, pricer: pricer, logger: logger}
}

func (s *Service) Create(name, description string, inception time.Time) (store.Portfolio, error) {
	if inception.IsZero() {
		inception = time.Now()
	}
	p := store.Portfolio{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   description,
		InceptionDate: provider.Day(inception),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreatePortfolio(p); err != nil {
		return store.Portfolio{}, err
	}
	s.logger.Info().Str("portfolio", p.ID).Str("name", name).Msg("portfolio created")
	return p, nil
}

func (s *Service) List() ([]store.Portfolio, error) { return s.store.Portfolios() }

func (s *Service) Delete(id string) error { return s.store.DeletePortfolio(id) }

func (s *Service) Holdings(portfolioID string) ([]store.Holding, error) {
	return s.store.Holdings(portfolioID)
}

func (s *Service) RemoveHolding(portfolioID, symbol string) error {
	return s.store.DeleteHolding(portfolioID, symbol)
}

// AddHolding inserts or updates a position. When avgCost is nil the
// cost basis is resolved from the close on asOf (or the nearest prior
// trading day) and the holding is marked auto_priced; a
// *pricing.UnavailableError propagates to the caller unchanged so the
// API layer can ask the user to supply a cost basis manually.
func (s *Service) AddHolding(portfolioID, symbol string, qty float64, avgCost *float64, asOf time.Time) (store.Holding, error) {
	_, ok, err := s.store.Portfolio(portfolioID)
	if err != nil {
		return store.Holding{}, err
	}
	if !ok {
		return store.Holding{}, ErrNotFound
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}

	h := store.Holding{
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Qty:         qty,
		AsOfDate:    provider.Day(asOf),
	}
	if avgCost != nil {
		h.AvgCost = *avgCost
	} else {
		price, err := s.pricer.Resolve(symbol, asOf)
		if err != nil {
			return store.Holding{}, err
		}
		h.AvgCost = price.Close
		h.AutoPriced = true
		if !price.Exact {
			s.logger.Info().Str("symbol", symbol).
				Str("target", price.TargetDate.Format("2006-01-02")).
				Str("resolved", price.ResolvedDate.Format("2006-01-02")).
				Msg("cost basis resolved from a prior trading day")
		}
	}
	if err := s.store.UpsertHolding(h); err != nil {
		return store.Holding{}, err
	}
	return h, nil
}
