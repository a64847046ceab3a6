package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"finvestor/internal/benchmark"
	"finvestor/internal/marketdata"
	"finvestor/internal/pricing"
	"finvestor/internal/portfolio"
	"finvestor/internal/provider"
	"finvestor/internal/store"
)

// marketResolver matches *marketdata.Service; narrowed for handler tests.
type marketResolver interface {
	Resolve(ctx context.Context, symbol string, rangeDays int) (marketdata.Result, error)
}

type benchmarkResolver interface {
	Resolve(ctx context.Context) []benchmark.Entry
}

type server struct {
	store      *store.Store
	market     marketResolver
	benchmarks benchmarkResolver
	portfolios *portfolio.Service
	logger     log.Logger
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/benchmarks", s.handleBenchmarks)
	mux.HandleFunc("GET /api/data/{symbol}", s.handleData)

	mux.HandleFunc("GET /api/watchlists", s.handleListWatchlists)
	mux.HandleFunc("POST /api/watchlists", s.handleCreateWatchlist)
	mux.HandleFunc("DELETE /api/watchlists/{id}", s.handleDeleteWatchlist)
	mux.HandleFunc("POST /api/watchlists/{id}/symbols", s.handleAddWatchlistSymbol)
	mux.HandleFunc("DELETE /api/watchlists/{id}/symbols/{symbol}", s.handleRemoveWatchlistSymbol)

	mux.HandleFunc("GET /api/portfolios", s.handleListPortfolios)
	mux.HandleFunc("POST /api/portfolios", s.handleCreatePortfolio)
	mux.HandleFunc("DELETE /api/portfolios/{id}", s.handleDeletePortfolio)
	mux.HandleFunc("GET /api/portfolios/{id}/holdings", s.handleListHoldings)
	mux.HandleFunc("POST /api/portfolios/{id}/holdings", s.handleUpsertHolding)
	mux.HandleFunc("DELETE /api/portfolios/{id}/holdings/{symbol}", s.handleDeleteHolding)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		httpError(w, http.StatusBadRequest, "missing q query param")
		return
	}
	rows, err := s.store.SearchTickers(q, 25)
	if err != nil {
		s.logger.Error().Err(err).Msg("ticker search failed")
		httpError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if len(rows) == 0 {
		// Echo the raw symbol so the UI can still offer it.
		rows = []store.Ticker{{Symbol: strings.ToUpper(q), Name: strings.ToUpper(q)}}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.benchmarks.Resolve(r.Context()))
}

// dataResponse mirrors the chart payload the UI consumes: OHLCV
// 6-tuples oldest-first plus latest/previous close and fundamentals.
type dataResponse struct {
	Symbol       string                `json:"symbol"`
	Latest       latestBlock           `json:"latest"`
	OHLC         [][6]float64          `json:"ohlc"`
	Fundamentals *provider.Fundamentals `json:"fundamentals"`
	Source       string                `json:"source"`
	FromCache    bool                  `json:"from_cache"`
}

type latestBlock struct {
	Close     float64 `json:"close"`
	PrevClose float64 `json:"prevClose"`
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	rangeDays := 365
	if v := r.URL.Query().Get("range_days"); v != "" {
		x, err := strconv.Atoi(v)
		if err != nil || x <= 0 || x > 2*365 {
			httpError(w, http.StatusBadRequest, "invalid range_days")
			return
		}
		rangeDays = x
	}

	res, err := s.market.Resolve(r.Context(), symbol, rangeDays)
	if err != nil {
		// Exhausted chains are a per-symbol "no data" condition, not a
		// server fault.
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("market data unavailable")
		httpError(w, http.StatusNotFound, "no data for "+symbol)
		return
	}

	resp := dataResponse{
		Symbol:       symbol,
		OHLC:         make([][6]float64, 0, len(res.Quotes)),
		Fundamentals: res.Fundamentals,
		Source:       res.QuoteSource,
		FromCache:    res.FromCache,
	}
	for _, q := range res.Quotes {
		resp.OHLC = append(resp.OHLC, q.Tuple())
	}
	if n := len(res.Quotes); n > 0 {
		resp.Latest.Close = res.Quotes[n-1].Close
		resp.Latest.PrevClose = resp.Latest.Close
		if n > 1 {
			resp.Latest.PrevClose = res.Quotes[n-2].Close
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type watchlistRequest struct {
	Name string `json:"name"`
}

func (s *server) handleListWatchlists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.Watchlists()
	if err != nil {
		s.logger.Error().Err(err).Msg("list watchlists failed")
		httpError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if lists == nil {
		lists = []store.Watchlist{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (s *server) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		httpError(w, http.StatusBadRequest, "name is required")
		return
	}
	wl := store.Watchlist{ID: uuid.NewString(), Name: req.Name, CreatedAt: time.Now().UTC(), Symbols: []string{}}
	if err := s.store.CreateWatchlist(wl); err != nil {
		s.logger.Error().Err(err).Msg("create watchlist failed")
		httpError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (s *server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWatchlist(r.PathValue("id")); err != nil {
		s.logger.Error().Err(err).Msg("delete watchlist failed")
		httpError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *server) handleAddWatchlistSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Symbol) == "" {
		httpError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if err := s.store.AddWatchlistSymbol(r.PathValue("id"), strings.ToUpper(req.Symbol)); err != nil {
		s.logger.Error().Err(err).Msg("add watchlist symbol failed")
		httpError(w, http.StatusInternalServerError, "add failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleRemoveWatchlistSymbol(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveWatchlistSymbol(r.PathValue("id"), strings.ToUpper(r.PathValue("symbol"))); err != nil {
		s.logger.Error().Err(err).Msg("remove watchlist symbol failed")
		httpError(w, http.StatusInternalServerError, "remove failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type portfolioRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	InceptionDate string `json:"inception_date"`
}

func (s *server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := s.portfolios.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("list portfolios failed")
		httpError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []store.Portfolio{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		httpError(w, http.StatusBadRequest, "name is required")
		return
	}
	var inception time.Time
	if req.InceptionDate != "" {
		var err error
		if inception, err = time.Parse("2006-01-02", req.InceptionDate); err != nil {
			httpError(w, http.StatusBadRequest, "invalid inception_date")
			return
		}
	}
	p, err := s.portfolios.Create(req.Name, req.Description, inception)
	if err != nil {
		s.logger.Error().Err(err).Msg("create portfolio failed")
		httpError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolios.Delete(r.PathValue("id")); err != nil {
		s.logger.Error().Err(err).Msg("delete portfolio failed")
		httpError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.portfolios.Holdings(r.PathValue("id"))
	if err != nil {
		s.logger.Error().Err(err).Msg("list holdings failed")
		httpError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if holdings == nil {
		holdings = []store.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

type holdingRequest struct {
	Symbol  string   `json:"symbol"`
	Qty     float64  `json:"qty"`
	AvgCost *float64 `json:"avg_cost"`
	AsOf    string   `json:"as_of"`
}

func (s *server) handleUpsertHolding(w http.ResponseWriter, r *http.Request) {
	var req holdingRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Symbol) == "" || req.Qty <= 0 {
		httpError(w, http.StatusBadRequest, "symbol and positive qty are required")
		return
	}
	var asOf time.Time
	if req.AsOf != "" {
		var err error
		if asOf, err = time.Parse("2006-01-02", req.AsOf); err != nil {
			httpError(w, http.StatusBadRequest, "invalid as_of")
			return
		}
	}

	h, err := s.portfolios.AddHolding(r.PathValue("id"), strings.ToUpper(req.Symbol), req.Qty, req.AvgCost, asOf)
	if err != nil {
		var unavailable *pricing.UnavailableError
		switch {
		case errors.Is(err, portfolio.ErrNotFound):
			httpError(w, http.StatusNotFound, "portfolio not found")
		case errors.As(err, &unavailable):
			// User-correctable: ask for a manual cost basis or a
			// different date rather than retrying.
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":         unavailable.Error(),
				"symbol":        unavailable.Symbol,
				"target_date":   unavailable.TargetDate.Format("2006-01-02"),
				"days_searched": unavailable.DaysSearched,
			})
		default:
			s.logger.Error().Err(err).Msg("upsert holding failed")
			httpError(w, http.StatusInternalServerError, "upsert failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *server) handleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolios.RemoveHolding(r.PathValue("id"), strings.ToUpper(r.PathValue("symbol"))); err != nil {
		s.logger.Error().Err(err).Msg("delete holding failed")
		httpError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
