package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvestor/internal/benchmark"
	"finvestor/internal/marketdata"
	"finvestor/internal/portfolio"
	"finvestor/internal/pricing"
	"finvestor/internal/provider"
	"finvestor/internal/store"
)

type fakeMarket struct {
	result marketdata.Result
	err    error
}

func (f *fakeMarket) Resolve(context.Context, string, int) (marketdata.Result, error) {
	return f.result, f.err
}

type fakeBenchmarks struct {
	entries []benchmark.Entry
}

func (f *fakeBenchmarks) Resolve(context.Context) []benchmark.Entry { return f.entries }

func newTestServer(t *testing.T, market marketResolver, benchmarks benchmarkResolver) (*server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := log.Logger{Level: log.PanicLevel}
	srv := &server{
		store:      st,
		market:     market,
		benchmarks: benchmarks,
		portfolios: portfolio.New(st, pricing.New(st, 10), logger),
		logger:     logger,
	}
	return srv, st
}

func doRequest(t *testing.T, srv *server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	srv.routes(mux)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestHandleDataSuccess(t *testing.T) {
	pe := 31.2
	market := &fakeMarket{result: marketdata.Result{
		Symbol: "AAPL",
		Quotes: []provider.Quote{
			{Symbol: "AAPL", Date: day("2025-09-30"), Open: 253.5, High: 255.9, Low: 252.8, Close: 254.63, Volume: 38500000},
			{Symbol: "AAPL", Date: day("2025-10-01"), Open: 254.8, High: 258.1, Low: 254.1, Close: 257.13, Volume: 44200000},
		},
		QuoteSource:  "yahoo",
		Fundamentals: &provider.Fundamentals{Symbol: "AAPL", PERatio: &pe, Source: "yahoo"},
	}}
	srv, _ := newTestServer(t, market, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodGet, "/api/data/aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Symbol string `json:"symbol"`
		Latest struct {
			Close     float64 `json:"close"`
			PrevClose float64 `json:"prevClose"`
		} `json:"latest"`
		OHLC         [][6]float64           `json:"ohlc"`
		Fundamentals map[string]any         `json:"fundamentals"`
		Source       string                 `json:"source"`
		FromCache    bool                   `json:"from_cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Symbol, "path symbol is upper-cased")
	assert.Equal(t, 257.13, resp.Latest.Close)
	assert.Equal(t, 254.63, resp.Latest.PrevClose)
	require.Len(t, resp.OHLC, 2)
	assert.Equal(t, float64(day("2025-09-30").UnixMilli()), resp.OHLC[0][0])
	assert.Equal(t, 254.63, resp.OHLC[0][4])
	assert.Equal(t, float64(38500000), resp.OHLC[0][5])
	assert.Equal(t, "yahoo", resp.Source)
	assert.Equal(t, 31.2, resp.Fundamentals["pe_ratio"])
}

func TestHandleDataExhaustedIs404(t *testing.T) {
	market := &fakeMarket{err: errors.New("daily FAKESYM: all providers failed")}
	srv, _ := newTestServer(t, market, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodGet, "/api/data/FAKESYM", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no data for FAKESYM")
}

func TestHandleDataInvalidRange(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	for _, q := range []string{"range_days=0", "range_days=-5", "range_days=9999", "range_days=abc"} {
		rec := doRequest(t, srv, http.MethodGet, "/api/data/AAPL?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleBenchmarksPartialSuccess(t *testing.T) {
	benchmarks := &fakeBenchmarks{entries: []benchmark.Entry{
		{Symbol: "SPY", Name: "S&P 500", LastBusinessDay: "2025-10-01", Close: 668.45, PreviousClose: 660, Change: 8.45, ChangePct: 1.28},
		{Symbol: "QQQ", Error: "all providers failed"},
		{Symbol: "DIA", Name: "Dow Jones", LastBusinessDay: "2025-10-01", Close: 465, PreviousClose: 463.1, Change: 1.9, ChangePct: 0.41},
	}}
	srv, _ := newTestServer(t, &fakeMarket{}, benchmarks)

	rec := doRequest(t, srv, http.MethodGet, "/api/benchmarks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, 668.45, entries[0]["close"])
	assert.NotContains(t, entries[0], "error")
	assert.Equal(t, "all providers failed", entries[1]["error"])
	assert.NotContains(t, entries[1], "close", "failed entries carry no stale numbers")
}

func TestHandleSearchEchoesUnknownSymbol(t *testing.T) {
	srv, st := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})
	require.NoError(t, st.UpsertTicker(store.Ticker{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ"}))

	rec := doRequest(t, srv, http.MethodGet, "/api/search?q=apple", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []store.Ticker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0].Symbol)

	rec = doRequest(t, srv, http.MethodGet, "/api/search?q=zzsym", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1, "unknown queries echo the raw symbol")
	assert.Equal(t, "ZZSYM", rows[0].Symbol)

	rec = doRequest(t, srv, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistFlow(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/watchlists", `{"name":"Tech"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var wl store.Watchlist
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wl))
	require.NotEmpty(t, wl.ID)

	rec = doRequest(t, srv, http.MethodPost, "/api/watchlists/"+wl.ID+"/symbols", `{"symbol":"aapl"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/watchlists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var lists []store.Watchlist
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lists))
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"AAPL"}, lists[0].Symbols)

	rec = doRequest(t, srv, http.MethodDelete, "/api/watchlists/"+wl.ID+"/symbols/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodDelete, "/api/watchlists/"+wl.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateWatchlistValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/watchlists", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/api/watchlists", `{"unknown":"field"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertHoldingAutoPrices(t *testing.T) {
	srv, st := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})
	require.NoError(t, st.UpsertQuotes([]provider.Quote{
		{Symbol: "AAPL", Date: day("2025-06-02"), Close: 254.63},
	}))

	rec := doRequest(t, srv, http.MethodPost, "/api/portfolios", `{"name":"Main","inception_date":"2024-01-02"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p store.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	rec = doRequest(t, srv, http.MethodPost, "/api/portfolios/"+p.ID+"/holdings",
		`{"symbol":"AAPL","qty":10,"as_of":"2025-06-02"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var h store.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, 254.63, h.AvgCost)
	assert.True(t, h.AutoPriced)
}

func TestUpsertHoldingPricingUnavailableIs422(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/portfolios", `{"name":"Main"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p store.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	// No quotes in the store at all, so auto-pricing cannot succeed.
	rec = doRequest(t, srv, http.MethodPost, "/api/portfolios/"+p.ID+"/holdings",
		`{"symbol":"AAPL","qty":10,"as_of":"2020-01-01"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp["symbol"])
	assert.Equal(t, "2020-01-01", resp["target_date"])
	assert.Equal(t, float64(10), resp["days_searched"])
	assert.NotEmpty(t, resp["error"])
}

func TestUpsertHoldingManualCostSkipsPricing(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/portfolios", `{"name":"Main"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p store.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	// Store is empty, but a manual avg_cost needs no historical close.
	rec = doRequest(t, srv, http.MethodPost, "/api/portfolios/"+p.ID+"/holdings",
		`{"symbol":"VTI","qty":12.5,"avg_cost":301.44,"as_of":"2020-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var h store.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, 301.44, h.AvgCost)
	assert.False(t, h.AutoPriced)
}

func TestUpsertHoldingUnknownPortfolioIs404(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/portfolios/nope/holdings",
		`{"symbol":"AAPL","qty":10,"avg_cost":100}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertHoldingValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})

	rec := doRequest(t, srv, http.MethodPost, "/api/portfolios/x/holdings", `{"symbol":"","qty":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/api/portfolios/x/holdings", `{"symbol":"AAPL","qty":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/api/portfolios/x/holdings", `{"symbol":"AAPL","qty":1,"as_of":"junk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeMarket{}, &fakeBenchmarks{})
	rec := doRequest(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
