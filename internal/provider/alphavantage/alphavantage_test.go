package alphavantage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"finvestor/internal/provider"
	"finvestor/internal/provider/alphavantage"
)

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newMockedProvider(t *testing.T) (*alphavantage.Provider, *MockHTTPClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	client, err := alphavantage.NewAPIClient("demo", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)
	return alphavantage.New(alphavantage.Config{}, client), httpClient
}

// Bar dates are relative to now because the provider trims anything
// older than the requested range.
var (
	lastBar = provider.Day(time.Now()).AddDate(0, 0, -1)
	prevBar = provider.Day(time.Now()).AddDate(0, 0, -2)
)

func dailyBody() string {
	return fmt.Sprintf(`{
		"Time Series (Daily)": {
			%q: {"1. open": "254.80", "2. high": "258.10", "3. low": "254.10", "4. close": "257.13", "5. volume": "44200000"},
			%q: {"1. open": "253.50", "2. high": "255.90", "3. low": "252.80", "4. close": "254.63", "5. volume": "38500000"}
		}
	}`, lastBar.Format("2006-01-02"), prevBar.Format("2006-01-02"))
}

func TestFetchDailyParsesAndSortsBars(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "TIME_SERIES_DAILY", req.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", req.URL.Query().Get("symbol"))
		assert.Equal(t, "compact", req.URL.Query().Get("outputsize"))
		assert.Equal(t, "demo", req.URL.Query().Get("apikey"))
		return jsonResponse(dailyBody()), nil
	})

	quotes, err := p.FetchDaily(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, prevBar, quotes[0].Date, "bars are sorted oldest first")
	assert.Equal(t, 254.63, quotes[0].Close)
	assert.Equal(t, lastBar, quotes[1].Date)
	assert.Equal(t, int64(44200000), quotes[1].Volume)
}

func TestFetchDailyTrimsBarsOutsideRange(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	stale := provider.Day(time.Now()).AddDate(0, 0, -45)
	body := fmt.Sprintf(`{
		"Time Series (Daily)": {
			%q: {"1. open": "1", "2. high": "1", "3. low": "1", "4. close": "257.13", "5. volume": "1"},
			%q: {"1. open": "1", "2. high": "1", "3. low": "1", "4. close": "200.00", "5. volume": "1"}
		}
	}`, lastBar.Format("2006-01-02"), stale.Format("2006-01-02"))
	httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(body), nil)

	quotes, err := p.FetchDaily(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, lastBar, quotes[0].Date)
}

func TestFetchDailyFullOutputForLongRanges(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "full", req.URL.Query().Get("outputsize"))
		return jsonResponse(dailyBody()), nil
	})

	_, err := p.FetchDaily(context.Background(), "AAPL", 365)
	require.NoError(t, err)
}

func TestFetchDailyThrottleNoteIsRateLimited(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).
		Return(jsonResponse(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 5 requests per minute."}`), nil)

	_, err := p.FetchDaily(context.Background(), "AAPL", 30)
	require.Error(t, err)
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.RateLimited, perr.Kind)
	assert.Equal(t, "alphavantage", perr.Provider)
}

func TestFetchDailyErrorMessageIsNotFound(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).
		Return(jsonResponse(`{"Error Message": "Invalid API call. Please retry or visit the documentation."}`), nil)

	_, err := p.FetchDaily(context.Background(), "FAKESYM", 30)
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.NotFound, perr.Kind)
}

func TestFetchDailyEmptySeriesIsNotFound(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(`{}`), nil)

	_, err := p.FetchDaily(context.Background(), "FAKESYM", 30)
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.NotFound, perr.Kind)
}

func TestFetchDailyTransportErrorIsTimeout(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).Return(nil, errors.New("dial tcp: i/o timeout"))

	_, err := p.FetchDaily(context.Background(), "AAPL", 30)
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.Timeout, perr.Kind)
}

func TestFetchDailyMalformedBar(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	body := fmt.Sprintf(`{"Time Series (Daily)": {%q: {"1. open": "abc", "2. high": "1", "3. low": "1", "4. close": "1", "5. volume": "1"}}}`,
		lastBar.Format("2006-01-02"))
	httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(body), nil)

	_, err := p.FetchDaily(context.Background(), "AAPL", 30)
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.Malformed, perr.Kind)
}

func TestFetchFundamentalsParsesMetrics(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "OVERVIEW", req.URL.Query().Get("function"))
		return jsonResponse(`{
			"Symbol": "AAPL",
			"PERatio": "31.2",
			"MarketCapitalization": "3900000000000",
			"Beta": "1.21",
			"52WeekHigh": "260.10",
			"52WeekLow": "169.21"
		}`), nil
	})

	f, err := p.FetchFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", f.Symbol)
	assert.Equal(t, "alphavantage", f.Source)
	require.NotNil(t, f.PERatio)
	assert.Equal(t, 31.2, *f.PERatio)
	require.NotNil(t, f.MarketCap)
	assert.Equal(t, 3.9e12, *f.MarketCap)
	require.NotNil(t, f.Week52Low)
	assert.Equal(t, 169.21, *f.Week52Low)
}

func TestFetchFundamentalsNoneMetricsStayNil(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).
		Return(jsonResponse(`{"Symbol": "BRK.B", "PERatio": "None", "MarketCapitalization": "-", "Beta": ""}`), nil)

	f, err := p.FetchFundamentals(context.Background(), "BRK.B")
	require.NoError(t, err)
	assert.Nil(t, f.PERatio)
	assert.Nil(t, f.MarketCap)
	assert.Nil(t, f.Beta)
}

func TestFetchFundamentalsEmptyOverviewIsNotFound(t *testing.T) {
	p, httpClient := newMockedProvider(t)
	httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(`{}`), nil)

	_, err := p.FetchFundamentals(context.Background(), "FAKESYM")
	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, provider.NotFound, perr.Kind)
}
