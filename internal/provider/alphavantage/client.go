package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const baseURL = "https://www.alphavantage.co"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a client for the Alpha Vantage query API.
type APIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// query contains parameters sent with every request (api key).
	query url.Values
}

// APIClientOption is a configuration option for the Alpha Vantage client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// NewAPIClient creates a new Alpha Vantage API client.
func NewAPIClient(key string, options ...APIClientOption) (*APIClient, error) {
	var apiClient = &APIClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		query:      url.Values{},
	}
	if key != "" {
		// https://www.alphavantage.co/documentation/
		apiClient.query.Add("apikey", key)
	}
	for _, option := range options {
		option(apiClient)
	}
	return apiClient, nil
}

// DailySeriesResponse is the native TIME_SERIES_DAILY payload. A Note
// field signals free-tier throttling; ErrorMessage signals a bad symbol.
type DailySeriesResponse struct {
	Note         string              `json:"Note"`
	Information  string              `json:"Information"`
	ErrorMessage string              `json:"Error Message"`
	Series       map[string]DailyBar `json:"Time Series (Daily)"`
}

type DailyBar struct {
	Open   json.Number `json:"1. open"`
	High   json.Number `json:"2. high"`
	Low    json.Number `json:"3. low"`
	Close  json.Number `json:"4. close"`
	Volume json.Number `json:"5. volume"`
}

// OverviewResponse is the native OVERVIEW payload. Numeric fields come
// back as strings; absent metrics are "None" or "-".
type OverviewResponse struct {
	Note         string `json:"Note"`
	ErrorMessage string `json:"Error Message"`
	Symbol       string `json:"Symbol"`
	PERatio      string `json:"PERatio"`
	MarketCap    string `json:"MarketCapitalization"`
	Beta         string `json:"Beta"`
	Week52High   string `json:"52WeekHigh"`
	Week52Low    string `json:"52WeekLow"`
}

// DailySeries calls TIME_SERIES_DAILY for symbol. outputSize is
// "compact" (100 bars) or "full".
func (c *APIClient) DailySeries(ctx context.Context, symbol, outputSize string) (*DailySeriesResponse, error) {
	var out DailySeriesResponse
	if err := c.get(ctx, url.Values{
		"function":   []string{"TIME_SERIES_DAILY"},
		"symbol":     []string{symbol},
		"outputsize": []string{outputSize},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Overview calls OVERVIEW for symbol.
func (c *APIClient) Overview(ctx context.Context, symbol string) (*OverviewResponse, error) {
	var out OverviewResponse
	if err := c.get(ctx, url.Values{
		"function": []string{"OVERVIEW"},
		"symbol":   []string{symbol},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) get(ctx context.Context, params url.Values, out any) error {
	q := url.Values{}
	for k, vs := range c.query {
		q[k] = vs
	}
	for k, vs := range params {
		q[k] = vs
	}
	u := fmt.Sprintf("%s/query?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
