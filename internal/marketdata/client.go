// Package marketdata provides access to prices, fundamentals, insider trades
// and company news from the upstream financial-data API, with an in-process
// cache keyed by ticker.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hedgeworks/hedged/internal/domain"
)

// rateLimitBackoff is the fixed wait after an upstream HTTP 429.
// Not configurable: the upstream's rate window resets on the minute.
const rateLimitBackoff = 60 * time.Second

// Client talks to the upstream financial-data HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(time.Duration) // injectable for tests
	log        zerolog.Logger
}

// NewClient creates an API client. The limiter paces outgoing requests
// client-side; the 429 handling below is the backstop.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		sleep:      time.Sleep,
		log:        log.With().Str("client", "marketdata").Logger(),
	}
}

// do performs one HTTP request. On 429 it sleeps the fixed backoff and
// retries; every other non-2xx status fails fast.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-KEY", c.apiKey)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.log.Warn().Str("path", path).Msg("Rate limited by upstream, backing off")
			c.sleep(rateLimitBackoff)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("upstream returned %d for %s: %s", resp.StatusCode, path, truncate(data, 200))
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}
		return data, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// FetchPrices returns daily bars for a ticker in [startDate, endDate].
func (c *Client) FetchPrices(ctx context.Context, ticker, startDate, endDate string) ([]domain.Price, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("interval", "day")
	q.Set("interval_multiplier", "1")
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)

	data, err := c.do(ctx, http.MethodGet, "/prices/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices for %s: %w", ticker, err)
	}

	var out struct {
		Prices []domain.Price `json:"prices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode prices for %s: %w", ticker, err)
	}
	return out.Prices, nil
}

// FetchFinancialMetrics returns up to limit metric snapshots with report
// periods at or before endDate.
func (c *Client) FetchFinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]domain.FinancialMetrics, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("report_period_lte", endDate)
	q.Set("period", period)
	q.Set("limit", strconv.Itoa(limit))

	data, err := c.do(ctx, http.MethodGet, "/financial-metrics/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch financial metrics for %s: %w", ticker, err)
	}

	var out struct {
		FinancialMetrics []domain.FinancialMetrics `json:"financial_metrics"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode financial metrics for %s: %w", ticker, err)
	}
	return out.FinancialMetrics, nil
}

// FetchLineItems searches financial-statement line items by name.
func (c *Client) FetchLineItems(ctx context.Context, ticker string, lineItems []string, endDate, period string, limit int) ([]domain.LineItem, error) {
	body := map[string]any{
		"tickers":    []string{ticker},
		"line_items": lineItems,
		"end_date":   endDate,
		"period":     period,
		"limit":      limit,
	}

	data, err := c.do(ctx, http.MethodPost, "/financials/search/line-items", nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to search line items for %s: %w", ticker, err)
	}

	var out struct {
		SearchResults []domain.LineItem `json:"search_results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode line items for %s: %w", ticker, err)
	}
	return out.SearchResults, nil
}

// FetchInsiderTrades returns one page of insider trades with filing dates in
// (startDate, endDate]. startDate may be empty.
func (c *Client) FetchInsiderTrades(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.InsiderTrade, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("filing_date_lte", endDate)
	if startDate != "" {
		q.Set("filing_date_gte", startDate)
	}
	q.Set("limit", strconv.Itoa(limit))

	data, err := c.do(ctx, http.MethodGet, "/insider-trades/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch insider trades for %s: %w", ticker, err)
	}

	var out struct {
		InsiderTrades []domain.InsiderTrade `json:"insider_trades"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode insider trades for %s: %w", ticker, err)
	}
	return out.InsiderTrades, nil
}

// FetchCompanyNews returns one page of news with dates in (startDate, endDate].
func (c *Client) FetchCompanyNews(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.CompanyNews, error) {
	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("end_date", endDate)
	if startDate != "" {
		q.Set("start_date", startDate)
	}
	q.Set("limit", strconv.Itoa(limit))

	data, err := c.do(ctx, http.MethodGet, "/news/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch company news for %s: %w", ticker, err)
	}

	var out struct {
		News []domain.CompanyNews `json:"news"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode company news for %s: %w", ticker, err)
	}
	return out.News, nil
}
