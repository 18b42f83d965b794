package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-key", zerolog.Nop())
	client.limiter = rate.NewLimiter(rate.Inf, 1) // no pacing in tests

	var sleeps []time.Duration
	client.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return client, &sleeps
}

func TestClient_RateLimitRetry(t *testing.T) {
	var calls int
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prices": []map[string]any{{"time": "2024-01-02", "close": 185.5}},
		})
	}))

	prices, err := client.FetchPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)

	// Exactly one 60s backoff for the single 429, then success without
	// further sleeping.
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 60*time.Second, (*sleeps)[0])
	assert.Equal(t, 2, calls)
	require.Len(t, prices, 1)
	assert.Equal(t, 185.5, prices[0].Close)
}

func TestClient_NonRetryableStatusFailsFast(t *testing.T) {
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such ticker", http.StatusNotFound)
	}))

	_, err := client.FetchPrices(context.Background(), "NOPE", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Empty(t, *sleeps)
}

func TestClient_SendsAPIKey(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		_ = json.NewEncoder(w).Encode(map[string]any{"prices": []any{}})
	}))

	_, err := client.FetchPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
}

func TestClient_FetchLineItems(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"AAPL"}, body["tickers"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"search_results": []map[string]any{
				{"ticker": "AAPL", "report_period": "2023-12-31", "net_income": 1000.0},
			},
		})
	}))

	items, err := client.FetchLineItems(context.Background(), "AAPL", []string{"net_income"}, "2024-01-01", "ttm", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	ni, ok := items[0].Value("net_income")
	require.True(t, ok)
	assert.Equal(t, 1000.0, ni)
}

func TestClient_FetchInsiderTradesQuery(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "AAPL", q.Get("ticker"))
		assert.Equal(t, "2024-03-01", q.Get("filing_date_lte"))
		assert.Equal(t, "2024-01-01", q.Get("filing_date_gte"))
		assert.Equal(t, "100", q.Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"insider_trades": []any{}})
	}))

	_, err := client.FetchInsiderTrades(context.Background(), "AAPL", "2024-03-01", "2024-01-01", 100)
	require.NoError(t, err)
}
