package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortfolio_Clone(t *testing.T) {
	p := NewPortfolio(100000, 0.5, []string{"AAPL"})
	p.Position("AAPL").Long = 10
	p.Position("AAPL").LongCostBasis = 150
	p.Gains("AAPL").Long = 42

	clone := p.Clone()
	clone.Position("AAPL").Long = 99
	clone.Cash = 0

	assert.Equal(t, 10, p.Position("AAPL").Long)
	assert.Equal(t, float64(100000), p.Cash)
	assert.Equal(t, float64(42), clone.Gains("AAPL").Long)
}

func TestPortfolio_TotalShortMargin(t *testing.T) {
	p := NewPortfolio(1000, 0.5, []string{"AAPL", "MSFT"})
	p.Position("AAPL").ShortMarginUsed = 500
	p.Position("MSFT").ShortMarginUsed = 250

	assert.Equal(t, float64(750), p.TotalShortMargin())
}

func TestHedgeFundRequest_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		req     HedgeFundRequest
		wantErr bool
	}{
		{"valid", HedgeFundRequest{Tickers: []string{"AAPL"}, InitialCash: 1000}, false},
		{"no tickers", HedgeFundRequest{InitialCash: 1000}, true},
		{"negative cash", HedgeFundRequest{Tickers: []string{"AAPL"}, InitialCash: -1}, true},
		{"bad margin", HedgeFundRequest{Tickers: []string{"AAPL"}, MarginRequirement: 1.5}, true},
		{"bad date", HedgeFundRequest{Tickers: []string{"AAPL"}, StartDate: "01/02/2024"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHedgeFundRequest_Normalize(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	req := HedgeFundRequest{Tickers: []string{"AAPL"}}
	req.Normalize(now)

	assert.Equal(t, "2024-03-01", req.EndDate)
	assert.Equal(t, "2023-12-01", req.StartDate)
}

func TestHedgeFundRequest_ModelFor(t *testing.T) {
	req := HedgeFundRequest{
		ModelName:     "gpt-4o",
		ModelProvider: "OpenAI",
		AgentModels: []AgentModel{
			{AgentID: "technical_analyst", Model: "llama3.1", ModelProvider: "Ollama"},
			{AgentID: "sentiment_analyst"}, // present but empty: falls back
		},
	}

	model, provider := req.ModelFor("technical_analyst")
	assert.Equal(t, "llama3.1", model)
	assert.Equal(t, "Ollama", provider)

	model, provider = req.ModelFor("sentiment_analyst")
	assert.Equal(t, "gpt-4o", model)
	assert.Equal(t, "OpenAI", provider)

	model, provider = req.ModelFor("unknown")
	assert.Equal(t, "gpt-4o", model)
	assert.Equal(t, "OpenAI", provider)
}

func TestLineItem_UnmarshalJSON(t *testing.T) {
	raw := `{
		"ticker": "AAPL",
		"report_period": "2023-12-31",
		"period": "ttm",
		"currency": "USD",
		"net_income": 96995000000,
		"capital_expenditure": -10959000000
	}`

	var li LineItem
	require.NoError(t, json.Unmarshal([]byte(raw), &li))

	assert.Equal(t, "AAPL", li.Ticker)
	assert.Equal(t, "2023-12-31", li.ReportPeriod)

	ni, ok := li.Value("net_income")
	require.True(t, ok)
	assert.Equal(t, float64(96995000000), ni)

	_, ok = li.Value("missing")
	assert.False(t, ok)
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunIdle.Terminal())
	assert.False(t, RunInProgress.Terminal())
	assert.True(t, RunComplete.Terminal())
	assert.True(t, RunError.Terminal())
}
