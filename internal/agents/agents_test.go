package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
	"github.com/hedgeworks/hedged/internal/llm"
)

// fakeProvider serves canned data per ticker.
type fakeProvider struct {
	prices    map[string][]domain.Price
	metrics   map[string][]domain.FinancialMetrics
	lineItems map[string][]domain.LineItem
	insider   map[string][]domain.InsiderTrade
	news      map[string][]domain.CompanyNews
	marketCap map[string]*float64
	err       error
}

func (f *fakeProvider) GetPrices(ctx context.Context, ticker, start, end string) ([]domain.Price, error) {
	return f.prices[ticker], f.err
}
func (f *fakeProvider) GetFinancialMetrics(ctx context.Context, ticker, end, period string, limit int) ([]domain.FinancialMetrics, error) {
	return f.metrics[ticker], f.err
}
func (f *fakeProvider) SearchLineItems(ctx context.Context, ticker string, items []string, end, period string, limit int) ([]domain.LineItem, error) {
	return f.lineItems[ticker], f.err
}
func (f *fakeProvider) GetInsiderTrades(ctx context.Context, ticker, end, start string, limit int) ([]domain.InsiderTrade, error) {
	return f.insider[ticker], f.err
}
func (f *fakeProvider) GetCompanyNews(ctx context.Context, ticker, end, start string, limit int) ([]domain.CompanyNews, error) {
	return f.news[ticker], f.err
}
func (f *fakeProvider) GetMarketCap(ctx context.Context, ticker, end string) (*float64, error) {
	return f.marketCap[ticker], f.err
}

// fakeLLM returns a fixed value or falls back to the default factory.
type fakeLLM struct {
	respond func(req llm.Request) (any, error)
}

func (f *fakeLLM) Call(ctx context.Context, req llm.Request) error {
	value, err := f.respond(req)
	if err != nil {
		value = req.Default()
	}
	return assignTarget(req.Target, value)
}

func assignTarget(target, value any) error {
	switch t := target.(type) {
	case *PortfolioDecisions:
		t.Decisions = value.(PortfolioDecisions).Decisions
		return nil
	default:
		return errors.New("unexpected target type")
	}
}

func trendingPrices(n int, start, step float64) []domain.Price {
	prices := make([]domain.Price, n)
	for i := range prices {
		prices[i] = domain.Price{
			Time:  fmt.Sprintf("2024-01-%02d", i+1),
			Close: start + step*float64(i),
		}
	}
	return prices
}

func newAgentStore(tickers ...string) *graph.Store {
	return graph.NewStore(&graph.State{
		Data: graph.Data{
			Tickers:   tickers,
			StartDate: "2024-01-01",
			EndDate:   "2024-03-01",
			Portfolio: domain.NewPortfolio(100000, 0.5, tickers),
		},
		Metadata: graph.Metadata{
			Request: &domain.HedgeFundRequest{ModelName: "gpt-4o", ModelProvider: "OpenAI"},
		},
	})
}

func TestTechnicalAnalyst_InsufficientHistory(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{prices: map[string][]domain.Price{
		"AAPL": trendingPrices(10, 100, 1),
	}}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL")
	require.NoError(t, technicalAnalyst(deps)(context.Background(), store))

	sig := store.Signals()[TechnicalAgentName]["AAPL"]
	assert.Equal(t, domain.SignalNeutral, sig.Signal)
	assert.Contains(t, sig.Reasoning, "Insufficient price history")
}

func TestTechnicalAnalyst_ProducesSignalPerTicker(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{prices: map[string][]domain.Price{
		"AAPL": trendingPrices(60, 100, 1),
		"MSFT": trendingPrices(60, 400, -1),
	}}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL", "MSFT")
	require.NoError(t, technicalAnalyst(deps)(context.Background(), store))

	signals := store.Signals()[TechnicalAgentName]
	require.Len(t, signals, 2)
	for _, sig := range signals {
		assert.GreaterOrEqual(t, sig.Confidence, float64(0))
		assert.LessOrEqual(t, sig.Confidence, float64(100))
		assert.NotEmpty(t, sig.Reasoning)
	}
}

func TestVoteSignal(t *testing.T) {
	tests := []struct {
		name       string
		bullish    int
		bearish    int
		signal     domain.Signal
		confidence float64
	}{
		{"clear majority", 3, 1, domain.SignalBullish, 50},
		{"bearish sweep", 0, 4, domain.SignalBearish, 100},
		{"tie", 2, 2, domain.SignalNeutral, 0},
		{"no votes", 0, 0, domain.SignalNeutral, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := voteSignal(tt.bullish, tt.bearish, 4, []string{"note"})
			assert.Equal(t, tt.signal, sig.Signal)
			assert.Equal(t, tt.confidence, sig.Confidence)
		})
	}
}

func TestTechnicalAnalyst_ProviderErrorPropagates(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{err: errors.New("upstream down")}, Log: zerolog.Nop()}
	err := technicalAnalyst(deps)(context.Background(), newAgentStore("AAPL"))
	assert.Error(t, err)
}

func TestFundamentalsAnalyst_StrongMetricsAreBullish(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	deps := Deps{Provider: &fakeProvider{metrics: map[string][]domain.FinancialMetrics{
		"AAPL": {{
			Ticker: "AAPL", ReportPeriod: "2024-01-31", Period: "ttm",
			ReturnOnEquity: f(0.45), NetMargin: f(0.25), OperatingMargin: f(0.30),
			RevenueGrowth: f(0.12), EarningsGrowth: f(0.15), BookValueGrowth: f(0.11),
			CurrentRatio: f(2.0), DebtToEquity: f(0.3),
			FreeCashFlowPerShare: f(6.0), EarningsPerShare: f(6.5),
			PriceToEarningsRatio: f(20), PriceToBookRatio: f(2.5), PriceToSalesRatio: f(4),
		}},
	}}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL")
	require.NoError(t, fundamentalsAnalyst(deps)(context.Background(), store))

	sig := store.Signals()[FundamentalsAgentName]["AAPL"]
	assert.Equal(t, domain.SignalBullish, sig.Signal)
	assert.Equal(t, float64(100), sig.Confidence)
}

func TestFundamentalsAnalyst_NoMetricsIsNeutral(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Log: zerolog.Nop()}
	store := newAgentStore("AAPL")
	require.NoError(t, fundamentalsAnalyst(deps)(context.Background(), store))
	assert.Equal(t, domain.SignalNeutral, store.Signals()[FundamentalsAgentName]["AAPL"].Signal)
}

func TestSentimentAnalyst_InsiderSellingAndBadNews(t *testing.T) {
	sell := -1000.0
	deps := Deps{Provider: &fakeProvider{
		insider: map[string][]domain.InsiderTrade{
			"AAPL": {{Ticker: "AAPL", FilingDate: "2024-02-01", TransactionShares: &sell}},
		},
		news: map[string][]domain.CompanyNews{
			"AAPL": {
				{Ticker: "AAPL", Title: "a", Date: "2024-02-02", Sentiment: "negative"},
				{Ticker: "AAPL", Title: "b", Date: "2024-02-03", Sentiment: "negative"},
				{Ticker: "AAPL", Title: "c", Date: "2024-02-04", Sentiment: "positive"},
			},
		},
	}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL")
	require.NoError(t, sentimentAnalyst(deps)(context.Background(), store))

	sig := store.Signals()[SentimentAgentName]["AAPL"]
	assert.Equal(t, domain.SignalBearish, sig.Signal)
	assert.Greater(t, sig.Confidence, float64(50))
}

func TestSentimentAnalyst_NoDataIsNeutral(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Log: zerolog.Nop()}
	store := newAgentStore("AAPL")
	require.NoError(t, sentimentAnalyst(deps)(context.Background(), store))
	assert.Equal(t, domain.SignalNeutral, store.Signals()[SentimentAgentName]["AAPL"].Signal)
}

func lineItem(period string, values map[string]float64) domain.LineItem {
	return domain.LineItem{Ticker: "AAPL", ReportPeriod: period, Period: "ttm", Values: values}
}

func TestValuationAnalyst_UndervaluedIsBullish(t *testing.T) {
	cap := 100e9
	deps := Deps{Provider: &fakeProvider{
		lineItems: map[string][]domain.LineItem{
			"AAPL": {
				lineItem("2024-01-31", map[string]float64{
					"free_cash_flow":                20e9,
					"net_income":                    18e9,
					"depreciation_and_amortization": 3e9,
					"capital_expenditure":           2e9,
					"working_capital":               10e9,
				}),
				lineItem("2023-01-31", map[string]float64{"working_capital": 9e9}),
			},
		},
		marketCap: map[string]*float64{"AAPL": &cap},
	}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL")
	require.NoError(t, valuationAnalyst(deps)(context.Background(), store))

	sig := store.Signals()[ValuationAgentName]["AAPL"]
	assert.Equal(t, domain.SignalBullish, sig.Signal)
}

func TestValuationAnalyst_MissingInputsAreNeutral(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Log: zerolog.Nop()}
	store := newAgentStore("AAPL")
	require.NoError(t, valuationAnalyst(deps)(context.Background(), store))
	assert.Equal(t, domain.SignalNeutral, store.Signals()[ValuationAgentName]["AAPL"].Signal)
}

func TestRiskManager_PublishesLimitsAndPrices(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{prices: map[string][]domain.Price{
		"AAPL": {{Time: "2024-02-29", Close: 100}},
		"MSFT": {{Time: "2024-02-29", Close: 400}},
	}}, Log: zerolog.Nop()}

	store := newAgentStore("AAPL", "MSFT")
	require.NoError(t, RiskManager(deps)(context.Background(), store))

	signals := store.Signals()[RiskAgentName]
	require.Len(t, signals, 2)

	aapl := signals["AAPL"]
	require.NotNil(t, aapl.CurrentPrice)
	require.NotNil(t, aapl.MaxPositionSize)
	assert.Equal(t, float64(100), *aapl.CurrentPrice)
	// 20% of the 100k all-cash portfolio.
	assert.Equal(t, float64(20000), *aapl.MaxPositionSize)
}

func TestRiskManager_LimitCappedByCash(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{prices: map[string][]domain.Price{
		"AAPL": {{Time: "2024-02-29", Close: 100}},
	}}, Log: zerolog.Nop()}

	store := graph.NewStore(&graph.State{Data: graph.Data{
		Tickers:   []string{"AAPL"},
		StartDate: "2024-01-01",
		EndDate:   "2024-03-01",
		Portfolio: &domain.Portfolio{
			Cash:      5000,
			Positions: map[string]*domain.Position{"AAPL": {Long: 1000, LongCostBasis: 90}},
		},
	}})
	require.NoError(t, RiskManager(deps)(context.Background(), store))

	sig := store.Signals()[RiskAgentName]["AAPL"]
	// Total value 105000, limit 21000, exposure 100000: remaining 0.
	assert.Equal(t, float64(0), *sig.MaxPositionSize)
}

func TestRiskManager_MissingPriceFailsStage(t *testing.T) {
	deps := Deps{Provider: &fakeProvider{}, Log: zerolog.Nop()}
	err := RiskManager(deps)(context.Background(), newAgentStore("AAPL"))
	assert.Error(t, err)
}

func riskSignalsFor(store *graph.Store, ticker string, price, limit float64) {
	store.PutSignals(RiskAgentName, map[string]domain.AnalystSignal{
		ticker: {Signal: domain.SignalNeutral, CurrentPrice: &price, MaxPositionSize: &limit},
	})
}

func TestPortfolioManager_ClampsBuyToLimit(t *testing.T) {
	store := newAgentStore("AAPL")
	riskSignalsFor(store, "AAPL", 100, 1500)

	caller := &fakeLLM{respond: func(req llm.Request) (any, error) {
		return PortfolioDecisions{Decisions: map[string]domain.TradeDecision{
			"AAPL": {Action: domain.ActionBuy, Quantity: 100, Confidence: 90},
		}}, nil
	}}

	require.NoError(t, PortfolioManager(Deps{LLM: caller, Log: zerolog.Nop()})(context.Background(), store))

	decisions, err := ExtractDecisions(store.State().Messages)
	require.NoError(t, err)
	// Limit 1500 at price 100 allows 15 shares.
	assert.Equal(t, 15, decisions["AAPL"].Quantity)
	assert.Equal(t, domain.ActionBuy, decisions["AAPL"].Action)
}

func TestPortfolioManager_SellClampedToHoldings(t *testing.T) {
	store := newAgentStore("AAPL")
	store.State().Data.Portfolio.Position("AAPL").Long = 5
	riskSignalsFor(store, "AAPL", 100, 20000)

	caller := &fakeLLM{respond: func(req llm.Request) (any, error) {
		return PortfolioDecisions{Decisions: map[string]domain.TradeDecision{
			"AAPL": {Action: domain.ActionSell, Quantity: 50, Confidence: 80},
		}}, nil
	}}

	require.NoError(t, PortfolioManager(Deps{LLM: caller, Log: zerolog.Nop()})(context.Background(), store))

	decisions, err := ExtractDecisions(store.State().Messages)
	require.NoError(t, err)
	assert.Equal(t, 5, decisions["AAPL"].Quantity)
}

func TestPortfolioManager_ModelFailureHoldsEverything(t *testing.T) {
	store := newAgentStore("AAPL", "MSFT")

	caller := &fakeLLM{respond: func(req llm.Request) (any, error) {
		return nil, errors.New("model down")
	}}

	require.NoError(t, PortfolioManager(Deps{LLM: caller, Log: zerolog.Nop()})(context.Background(), store))

	decisions, err := ExtractDecisions(store.State().Messages)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.Equal(t, domain.ActionHold, d.Action)
		assert.Equal(t, 0, d.Quantity)
	}
}

func TestPortfolioManager_MissingTickerGetsHold(t *testing.T) {
	store := newAgentStore("AAPL", "MSFT")
	riskSignalsFor(store, "AAPL", 100, 20000)

	caller := &fakeLLM{respond: func(req llm.Request) (any, error) {
		return PortfolioDecisions{Decisions: map[string]domain.TradeDecision{
			"AAPL": {Action: domain.ActionBuy, Quantity: 10, Confidence: 70},
		}}, nil
	}}

	require.NoError(t, PortfolioManager(Deps{LLM: caller, Log: zerolog.Nop()})(context.Background(), store))

	decisions, err := ExtractDecisions(store.State().Messages)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, decisions["AAPL"].Action)
	assert.Equal(t, domain.ActionHold, decisions["MSFT"].Action)
}

func TestRegistry_ContainsAllAnalysts(t *testing.T) {
	registry := NewRegistry(Deps{Provider: &fakeProvider{}, Log: zerolog.Nop()})
	entries := registry.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "technical_analyst", entries[0].Key)
	assert.Equal(t, TechnicalAgentName, entries[0].AgentName)
}

func TestExtractDecisions_NoMessage(t *testing.T) {
	_, err := ExtractDecisions(nil)
	assert.Error(t, err)
}
