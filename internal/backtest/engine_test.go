package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeworks/hedged/internal/domain"
)

// priceProvider serves a fixed closing price per (ticker, date).
type priceProvider struct {
	closes map[string]map[string]float64 // ticker -> date -> close
}

func (p *priceProvider) GetPrices(ctx context.Context, ticker, start, end string) ([]domain.Price, error) {
	price, ok := p.closes[ticker][end]
	if !ok {
		return nil, nil
	}
	return []domain.Price{{Time: end, Close: price}}, nil
}

func (p *priceProvider) GetFinancialMetrics(ctx context.Context, ticker, end, period string, limit int) ([]domain.FinancialMetrics, error) {
	return nil, nil
}
func (p *priceProvider) SearchLineItems(ctx context.Context, ticker string, items []string, end, period string, limit int) ([]domain.LineItem, error) {
	return nil, nil
}
func (p *priceProvider) GetInsiderTrades(ctx context.Context, ticker, end, start string, limit int) ([]domain.InsiderTrade, error) {
	return nil, nil
}
func (p *priceProvider) GetCompanyNews(ctx context.Context, ticker, end, start string, limit int) ([]domain.CompanyNews, error) {
	return nil, nil
}
func (p *priceProvider) GetMarketCap(ctx context.Context, ticker, end string) (*float64, error) {
	return nil, nil
}

func holdEverything(ctx context.Context, start, end string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error) {
	return map[string]domain.TradeDecision{}, nil
}

func TestEngine_SkipsWeekendsAndMissingPrices(t *testing.T) {
	// 2024-01-01 Mon .. 2024-01-07 Sun, with Wednesday missing.
	provider := &priceProvider{closes: map[string]map[string]float64{
		"AAPL": {
			"2024-01-01": 100,
			"2024-01-02": 101,
			"2024-01-04": 103,
			"2024-01-05": 104,
		},
	}}
	engine := NewEngine(provider, holdEverything, zerolog.Nop())

	result, err := engine.Run(context.Background(), Config{
		Tickers:     []string{"AAPL"},
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-07",
		InitialCash: 10000,
	})
	require.NoError(t, err)

	require.Len(t, result.Values, 4)
	assert.Equal(t, "2024-01-01", result.Values[0].Date)
	assert.Equal(t, "2024-01-05", result.Values[3].Date)
}

func TestEngine_LookbackWindowPassedToPipeline(t *testing.T) {
	provider := &priceProvider{closes: map[string]map[string]float64{
		"AAPL": {"2024-02-01": 100},
	}}

	var gotStart, gotEnd string
	decide := func(ctx context.Context, start, end string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error) {
		gotStart, gotEnd = start, end
		return nil, nil
	}
	engine := NewEngine(provider, decide, zerolog.Nop())

	_, err := engine.Run(context.Background(), Config{
		Tickers:     []string{"AAPL"},
		StartDate:   "2024-02-01",
		EndDate:     "2024-02-01",
		InitialCash: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", gotStart)
	assert.Equal(t, "2024-02-01", gotEnd)
}

func TestEngine_AppliesDecisionsAndTracksNLV(t *testing.T) {
	provider := &priceProvider{closes: map[string]map[string]float64{
		"AAPL": {
			"2024-01-02": 100,
			"2024-01-03": 110,
		},
	}}

	decide := func(ctx context.Context, start, end string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error) {
		if end == "2024-01-02" {
			return map[string]domain.TradeDecision{
				"AAPL": {Action: domain.ActionBuy, Quantity: 10, Confidence: 90},
			}, nil
		}
		return nil, nil
	}
	engine := NewEngine(provider, decide, zerolog.Nop())

	result, err := engine.Run(context.Background(), Config{
		Tickers:     []string{"AAPL"},
		StartDate:   "2024-01-02",
		EndDate:     "2024-01-03",
		InitialCash: 10000,
	})
	require.NoError(t, err)

	require.Len(t, result.Values, 2)
	// Day 1: bought 10 @ 100. NLV unchanged at 10000.
	assert.Equal(t, float64(10000), result.Values[0].NetLiquidationValue)
	assert.Equal(t, float64(1000), result.Values[0].LongExposure)
	// Day 2: position marks at 110.
	assert.Equal(t, float64(10100), result.Values[1].NetLiquidationValue)
	assert.Equal(t, 10, result.Portfolio.Position("AAPL").Long)
}

func TestEngine_ShortExposureInNLV(t *testing.T) {
	provider := &priceProvider{closes: map[string]map[string]float64{
		"AAPL": {
			"2024-01-02": 100,
			"2024-01-03": 80,
		},
	}}

	decide := func(ctx context.Context, start, end string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error) {
		if end == "2024-01-02" {
			return map[string]domain.TradeDecision{
				"AAPL": {Action: domain.ActionShort, Quantity: 10, Confidence: 90},
			}, nil
		}
		return nil, nil
	}
	engine := NewEngine(provider, decide, zerolog.Nop())

	result, err := engine.Run(context.Background(), Config{
		Tickers:           []string{"AAPL"},
		StartDate:         "2024-01-02",
		EndDate:           "2024-01-03",
		InitialCash:       1000,
		MarginRequirement: 0.5,
	})
	require.NoError(t, err)

	// Day 1: proceeds 1000 in, margin 500 out, cash 1500; NLV = 1500 - 1000.
	require.Len(t, result.Values, 2)
	assert.Equal(t, float64(500), result.Values[0].NetLiquidationValue)
	assert.Equal(t, float64(1000), result.Values[0].ShortExposure)
	assert.Equal(t, float64(-1000), result.Values[0].NetExposure)
	// Price drops to 80: short gains 200.
	assert.Equal(t, float64(700), result.Values[1].NetLiquidationValue)
}

func TestComputeMetrics_RequiresFourPoints(t *testing.T) {
	values := []DailyValue{
		{Date: "2024-01-01", NetLiquidationValue: 100},
		{Date: "2024-01-02", NetLiquidationValue: 101},
		{Date: "2024-01-03", NetLiquidationValue: 102},
	}
	m := ComputeMetrics(values)
	assert.Nil(t, m.SharpeRatio)
	assert.Nil(t, m.SortinoRatio)
	assert.NotNil(t, m.MaxDrawdown)
}

func TestComputeMetrics_SharpeZeroForFlatSeries(t *testing.T) {
	values := []DailyValue{
		{NetLiquidationValue: 100}, {NetLiquidationValue: 100},
		{NetLiquidationValue: 100}, {NetLiquidationValue: 100},
	}
	m := ComputeMetrics(values)
	require.NotNil(t, m.SharpeRatio)
	assert.Equal(t, float64(0), *m.SharpeRatio)
}

func TestComputeMetrics_SortinoInfiniteWithoutDownside(t *testing.T) {
	values := []DailyValue{
		{NetLiquidationValue: 100}, {NetLiquidationValue: 102},
		{NetLiquidationValue: 104}, {NetLiquidationValue: 106},
	}
	m := ComputeMetrics(values)
	require.NotNil(t, m.SortinoRatio)
	assert.True(t, math.IsInf(*m.SortinoRatio, 1))
}

func TestComputeMetrics_MaxDrawdown(t *testing.T) {
	values := []DailyValue{
		{Date: "2024-01-01", NetLiquidationValue: 100},
		{Date: "2024-01-02", NetLiquidationValue: 120},
		{Date: "2024-01-03", NetLiquidationValue: 90},
		{Date: "2024-01-04", NetLiquidationValue: 110},
	}
	m := ComputeMetrics(values)
	require.NotNil(t, m.MaxDrawdown)
	assert.InDelta(t, -25, *m.MaxDrawdown, 1e-9)
	assert.Equal(t, "2024-01-03", m.DrawdownDate)
}

func TestEngine_CancelledContext(t *testing.T) {
	provider := &priceProvider{closes: map[string]map[string]float64{
		"AAPL": {"2024-01-02": 100},
	}}
	engine := NewEngine(provider, holdEverything, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Run(ctx, Config{
		Tickers:     []string{"AAPL"},
		StartDate:   "2024-01-02",
		EndDate:     "2024-01-03",
		InitialCash: 10000,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
