package agents

import (
	"context"
	"fmt"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
)

// fundamentalsAnalyst scores four dimensions of the latest TTM metrics:
// profitability, growth, financial health, and price ratios. Each dimension
// contributes one vote.
func fundamentalsAnalyst(deps Deps) graph.AnalystFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, FundamentalsAgentName)

		signals := make(map[string]domain.AnalystSignal, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Fetching financial metrics")
			metrics, err := deps.Provider.GetFinancialMetrics(ctx, ticker, state.Data.EndDate, "ttm", 10)
			if err != nil {
				return fmt.Errorf("fetching metrics for %s: %w", ticker, err)
			}
			if len(metrics) == 0 {
				signals[ticker] = domain.NeutralSignal("No financial metrics available")
				update(ticker, "Done")
				continue
			}

			update(ticker, "Analyzing fundamentals")
			signals[ticker] = fundamentalsSignal(metrics[0])
			update(ticker, "Done")
		}

		store.PutSignals(FundamentalsAgentName, signals)
		return nil
	}
}

func fundamentalsSignal(m domain.FinancialMetrics) domain.AnalystSignal {
	var bullish, bearish int
	var notes []string

	vote := func(dim string, signal domain.Signal) {
		switch signal {
		case domain.SignalBullish:
			bullish++
			notes = append(notes, dim+" strong")
		case domain.SignalBearish:
			bearish++
			notes = append(notes, dim+" weak")
		}
	}

	vote("profitability", thresholdVote([]threshold{
		{m.ReturnOnEquity, 0.15, above},
		{m.NetMargin, 0.20, above},
		{m.OperatingMargin, 0.15, above},
	}))
	vote("growth", thresholdVote([]threshold{
		{m.RevenueGrowth, 0.10, above},
		{m.EarningsGrowth, 0.10, above},
		{m.BookValueGrowth, 0.10, above},
	}))
	vote("health", thresholdVote([]threshold{
		{m.CurrentRatio, 1.5, above},
		{m.DebtToEquity, 0.5, below},
		{freeCashFlowCoverage(m), 0.8, above},
	}))
	vote("price ratios", thresholdVote([]threshold{
		{m.PriceToEarningsRatio, 25, below},
		{m.PriceToBookRatio, 3, below},
		{m.PriceToSalesRatio, 5, below},
	}))

	return voteSignal(bullish, bearish, 4, notes)
}

type comparison int

const (
	above comparison = iota
	below
)

type threshold struct {
	value *float64
	limit float64
	cmp   comparison
}

// thresholdVote scores one dimension: a strict majority of known metrics
// passing makes it bullish, a strict majority failing makes it bearish.
// Missing metrics abstain.
func thresholdVote(checks []threshold) domain.Signal {
	var pass, fail int
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		ok := *c.value > c.limit
		if c.cmp == below {
			ok = *c.value < c.limit
		}
		if ok {
			pass++
		} else {
			fail++
		}
	}
	switch {
	case pass > fail:
		return domain.SignalBullish
	case fail > pass:
		return domain.SignalBearish
	default:
		return domain.SignalNeutral
	}
}

// freeCashFlowCoverage is FCF per share relative to EPS. Values near or
// above 1 mean earnings convert to cash.
func freeCashFlowCoverage(m domain.FinancialMetrics) *float64 {
	if m.FreeCashFlowPerShare == nil || m.EarningsPerShare == nil || *m.EarningsPerShare == 0 {
		return nil
	}
	v := *m.FreeCashFlowPerShare / *m.EarningsPerShare
	return &v
}
