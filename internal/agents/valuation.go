package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
)

// Valuation model parameters.
const (
	dcfGrowthRate     = 0.05
	dcfDiscountRate   = 0.10
	dcfTerminalGrowth = 0.03
	dcfYears          = 5

	ownerGrowthRate     = 0.05
	ownerRequiredReturn = 0.15
	ownerMarginOfSafety = 0.25

	valuationGapThreshold = 0.15
)

var valuationLineItems = []string{
	"free_cash_flow",
	"net_income",
	"depreciation_and_amortization",
	"capital_expenditure",
	"working_capital",
}

// valuationAnalyst compares intrinsic value estimates (owner earnings and a
// simple DCF) against the current market cap. A gap beyond 15% in either
// direction is a directional signal.
func valuationAnalyst(deps Deps) graph.AnalystFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, ValuationAgentName)

		signals := make(map[string]domain.AnalystSignal, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Fetching line items")
			items, err := deps.Provider.SearchLineItems(ctx, ticker, valuationLineItems, state.Data.EndDate, "ttm", 2)
			if err != nil {
				return fmt.Errorf("fetching line items for %s: %w", ticker, err)
			}

			update(ticker, "Fetching market cap")
			marketCap, err := deps.Provider.GetMarketCap(ctx, ticker, state.Data.EndDate)
			if err != nil {
				return fmt.Errorf("fetching market cap for %s: %w", ticker, err)
			}

			update(ticker, "Valuing company")
			signals[ticker] = valuationSignal(items, marketCap)
			update(ticker, "Done")
		}

		store.PutSignals(ValuationAgentName, signals)
		return nil
	}
}

func valuationSignal(items []domain.LineItem, marketCap *float64) domain.AnalystSignal {
	if len(items) < 2 {
		return domain.NeutralSignal("Insufficient financial line items for valuation")
	}
	if marketCap == nil || *marketCap <= 0 {
		return domain.NeutralSignal("No market cap available")
	}

	current, previous := items[0], items[1]

	var gaps []float64
	var notes []string

	if v, ok := ownerEarningsValue(current, previous); ok {
		gap := (v - *marketCap) / *marketCap
		gaps = append(gaps, gap)
		notes = append(notes, fmt.Sprintf("owner earnings gap %+.1f%%", gap*100))
	}
	if fcf, ok := current.Value("free_cash_flow"); ok && fcf > 0 {
		v := dcfValue(fcf)
		gap := (v - *marketCap) / *marketCap
		gaps = append(gaps, gap)
		notes = append(notes, fmt.Sprintf("DCF gap %+.1f%%", gap*100))
	}
	if len(gaps) == 0 {
		return domain.NeutralSignal("No usable valuation inputs")
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	avgGap := sum / float64(len(gaps))

	signal := domain.SignalNeutral
	switch {
	case avgGap > valuationGapThreshold:
		signal = domain.SignalBullish
	case avgGap < -valuationGapThreshold:
		signal = domain.SignalBearish
	}

	confidence := math.Min(math.Abs(avgGap), 0.5) / 0.5 * 100
	reasoning := notes[0]
	for _, n := range notes[1:] {
		reasoning += "; " + n
	}
	return domain.AnalystSignal{Signal: signal, Confidence: confidence, Reasoning: reasoning}
}

// ownerEarningsValue is a conservative Buffett-style valuation: net income
// plus depreciation, minus capex and the change in working capital, grown
// and discounted, with a margin of safety.
func ownerEarningsValue(current, previous domain.LineItem) (float64, bool) {
	netIncome, ok1 := current.Value("net_income")
	depreciation, ok2 := current.Value("depreciation_and_amortization")
	capex, ok3 := current.Value("capital_expenditure")
	wcNow, ok4 := current.Value("working_capital")
	wcPrev, ok5 := previous.Value("working_capital")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return 0, false
	}

	ownerEarnings := netIncome + depreciation - math.Abs(capex) - (wcNow - wcPrev)
	if ownerEarnings <= 0 {
		return 0, false
	}

	var value float64
	for year := 1; year <= dcfYears; year++ {
		future := ownerEarnings * math.Pow(1+ownerGrowthRate, float64(year))
		value += future / math.Pow(1+ownerRequiredReturn, float64(year))
	}
	terminal := ownerEarnings * math.Pow(1+ownerGrowthRate, dcfYears) * (1 + dcfTerminalGrowth) /
		(ownerRequiredReturn - dcfTerminalGrowth)
	value += terminal / math.Pow(1+ownerRequiredReturn, dcfYears)

	return value * (1 - ownerMarginOfSafety), true
}

// dcfValue projects free cash flow forward with a terminal value.
func dcfValue(fcf float64) float64 {
	var value float64
	for year := 1; year <= dcfYears; year++ {
		future := fcf * math.Pow(1+dcfGrowthRate, float64(year))
		value += future / math.Pow(1+dcfDiscountRate, float64(year))
	}
	terminal := fcf * math.Pow(1+dcfGrowthRate, dcfYears) * (1 + dcfTerminalGrowth) /
		(dcfDiscountRate - dcfTerminalGrowth)
	value += terminal / math.Pow(1+dcfDiscountRate, dcfYears)
	return value
}
