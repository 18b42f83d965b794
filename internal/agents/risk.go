package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
)

// maxPositionFraction caps any single ticker at 20% of total portfolio value.
const maxPositionFraction = 0.20

// RiskManager sizes per-ticker position limits from the portfolio snapshot.
// It publishes a signal per ticker carrying the current price and the
// remaining position limit the portfolio manager must respect.
func RiskManager(deps Deps) graph.StageFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, RiskAgentName)
		portfolio := state.Data.Portfolio

		// Latest close per ticker; missing prices fail the stage because
		// sizing without a price is meaningless.
		prices := make(map[string]float64, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Fetching current price")
			bars, err := deps.Provider.GetPrices(ctx, ticker, state.Data.StartDate, state.Data.EndDate)
			if err != nil {
				return fmt.Errorf("fetching prices for %s: %w", ticker, err)
			}
			if len(bars) == 0 {
				return fmt.Errorf("no price data for %s", ticker)
			}
			prices[ticker] = bars[len(bars)-1].Close
		}

		totalValue := portfolio.Cash
		for ticker, price := range prices {
			pos := portfolio.Position(ticker)
			totalValue += float64(pos.Long)*price + float64(pos.Short)*price
		}

		signals := make(map[string]domain.AnalystSignal, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Calculating position limit")
			price := prices[ticker]
			pos := portfolio.Position(ticker)

			currentExposure := float64(pos.Long)*price + float64(pos.Short)*price
			limit := totalValue * maxPositionFraction
			remaining := math.Max(0, limit-currentExposure)
			// A buy can never exceed available cash regardless of the limit.
			remaining = math.Min(remaining, math.Max(0, portfolio.Cash))

			signals[ticker] = domain.AnalystSignal{
				Signal:          domain.SignalNeutral,
				Confidence:      100,
				Reasoning:       fmt.Sprintf("Position limit %.2f, current exposure %.2f", limit, currentExposure),
				MaxPositionSize: &remaining,
				CurrentPrice:    &price,
			}
			update(ticker, "Done")
		}

		store.PutSignals(RiskAgentName, signals)
		return nil
	}
}
