package agents

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
)

// Indicator windows. The EMA pair is a medium-term trend crossover; the
// Bollinger band uses the conventional 20-day 2-sigma setup.
const (
	emaFastPeriod = 8
	emaSlowPeriod = 21
	rsiPeriod     = 14
	bbandPeriod   = 20
	minBars       = 2 * bbandPeriod
)

// technicalAnalyst votes across four indicator families: trend (EMA cross),
// momentum (MACD histogram), overbought/oversold (RSI) and mean reversion
// (Bollinger %B). The vote margin drives the confidence.
func technicalAnalyst(deps Deps) graph.AnalystFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, TechnicalAgentName)

		signals := make(map[string]domain.AnalystSignal, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Fetching price data")
			prices, err := deps.Provider.GetPrices(ctx, ticker, state.Data.StartDate, state.Data.EndDate)
			if err != nil {
				return fmt.Errorf("fetching prices for %s: %w", ticker, err)
			}
			if len(prices) < minBars {
				signals[ticker] = domain.NeutralSignal(
					fmt.Sprintf("Insufficient price history: %d bars, need %d", len(prices), minBars))
				update(ticker, "Done")
				continue
			}

			update(ticker, "Calculating indicators")
			signals[ticker] = technicalSignal(closes(prices))
			update(ticker, "Done")
		}

		store.PutSignals(TechnicalAgentName, signals)
		return nil
	}
}

func closes(prices []domain.Price) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p.Close
	}
	return out
}

func technicalSignal(close []float64) domain.AnalystSignal {
	last := len(close) - 1

	var bullish, bearish int
	var notes []string

	emaFast := talib.Ema(close, emaFastPeriod)
	emaSlow := talib.Ema(close, emaSlowPeriod)
	switch {
	case emaFast[last] > emaSlow[last]:
		bullish++
		notes = append(notes, fmt.Sprintf("EMA%d above EMA%d", emaFastPeriod, emaSlowPeriod))
	case emaFast[last] < emaSlow[last]:
		bearish++
		notes = append(notes, fmt.Sprintf("EMA%d below EMA%d", emaFastPeriod, emaSlowPeriod))
	}

	_, _, hist := talib.Macd(close, 12, 26, 9)
	switch {
	case hist[last] > 0:
		bullish++
		notes = append(notes, "MACD histogram positive")
	case hist[last] < 0:
		bearish++
		notes = append(notes, "MACD histogram negative")
	}

	rsi := talib.Rsi(close, rsiPeriod)
	switch {
	case rsi[last] < 30:
		bullish++
		notes = append(notes, fmt.Sprintf("RSI oversold at %.1f", rsi[last]))
	case rsi[last] > 70:
		bearish++
		notes = append(notes, fmt.Sprintf("RSI overbought at %.1f", rsi[last]))
	}

	upper, _, lower := talib.BBands(close, bbandPeriod, 2, 2, talib.SMA)
	if band := upper[last] - lower[last]; band > 0 {
		pctB := (close[last] - lower[last]) / band
		switch {
		case pctB < 0.2:
			bullish++
			notes = append(notes, "price near lower Bollinger band")
		case pctB > 0.8:
			bearish++
			notes = append(notes, "price near upper Bollinger band")
		}
	}

	return voteSignal(bullish, bearish, 4, notes)
}

// voteSignal turns a bull/bear vote count into a directional signal whose
// confidence reflects the margin of the vote.
func voteSignal(bullish, bearish, total int, notes []string) domain.AnalystSignal {
	signal := domain.SignalNeutral
	switch {
	case bullish > bearish:
		signal = domain.SignalBullish
	case bearish > bullish:
		signal = domain.SignalBearish
	}

	margin := bullish - bearish
	if margin < 0 {
		margin = -margin
	}
	confidence := float64(margin) / float64(total) * 100

	reasoning := "No directional indication"
	if len(notes) > 0 {
		reasoning = notes[0]
		for _, n := range notes[1:] {
			reasoning += "; " + n
		}
	}
	return domain.AnalystSignal{Signal: signal, Confidence: confidence, Reasoning: reasoning}
}
