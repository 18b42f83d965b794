package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
)

// Insider trades carry less weight than news volume.
const (
	insiderWeight = 0.3
	newsWeight    = 0.7

	insiderTradeLimit = 1000
	newsArticleLimit  = 100
)

// sentimentAnalyst blends insider-trade direction with news sentiment
// labels. Insider sells (negative share counts) are bearish, buys bullish;
// news articles vote by their sentiment label.
func sentimentAnalyst(deps Deps) graph.AnalystFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, SentimentAgentName)

		signals := make(map[string]domain.AnalystSignal, len(state.Data.Tickers))
		for _, ticker := range state.Data.Tickers {
			update(ticker, "Fetching insider trades")
			trades, err := deps.Provider.GetInsiderTrades(ctx, ticker, state.Data.EndDate, state.Data.StartDate, insiderTradeLimit)
			if err != nil {
				return fmt.Errorf("fetching insider trades for %s: %w", ticker, err)
			}

			update(ticker, "Fetching company news")
			news, err := deps.Provider.GetCompanyNews(ctx, ticker, state.Data.EndDate, state.Data.StartDate, newsArticleLimit)
			if err != nil {
				return fmt.Errorf("fetching news for %s: %w", ticker, err)
			}

			update(ticker, "Analyzing sentiment")
			signals[ticker] = sentimentSignal(trades, news)
			update(ticker, "Done")
		}

		store.PutSignals(SentimentAgentName, signals)
		return nil
	}
}

func sentimentSignal(trades []domain.InsiderTrade, news []domain.CompanyNews) domain.AnalystSignal {
	var insiderBull, insiderBear float64
	for _, t := range trades {
		if t.TransactionShares == nil || *t.TransactionShares == 0 {
			continue
		}
		if *t.TransactionShares < 0 {
			insiderBear++
		} else {
			insiderBull++
		}
	}

	var newsBull, newsBear float64
	for _, n := range news {
		switch n.Sentiment {
		case "positive":
			newsBull++
		case "negative":
			newsBear++
		}
	}

	bullish := insiderBull*insiderWeight + newsBull*newsWeight
	bearish := insiderBear*insiderWeight + newsBear*newsWeight
	total := bullish + bearish
	if total == 0 {
		return domain.NeutralSignal("No insider trades or news in the period")
	}

	signal := domain.SignalNeutral
	switch {
	case bullish > bearish:
		signal = domain.SignalBullish
	case bearish > bullish:
		signal = domain.SignalBearish
	}
	confidence := math.Max(bullish, bearish) / total * 100

	return domain.AnalystSignal{
		Signal:     signal,
		Confidence: confidence,
		Reasoning: fmt.Sprintf("Weighted bullish %.1f vs bearish %.1f from %d insider trades and %d articles",
			bullish, bearish, len(trades), len(news)),
	}
}
