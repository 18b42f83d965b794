// Package main is the backtest CLI: it replays the analyst pipeline over a
// historical date range and prints the performance series and summary
// metrics as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hedgeworks/hedged/internal/agents"
	"github.com/hedgeworks/hedged/internal/backtest"
	"github.com/hedgeworks/hedged/internal/config"
	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
	"github.com/hedgeworks/hedged/internal/llm"
	"github.com/hedgeworks/hedged/internal/marketdata"
	"github.com/hedgeworks/hedged/internal/progress"
	"github.com/hedgeworks/hedged/pkg/logger"
)

func main() {
	var (
		tickersFlag = flag.String("tickers", "", "comma-separated tickers (required)")
		startDate   = flag.String("start", "", "start date YYYY-MM-DD (required)")
		endDate     = flag.String("end", "", "end date YYYY-MM-DD (required)")
		initialCash = flag.Float64("cash", 100000, "initial cash")
		marginReq   = flag.Float64("margin", 0, "margin requirement in [0, 1]")
		modelName   = flag.String("model", "gpt-4o", "model name")
		provider    = flag.String("provider", "OpenAI", "model provider")
		agentsFlag  = flag.String("agents", "", "comma-separated analyst keys (empty selects all)")
	)
	flag.Parse()

	tickers := splitList(*tickersFlag)
	if len(tickers) == 0 || *startDate == "" || *endDate == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	client := marketdata.NewClient(cfg.FinancialDatasetsBaseURL, cfg.FinancialDatasetsAPIKey, log)
	dataProvider := marketdata.NewCachedProvider(client, marketdata.NewCache(), log)

	gateway := llm.NewGateway(llm.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Groq:      cfg.GroqAPIKey,
		DeepSeek:  cfg.DeepSeekAPIKey,
	}, cfg.OllamaBaseURL, log)

	selected := splitList(*agentsFlag)
	request := &domain.HedgeFundRequest{
		Tickers:        tickers,
		SelectedAgents: selected,
		ModelName:      *modelName,
		ModelProvider:  *provider,
	}

	deps := agents.Deps{
		Provider: dataProvider,
		LLM:      gateway,
		Bus:      progress.NewBus(log),
		Log:      log,
	}
	registry := agents.NewRegistry(deps)
	engine := graph.NewEngine(registry, agents.RiskManager(deps), agents.PortfolioManager(deps), deps.Bus, log)

	// One pipeline run per simulated day.
	decide := func(ctx context.Context, start, end string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error) {
		store := graph.NewStore(&graph.State{
			Data: graph.Data{
				Tickers:   tickers,
				StartDate: start,
				EndDate:   end,
				Portfolio: portfolio,
			},
			Metadata: graph.Metadata{Request: request},
		})
		if err := engine.Run(ctx, store, selected); err != nil {
			return nil, err
		}
		return agents.ExtractDecisions(store.State().Messages)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := backtest.NewEngine(dataProvider, decide, log).Run(ctx, backtest.Config{
		Tickers:           tickers,
		StartDate:         *startDate,
		EndDate:           *endDate,
		InitialCash:       *initialCash,
		MarginRequirement: *marginReq,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("Backtest interrupted")
			os.Exit(130)
		}
		log.Error().Err(err).Msg("Backtest failed")
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		log.Error().Err(err).Msg("Failed to encode result")
		os.Exit(1)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
