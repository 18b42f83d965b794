// Package agents ships the closed analyst set: deterministic analysts that
// compute signals from market data, plus the risk and portfolio managers.
package agents

import (
	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/graph"
	"github.com/hedgeworks/hedged/internal/llm"
	"github.com/hedgeworks/hedged/internal/marketdata"
	"github.com/hedgeworks/hedged/internal/progress"
)

// Agent names signals are published under.
const (
	TechnicalAgentName    = "technical_analyst_agent"
	FundamentalsAgentName = "fundamentals_agent"
	SentimentAgentName    = "sentiment_agent"
	ValuationAgentName    = "valuation_agent"
	RiskAgentName         = "risk_management_agent"
	PortfolioManagerName  = "portfolio_manager"
)

// Deps is the capability set every agent draws from.
type Deps struct {
	Provider marketdata.Provider
	LLM      llm.Caller
	Bus      *progress.Bus
	Log      zerolog.Logger
}

// NewRegistry builds the analyst registry with all shipped analysts.
func NewRegistry(deps Deps) *graph.Registry {
	r := graph.NewRegistry()
	r.Register(graph.Entry{
		Key:         "technical_analyst",
		AgentName:   TechnicalAgentName,
		DisplayName: "Technical Analyst",
		Order:       1,
		Fn:          technicalAnalyst(deps),
	})
	r.Register(graph.Entry{
		Key:         "fundamentals_analyst",
		AgentName:   FundamentalsAgentName,
		DisplayName: "Fundamentals Analyst",
		Order:       2,
		Fn:          fundamentalsAnalyst(deps),
	})
	r.Register(graph.Entry{
		Key:         "sentiment_analyst",
		AgentName:   SentimentAgentName,
		DisplayName: "Sentiment Analyst",
		Order:       3,
		Fn:          sentimentAnalyst(deps),
	})
	r.Register(graph.Entry{
		Key:         "valuation_analyst",
		AgentName:   ValuationAgentName,
		DisplayName: "Valuation Analyst",
		Order:       4,
		Fn:          valuationAnalyst(deps),
	})
	return r
}

func statusUpdater(bus *progress.Bus, agentName string) func(ticker, status string) {
	return func(ticker, status string) {
		if bus != nil {
			bus.UpdateStatus(agentName, ticker, status, "")
		}
	}
}
