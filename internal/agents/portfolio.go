package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
	"github.com/hedgeworks/hedged/internal/llm"
)

// PortfolioDecisions is the structured output schema of the portfolio
// manager: one trade decision per ticker.
type PortfolioDecisions struct {
	Decisions map[string]domain.TradeDecision `json:"decisions"`
}

const portfolioSystemPrompt = `You are a portfolio manager making final trading decisions.
For each ticker decide: buy, sell, short, cover, or hold, with an integer quantity.
Rules:
- Only buy if there is remaining position limit and cash; quantity*price must not exceed the remaining limit.
- Only sell or cover existing positions.
- Respond with JSON: {"decisions": {"TICKER": {"action": "...", "quantity": N, "confidence": 0-100, "reasoning": "..."}}}`

// PortfolioManager produces the final per-ticker trade decisions from the
// accumulated analyst signals and the risk manager's limits. Model failures
// degrade to hold decisions; they never abort the run.
func PortfolioManager(deps Deps) graph.StageFn {
	return func(ctx context.Context, store *graph.Store) error {
		state := store.State()
		update := statusUpdater(deps.Bus, PortfolioManagerName)
		update("", "Generating trading decisions")

		signals := store.Signals()
		riskSignals := signals[RiskAgentName]

		prompt, err := portfolioPrompt(state, signals)
		if err != nil {
			return fmt.Errorf("building portfolio prompt: %w", err)
		}

		var model, provider string
		if state.Metadata.Request != nil {
			model, provider = state.Metadata.Request.ModelFor(PortfolioManagerName)
		}

		var out PortfolioDecisions
		err = deps.LLM.Call(ctx, llm.Request{
			Prompt:       prompt,
			SystemPrompt: portfolioSystemPrompt,
			AgentName:    PortfolioManagerName,
			Model:        model,
			Provider:     provider,
			Target:       &out,
			Progress:     deps.Bus,
			Default: func() any {
				return holdAll(state.Data.Tickers)
			},
		})
		if err != nil {
			return err
		}

		decisions := clampDecisions(out, state.Data.Tickers, state.Data.Portfolio, riskSignals)

		payload, err := json.Marshal(PortfolioDecisions{Decisions: decisions})
		if err != nil {
			return fmt.Errorf("encoding decisions: %w", err)
		}
		store.AppendMessage(graph.Message{Agent: PortfolioManagerName, Content: string(payload)})
		update("", "Done")
		return nil
	}
}

// portfolioPrompt renders the analyst signals, risk limits and current
// portfolio into the decision prompt.
func portfolioPrompt(state *graph.State, signals map[string]map[string]domain.AnalystSignal) (string, error) {
	signalJSON, err := json.MarshalIndent(signals, "", "  ")
	if err != nil {
		return "", err
	}
	portfolioJSON, err := json.MarshalIndent(state.Data.Portfolio, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tickers: %s\n\n", strings.Join(state.Data.Tickers, ", "))
	fmt.Fprintf(&b, "Analyst signals:\n%s\n\n", signalJSON)
	fmt.Fprintf(&b, "Current portfolio:\n%s\n\n", portfolioJSON)
	b.WriteString("Produce one decision per ticker.")
	return b.String(), nil
}

func holdAll(tickers []string) PortfolioDecisions {
	decisions := make(map[string]domain.TradeDecision, len(tickers))
	for _, t := range tickers {
		decisions[t] = domain.HoldDecision("Model unavailable, defaulting to hold")
	}
	return PortfolioDecisions{Decisions: decisions}
}

// clampDecisions enforces the mechanical constraints the model may violate:
// every ticker gets a decision, quantities are non-negative integers, buys
// respect the remaining position limit, sells and covers respect holdings.
func clampDecisions(out PortfolioDecisions, tickers []string, portfolio *domain.Portfolio, risk map[string]domain.AnalystSignal) map[string]domain.TradeDecision {
	decisions := make(map[string]domain.TradeDecision, len(tickers))
	for _, ticker := range tickers {
		d, ok := out.Decisions[ticker]
		if !ok {
			decisions[ticker] = domain.HoldDecision("No decision produced")
			continue
		}
		if d.Quantity < 0 {
			d.Quantity = 0
		}

		pos := portfolio.Position(ticker)
		switch d.Action {
		case domain.ActionBuy, domain.ActionShort:
			if rs, ok := risk[ticker]; ok && rs.MaxPositionSize != nil && rs.CurrentPrice != nil && *rs.CurrentPrice > 0 {
				maxShares := int(math.Floor(*rs.MaxPositionSize / *rs.CurrentPrice))
				if d.Quantity > maxShares {
					d.Quantity = maxShares
				}
			}
		case domain.ActionSell:
			if d.Quantity > pos.Long {
				d.Quantity = pos.Long
			}
		case domain.ActionCover:
			if d.Quantity > pos.Short {
				d.Quantity = pos.Short
			}
		case domain.ActionHold:
			d.Quantity = 0
		default:
			d = domain.HoldDecision(fmt.Sprintf("Unknown action %q", d.Action))
		}
		if d.Quantity == 0 && d.Action != domain.ActionHold {
			d = domain.HoldDecision("Constrained to zero quantity")
		}
		decisions[ticker] = d
	}
	return decisions
}

// ExtractDecisions parses the portfolio manager's final message back into
// the decision map. Used by the streaming runner and the backtester.
func ExtractDecisions(messages []graph.Message) (map[string]domain.TradeDecision, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Agent != PortfolioManagerName {
			continue
		}
		var out PortfolioDecisions
		if err := json.Unmarshal([]byte(messages[i].Content), &out); err != nil {
			return nil, fmt.Errorf("parsing portfolio manager output: %w", err)
		}
		return out.Decisions, nil
	}
	return nil, fmt.Errorf("no portfolio manager output found")
}
