package domain

// Signal is an analyst's directional view on a ticker.
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// AnalystSignal is the output of one analyst for one ticker.
// Confidence is a percentage in [0, 100].
//
// The risk manager publishes its per-ticker sizing constraints through the
// same map, using the optional fields below.
type AnalystSignal struct {
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`

	// Risk-manager only
	MaxPositionSize *float64 `json:"remaining_position_limit,omitempty"`
	CurrentPrice    *float64 `json:"current_price,omitempty"`
}

// NeutralSignal is the fallback produced when an analyst fails or an LLM call
// exhausts its retries. Downstream nodes always see a complete signal set.
func NeutralSignal(reason string) AnalystSignal {
	return AnalystSignal{
		Signal:     SignalNeutral,
		Confidence: 0,
		Reasoning:  reason,
	}
}

// TradeAction is a portfolio-manager decision for a single ticker.
type TradeAction string

const (
	ActionBuy   TradeAction = "buy"
	ActionSell  TradeAction = "sell"
	ActionShort TradeAction = "short"
	ActionCover TradeAction = "cover"
	ActionHold  TradeAction = "hold"
)

// TradeDecision is the final per-ticker output of the portfolio manager.
type TradeDecision struct {
	Action     TradeAction `json:"action"`
	Quantity   int         `json:"quantity"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning,omitempty"`
}

// HoldDecision is the default decision used when the portfolio manager cannot
// produce an answer for a ticker.
func HoldDecision(reason string) TradeDecision {
	return TradeDecision{Action: ActionHold, Quantity: 0, Reasoning: reason}
}
