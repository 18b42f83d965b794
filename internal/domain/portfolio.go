// Package domain contains the pure types shared across the application.
// The domain layer has no infrastructure dependencies.
package domain

// Position tracks long and short holdings for a single ticker.
//
// Invariants maintained by the backtest engine:
//   - Long and Short share counts are never negative
//   - LongCostBasis is 0 iff Long is 0 (same for the short side)
//   - ShortMarginUsed is 0 iff Short is 0
type Position struct {
	Long            int     `json:"long"`
	Short           int     `json:"short"`
	LongCostBasis   float64 `json:"long_cost_basis"`
	ShortCostBasis  float64 `json:"short_cost_basis"`
	ShortMarginUsed float64 `json:"short_margin_used"`
}

// RealizedGains accumulates realized profit and loss per ticker, split by side.
type RealizedGains struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// Portfolio is the mutable ledger driven by the backtest engine and passed
// (as a snapshot) into every analyst run.
type Portfolio struct {
	Cash              float64                   `json:"cash"`
	MarginRequirement float64                   `json:"margin_requirement"`
	MarginUsed        float64                   `json:"margin_used"`
	Positions         map[string]*Position      `json:"positions"`
	RealizedGains     map[string]*RealizedGains `json:"realized_gains"`
}

// NewPortfolio creates a portfolio with zeroed positions for the given tickers.
func NewPortfolio(cash, marginRequirement float64, tickers []string) *Portfolio {
	p := &Portfolio{
		Cash:              cash,
		MarginRequirement: marginRequirement,
		Positions:         make(map[string]*Position, len(tickers)),
		RealizedGains:     make(map[string]*RealizedGains, len(tickers)),
	}
	for _, t := range tickers {
		p.Positions[t] = &Position{}
		p.RealizedGains[t] = &RealizedGains{}
	}
	return p
}

// Position returns the position for a ticker, creating an empty one if needed.
func (p *Portfolio) Position(ticker string) *Position {
	if p.Positions == nil {
		p.Positions = make(map[string]*Position)
	}
	pos, ok := p.Positions[ticker]
	if !ok {
		pos = &Position{}
		p.Positions[ticker] = pos
	}
	return pos
}

// Gains returns the realized-gains record for a ticker, creating it if needed.
func (p *Portfolio) Gains(ticker string) *RealizedGains {
	if p.RealizedGains == nil {
		p.RealizedGains = make(map[string]*RealizedGains)
	}
	g, ok := p.RealizedGains[ticker]
	if !ok {
		g = &RealizedGains{}
		p.RealizedGains[ticker] = g
	}
	return g
}

// Clone returns a deep copy of the portfolio. Analyst nodes receive clones so
// concurrent readers never observe ledger mutations.
func (p *Portfolio) Clone() *Portfolio {
	clone := &Portfolio{
		Cash:              p.Cash,
		MarginRequirement: p.MarginRequirement,
		MarginUsed:        p.MarginUsed,
		Positions:         make(map[string]*Position, len(p.Positions)),
		RealizedGains:     make(map[string]*RealizedGains, len(p.RealizedGains)),
	}
	for t, pos := range p.Positions {
		cp := *pos
		clone.Positions[t] = &cp
	}
	for t, g := range p.RealizedGains {
		cg := *g
		clone.RealizedGains[t] = &cg
	}
	return clone
}

// TotalShortMargin recomputes margin committed to open shorts from positions.
// The portfolio-level MarginUsed must always equal this sum.
func (p *Portfolio) TotalShortMargin() float64 {
	var total float64
	for _, pos := range p.Positions {
		total += pos.ShortMarginUsed
	}
	return total
}
