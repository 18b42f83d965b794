package backtest

import (
	"math"

	"github.com/hedgeworks/hedged/internal/domain"
)

// ExecuteTrade applies one trade to the ledger and returns the executed
// quantity. Quantities are floored to non-negative integers before any
// check; orders that exceed cash, margin, or holdings are clamped, never
// rejected.
func ExecuteTrade(p *domain.Portfolio, ticker string, action domain.TradeAction, quantity int, price float64) int {
	if quantity < 0 {
		quantity = 0
	}
	if price <= 0 {
		return 0
	}

	switch action {
	case domain.ActionBuy:
		return executeBuy(p, ticker, quantity, price)
	case domain.ActionSell:
		return executeSell(p, ticker, quantity, price)
	case domain.ActionShort:
		return executeShort(p, ticker, quantity, price)
	case domain.ActionCover:
		return executeCover(p, ticker, quantity, price)
	default:
		return 0
	}
}

func executeBuy(p *domain.Portfolio, ticker string, quantity int, price float64) int {
	cost := float64(quantity) * price
	if cost > p.Cash {
		quantity = int(math.Floor(p.Cash / price))
		cost = float64(quantity) * price
	}
	if quantity <= 0 {
		return 0
	}

	pos := p.Position(ticker)
	oldShares := float64(pos.Long)
	newShares := oldShares + float64(quantity)
	pos.LongCostBasis = (pos.LongCostBasis*oldShares + cost) / newShares
	pos.Long += quantity
	p.Cash -= cost
	return quantity
}

func executeSell(p *domain.Portfolio, ticker string, quantity int, price float64) int {
	pos := p.Position(ticker)
	if quantity > pos.Long {
		quantity = pos.Long
	}
	if quantity <= 0 {
		return 0
	}

	p.Gains(ticker).Long += (price - pos.LongCostBasis) * float64(quantity)
	pos.Long -= quantity
	p.Cash += float64(quantity) * price
	if pos.Long == 0 {
		pos.LongCostBasis = 0
	}
	return quantity
}

func executeShort(p *domain.Portfolio, ticker string, quantity int, price float64) int {
	marginPerShare := price * p.MarginRequirement
	required := float64(quantity) * marginPerShare
	if required > p.Cash && marginPerShare > 0 {
		quantity = int(math.Floor(p.Cash / marginPerShare))
		required = float64(quantity) * marginPerShare
	}
	if quantity <= 0 {
		return 0
	}

	pos := p.Position(ticker)
	proceeds := float64(quantity) * price
	oldShares := float64(pos.Short)
	newShares := oldShares + float64(quantity)
	pos.ShortCostBasis = (pos.ShortCostBasis*oldShares + proceeds) / newShares
	pos.Short += quantity
	pos.ShortMarginUsed += required
	p.MarginUsed += required
	p.Cash += proceeds - required
	return quantity
}

func executeCover(p *domain.Portfolio, ticker string, quantity int, price float64) int {
	pos := p.Position(ticker)
	if quantity > pos.Short {
		quantity = pos.Short
	}
	if quantity <= 0 {
		return 0
	}

	releasedMargin := float64(quantity) / float64(pos.Short) * pos.ShortMarginUsed
	coverCost := float64(quantity) * price

	p.Gains(ticker).Short += (pos.ShortCostBasis - price) * float64(quantity)
	pos.Short -= quantity
	pos.ShortMarginUsed -= releasedMargin
	p.MarginUsed -= releasedMargin
	p.Cash += releasedMargin - coverCost
	if pos.Short == 0 {
		pos.ShortCostBasis = 0
		pos.ShortMarginUsed = 0
	}
	return quantity
}
