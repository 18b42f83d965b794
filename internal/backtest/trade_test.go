package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeworks/hedged/internal/domain"
)

func TestExecuteTrade_BuyClampedToCash(t *testing.T) {
	p := domain.NewPortfolio(1000, 0, []string{"AAPL"})

	executed := ExecuteTrade(p, "AAPL", domain.ActionBuy, 15, 100)

	assert.Equal(t, 10, executed)
	assert.Equal(t, float64(0), p.Cash)
	pos := p.Position("AAPL")
	assert.Equal(t, 10, pos.Long)
	assert.Equal(t, float64(100), pos.LongCostBasis)
}

func TestExecuteTrade_BuyUpdatesWeightedCostBasis(t *testing.T) {
	p := domain.NewPortfolio(10000, 0, []string{"AAPL"})

	ExecuteTrade(p, "AAPL", domain.ActionBuy, 10, 100)
	ExecuteTrade(p, "AAPL", domain.ActionBuy, 10, 200)

	pos := p.Position("AAPL")
	assert.Equal(t, 20, pos.Long)
	assert.Equal(t, float64(150), pos.LongCostBasis)
	assert.Equal(t, float64(7000), p.Cash)
}

func TestExecuteTrade_SellClampedAndRealizesGains(t *testing.T) {
	p := domain.NewPortfolio(1000, 0, []string{"AAPL"})
	ExecuteTrade(p, "AAPL", domain.ActionBuy, 10, 100)

	executed := ExecuteTrade(p, "AAPL", domain.ActionSell, 50, 120)

	assert.Equal(t, 10, executed)
	assert.Equal(t, float64(1200), p.Cash)
	assert.Equal(t, float64(200), p.Gains("AAPL").Long)

	pos := p.Position("AAPL")
	assert.Equal(t, 0, pos.Long)
	assert.Equal(t, float64(0), pos.LongCostBasis)
}

func TestExecuteTrade_ShortThenCover(t *testing.T) {
	p := domain.NewPortfolio(1000, 0.5, []string{"AAPL"})

	executed := ExecuteTrade(p, "AAPL", domain.ActionShort, 10, 100)
	require.Equal(t, 10, executed)

	// Proceeds 1000 in, margin 500 out.
	assert.Equal(t, float64(1500), p.Cash)
	assert.Equal(t, float64(500), p.MarginUsed)
	pos := p.Position("AAPL")
	assert.Equal(t, 10, pos.Short)
	assert.Equal(t, float64(100), pos.ShortCostBasis)
	assert.Equal(t, float64(500), pos.ShortMarginUsed)

	executed = ExecuteTrade(p, "AAPL", domain.ActionCover, 10, 80)
	require.Equal(t, 10, executed)

	// Released margin 500, cover cost 800.
	assert.Equal(t, float64(1200), p.Cash)
	assert.Equal(t, float64(0), p.MarginUsed)
	assert.Equal(t, float64(200), p.Gains("AAPL").Short)
	assert.Equal(t, 0, pos.Short)
	assert.Equal(t, float64(0), pos.ShortCostBasis)
	assert.Equal(t, float64(0), pos.ShortMarginUsed)
}

func TestExecuteTrade_ShortClampedToMargin(t *testing.T) {
	p := domain.NewPortfolio(1000, 0.5, []string{"AAPL"})

	// Margin per share is 50; 1000 cash affords 20 shares, not 30.
	executed := ExecuteTrade(p, "AAPL", domain.ActionShort, 30, 100)

	assert.Equal(t, 20, executed)
	assert.Equal(t, float64(1000), p.MarginUsed)
	// Proceeds 2000 in, margin 1000 out.
	assert.Equal(t, float64(2000), p.Cash)
}

func TestExecuteTrade_PartialCoverReleasesProportionalMargin(t *testing.T) {
	p := domain.NewPortfolio(1000, 0.5, []string{"AAPL"})
	ExecuteTrade(p, "AAPL", domain.ActionShort, 10, 100)

	executed := ExecuteTrade(p, "AAPL", domain.ActionCover, 4, 90)

	assert.Equal(t, 4, executed)
	pos := p.Position("AAPL")
	assert.Equal(t, 6, pos.Short)
	assert.Equal(t, float64(300), pos.ShortMarginUsed)
	assert.Equal(t, float64(300), p.MarginUsed)
	// Released 200, cover cost 360: 1500 + 200 - 360.
	assert.InDelta(t, 1340, p.Cash, 1e-9)
	assert.InDelta(t, 40, p.Gains("AAPL").Short, 1e-9)
}

func TestExecuteTrade_MarginInvariant(t *testing.T) {
	p := domain.NewPortfolio(100000, 0.5, []string{"AAPL", "MSFT"})
	ExecuteTrade(p, "AAPL", domain.ActionShort, 10, 100)
	ExecuteTrade(p, "MSFT", domain.ActionShort, 5, 400)
	ExecuteTrade(p, "AAPL", domain.ActionCover, 3, 95)

	assert.InDelta(t, p.TotalShortMargin(), p.MarginUsed, 1e-9)
}

func TestExecuteTrade_NegativeQuantityAndHold(t *testing.T) {
	p := domain.NewPortfolio(1000, 0, []string{"AAPL"})

	assert.Equal(t, 0, ExecuteTrade(p, "AAPL", domain.ActionBuy, -5, 100))
	assert.Equal(t, 0, ExecuteTrade(p, "AAPL", domain.ActionHold, 10, 100))
	assert.Equal(t, 0, ExecuteTrade(p, "AAPL", domain.ActionSell, 10, 100))
	assert.Equal(t, float64(1000), p.Cash)
}

func TestExecuteTrade_BuyWithNoAffordableShares(t *testing.T) {
	p := domain.NewPortfolio(50, 0, []string{"AAPL"})

	assert.Equal(t, 0, ExecuteTrade(p, "AAPL", domain.ActionBuy, 10, 100))
	assert.Equal(t, float64(50), p.Cash)
	assert.Equal(t, 0, p.Position("AAPL").Long)
	assert.Equal(t, float64(0), p.Position("AAPL").LongCostBasis)
}
