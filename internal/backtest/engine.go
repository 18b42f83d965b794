// Package backtest replays the analyst pipeline over a historical date
// range and simulates a margin-aware long/short portfolio.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/marketdata"
)

// lookbackDays is the analysis window handed to the pipeline each day.
const lookbackDays = 30

const dateLayout = "2006-01-02"

// DecideFn runs the analyst pipeline for one trading day and returns the
// per-ticker decisions. The portfolio is a snapshot; the engine owns the
// real ledger.
type DecideFn func(ctx context.Context, startDate, endDate string, portfolio *domain.Portfolio) (map[string]domain.TradeDecision, error)

// DailyValue is one point of the performance series.
type DailyValue struct {
	Date                string  `json:"date"`
	NetLiquidationValue float64 `json:"nlv"`
	Cash                float64 `json:"cash"`
	LongExposure        float64 `json:"long_exposure"`
	ShortExposure       float64 `json:"short_exposure"`
	GrossExposure       float64 `json:"gross_exposure"`
	NetExposure         float64 `json:"net_exposure"`
	LongShortRatio      float64 `json:"long_short_ratio"`
}

// Result is the output of a full backtest.
type Result struct {
	Values    []DailyValue      `json:"values"`
	Metrics   Metrics           `json:"metrics"`
	Portfolio *domain.Portfolio `json:"portfolio"`
}

// Config describes one backtest.
type Config struct {
	Tickers           []string
	StartDate         string
	EndDate           string
	InitialCash       float64
	MarginRequirement float64
}

// Engine drives the day-by-day replay.
type Engine struct {
	provider marketdata.Provider
	decide   DecideFn
	log      zerolog.Logger
}

func NewEngine(provider marketdata.Provider, decide DecideFn, log zerolog.Logger) *Engine {
	return &Engine{
		provider: provider,
		decide:   decide,
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

// Run replays every business day in [StartDate, EndDate]. Days with a
// missing price for any relevant ticker are skipped.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	start, err := time.Parse(dateLayout, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(dateLayout, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s precedes start date %s", cfg.EndDate, cfg.StartDate)
	}

	portfolio := domain.NewPortfolio(cfg.InitialCash, cfg.MarginRequirement, cfg.Tickers)
	result := &Result{Portfolio: portfolio}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		date := day.Format(dateLayout)
		prices, ok := e.closingPrices(ctx, portfolio, cfg.Tickers, date)
		if !ok {
			e.log.Debug().Str("date", date).Msg("Missing prices, skipping day")
			continue
		}

		lookbackStart := day.AddDate(0, 0, -lookbackDays).Format(dateLayout)
		decisions, err := e.decide(ctx, lookbackStart, date, portfolio.Clone())
		if err != nil {
			return nil, fmt.Errorf("pipeline failed on %s: %w", date, err)
		}

		for _, ticker := range cfg.Tickers {
			decision, ok := decisions[ticker]
			if !ok {
				continue
			}
			price, ok := prices[ticker]
			if !ok {
				continue
			}
			executed := ExecuteTrade(portfolio, ticker, decision.Action, decision.Quantity, price)
			if executed > 0 {
				e.log.Info().
					Str("date", date).
					Str("ticker", ticker).
					Str("action", string(decision.Action)).
					Int("quantity", executed).
					Float64("price", price).
					Msg("Trade executed")
			}
		}

		result.Values = append(result.Values, dailyValue(portfolio, prices, date))
		if len(result.Values) >= minMetricPoints {
			result.Metrics = ComputeMetrics(result.Values)
		}
	}

	result.Metrics = ComputeMetrics(result.Values)
	return result, nil
}

// closingPrices returns the latest close on or before date for every ticker
// in the universe plus every ticker currently held. A missing price fails
// the whole day.
func (e *Engine) closingPrices(ctx context.Context, portfolio *domain.Portfolio, tickers []string, date string) (map[string]float64, bool) {
	needed := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		needed[t] = true
	}
	for t, pos := range portfolio.Positions {
		if pos.Long > 0 || pos.Short > 0 {
			needed[t] = true
		}
	}

	prices := make(map[string]float64, len(needed))
	for ticker := range needed {
		bars, err := e.provider.GetPrices(ctx, ticker, date, date)
		if err != nil || len(bars) == 0 {
			return nil, false
		}
		prices[ticker] = bars[len(bars)-1].Close
	}
	return prices, true
}

// dailyValue computes NLV and the exposure breakdown. NLV is authoritative;
// exposure metrics derive from positions only.
func dailyValue(p *domain.Portfolio, prices map[string]float64, date string) DailyValue {
	var long, short float64
	for ticker, pos := range p.Positions {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		long += float64(pos.Long) * price
		short += float64(pos.Short) * price
	}

	v := DailyValue{
		Date:                date,
		NetLiquidationValue: p.Cash + long - short,
		Cash:                p.Cash,
		LongExposure:        long,
		ShortExposure:       short,
		GrossExposure:       long + short,
		NetExposure:         long - short,
	}
	if short > 0 {
		v.LongShortRatio = long / short
	}
	return v
}
