package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Annualized risk-free rate used for excess returns, divided over trading
// days.
const (
	annualRiskFree = 0.0434
	tradingDays    = 252
)

// minMetricPoints is the number of portfolio values needed before ratios are
// reported.
const minMetricPoints = 4

// Metrics summarizes a performance series.
type Metrics struct {
	SharpeRatio   *float64 `json:"sharpe_ratio"`
	SortinoRatio  *float64 `json:"sortino_ratio"`
	MaxDrawdown   *float64 `json:"max_drawdown"`
	DrawdownDate  string   `json:"max_drawdown_date,omitempty"`
	TotalReturn   float64  `json:"total_return"`
}

// ComputeMetrics derives Sharpe, Sortino and max drawdown from the daily
// value series. Ratios stay nil below minMetricPoints.
func ComputeMetrics(values []DailyValue) Metrics {
	var m Metrics
	if len(values) == 0 {
		return m
	}
	if first := values[0].NetLiquidationValue; first != 0 {
		m.TotalReturn = (values[len(values)-1].NetLiquidationValue - first) / first
	}

	dd, date := maxDrawdown(values)
	m.MaxDrawdown = &dd
	m.DrawdownDate = date

	if len(values) < minMetricPoints {
		return m
	}

	excess := excessReturns(values)
	sharpe := sharpeRatio(excess)
	sortino := sortinoRatio(excess)
	m.SharpeRatio = &sharpe
	m.SortinoRatio = &sortino
	return m
}

func excessReturns(values []DailyValue) []float64 {
	dailyRF := annualRiskFree / tradingDays
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1].NetLiquidationValue
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (values[i].NetLiquidationValue-prev)/prev-dailyRF)
	}
	return out
}

func sharpeRatio(excess []float64) float64 {
	mean, std := stat.MeanStdDev(excess, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return math.Sqrt(tradingDays) * mean / std
}

// sortinoRatio penalizes downside volatility only. With no negative excess
// returns it is +Inf for a positive mean and 0 otherwise.
func sortinoRatio(excess []float64) float64 {
	mean := stat.Mean(excess, nil)

	var negatives []float64
	for _, r := range excess {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	downside := stat.StdDev(negatives, nil)
	if downside == 0 || math.IsNaN(downside) {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return math.Sqrt(tradingDays) * mean / downside
}

// maxDrawdown is the deepest peak-to-trough decline, as a negative percent,
// with the trough date.
func maxDrawdown(values []DailyValue) (float64, string) {
	runningMax := values[0].NetLiquidationValue
	var worst float64
	var date string
	for _, v := range values {
		if v.NetLiquidationValue > runningMax {
			runningMax = v.NetLiquidationValue
		}
		if runningMax <= 0 {
			continue
		}
		dd := (v.NetLiquidationValue - runningMax) / runningMax
		if dd < worst {
			worst = dd
			date = v.Date
		}
	}
	return worst * 100, date
}
