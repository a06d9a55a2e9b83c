package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func equityCurve(values ...float64) []DailyValue {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := make([]DailyValue, len(values))
	for i, v := range values {
		curve[i] = DailyValue{Date: base.AddDate(0, 0, i), Value: decimal.NewFromFloat(v)}
	}
	return curve
}

func TestAnnualize(t *testing.T) {
	// One trading year of +10% annualizes to itself.
	assert.InDelta(t, 0.10, annualize(0.10, 252), 1e-12)
	// Two years of +21% compound back to +10% a year.
	assert.InDelta(t, 0.10, annualize(0.21, 504), 1e-9)
	assert.Zero(t, annualize(0.10, 0))
	assert.Zero(t, annualize(0, 252))
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Zero(t, annualizedVolatility(nil))
	assert.Zero(t, annualizedVolatility([]float64{0.01}))

	// Sample stddev of (0.1, -0.1) is sqrt(0.02).
	got := annualizedVolatility([]float64{0.1, -0.1})
	assert.InDelta(t, math.Sqrt(0.02)*math.Sqrt(252), got, 1e-12)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, maxDrawdown(nil))
	assert.Zero(t, maxDrawdown([]float64{100, 110, 120}))

	// Peak 120 to trough 80.
	got := maxDrawdown([]float64{100, 120, 90, 110, 80})
	assert.InDelta(t, (80.0-120.0)/120.0, got, 1e-12)
}

func TestTradeStats(t *testing.T) {
	winRate, profitFactor := tradeStats(nil)
	assert.Zero(t, winRate)
	assert.Zero(t, profitFactor)

	winRate, profitFactor = tradeStats([]ClosedTrade{
		{Return: 0.10},
		{Return: 0.30},
		{Return: -0.20},
	})
	assert.InDelta(t, 2.0/3.0, winRate, 1e-12)
	assert.InDelta(t, 2.0, profitFactor, 1e-12)

	// No losing trades leaves the profit factor undefined at zero.
	winRate, profitFactor = tradeStats([]ClosedTrade{{Return: 0.10}})
	assert.InDelta(t, 1.0, winRate, 1e-12)
	assert.Zero(t, profitFactor)
}

func TestComputeMetrics(t *testing.T) {
	m := computeMetrics(equityCurve(100, 110, 99), []ClosedTrade{{Return: -0.01}})

	assert.InDelta(t, -0.01, m.TotalReturn, 1e-12)
	assert.InDelta(t, math.Pow(0.99, 126)-1, m.CAGR, 1e-9)
	assert.InDelta(t, math.Sqrt(0.02)*math.Sqrt(252), m.Volatility, 1e-9)
	assert.InDelta(t, (m.CAGR-riskFreeRate)/m.Volatility, m.Sharpe, 1e-12)
	assert.InDelta(t, -0.10, m.MaxDrawdown, 1e-12)
	assert.Zero(t, m.WinRate)
	assert.Equal(t, 1, m.ClosedTrades)
}

func TestComputeMetricsShortCurve(t *testing.T) {
	m := computeMetrics(equityCurve(100), nil)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.ClosedTrades)
}
