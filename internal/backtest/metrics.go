package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
)

const (
	tradingDaysPerYear = 252
	riskFreeRate       = 0.03
)

// Metrics summarizes a simulated run. Returns are fractions: 0.25 means
// +25%. MaxDrawdown is negative or zero.
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	ClosedTrades int     `json:"closed_trades"`
}

// computeMetrics derives performance metrics from the daily equity curve
// and the realized trades.
func computeMetrics(equity []DailyValue, trades []ClosedTrade) Metrics {
	m := Metrics{ClosedTrades: len(trades)}
	if len(equity) < 2 {
		return m
	}

	values := make([]float64, len(equity))
	for i, point := range equity {
		values[i] = point.Value.InexactFloat64()
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}

	if values[0] != 0 {
		m.TotalReturn = values[len(values)-1]/values[0] - 1
	}
	m.CAGR = annualize(m.TotalReturn, len(returns))
	m.Volatility = annualizedVolatility(returns)
	if m.Volatility > 0 {
		m.Sharpe = (m.CAGR - riskFreeRate) / m.Volatility
	}
	m.MaxDrawdown = maxDrawdown(values)
	m.WinRate, m.ProfitFactor = tradeStats(trades)

	return m
}

// annualize converts a total return over days trading days to a
// compound annual rate.
func annualize(totalReturn float64, days int) float64 {
	if days == 0 {
		return 0
	}
	return math.Pow(1.0+totalReturn, tradingDaysPerYear/float64(days)) - 1.0
}

func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0
	}
	return sd * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown returns the deepest peak-to-trough loss of the value curve.
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func tradeStats(trades []ClosedTrade) (winRate, profitFactor float64) {
	if len(trades) == 0 {
		return 0, 0
	}

	wins := 0
	var totalWin, totalLoss float64
	for _, t := range trades {
		if t.Return > 0 {
			wins++
			totalWin += t.Return
		} else if t.Return < 0 {
			totalLoss += math.Abs(t.Return)
		}
	}

	winRate = float64(wins) / float64(len(trades))
	if totalLoss > 0 {
		profitFactor = totalWin / totalLoss
	}
	return winRate, profitFactor
}
