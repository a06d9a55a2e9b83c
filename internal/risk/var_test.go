package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalVaR(t *testing.T) {
	// 100 returns: -10%, -9%, ..., then 90 mild gains. The worst 5% cutoff
	// at 95% confidence lands on the 6th-worst observation.
	returns := make([]float64, 0, 100)
	for i := 0; i < 10; i++ {
		returns = append(returns, -0.10+float64(i)*0.01)
	}
	for i := 0; i < 90; i++ {
		returns = append(returns, 0.001)
	}

	result := HistoricalVaR(returns, 0.95)
	assert.InDelta(t, 0.05, result.VaR, 1e-9)

	// CVaR averages the cutoff and everything worse: (-10..-5)/6.
	assert.InDelta(t, 0.075, result.CVaR, 1e-9)
	assert.InDelta(t, 0.95, result.Confidence, 1e-12)
}

func TestHistoricalVaRAllGains(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.005, 0.03}
	result := HistoricalVaR(returns, 0.95)
	assert.Zero(t, result.VaR)
	assert.Zero(t, result.CVaR)
}

func TestHistoricalVaREmpty(t *testing.T) {
	result := HistoricalVaR(nil, 0.99)
	assert.Zero(t, result.VaR)
	assert.InDelta(t, 0.99, result.Confidence, 1e-12)
}

func TestParametricVaR(t *testing.T) {
	// σ=1% at 95% ⇒ VaR = 1.645%.
	result := ParametricVaR(0.01, 0.95)
	assert.InDelta(t, 0.01645, result.VaR, 1e-6)

	// VaR + σ·φ(z)/(1-c): 1.645% + 2.063%.
	require.Greater(t, result.CVaR, result.VaR)
	assert.InDelta(t, 0.037077, result.CVaR, 1e-4)
}

func TestNormInv(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0.95, 1.645},
		{0.99, 2.326},
		{0.975, 1.96},
		{0.90, 1.282},
		{0.50, 0},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, NormInv(tc.p), 1e-3)
	}

	// Approximation branch, checked against tables.
	assert.InDelta(t, 2.576, NormInv(0.995), 1e-3)
	assert.InDelta(t, -1.645, NormInv(0.05), 1e-3)
	assert.Zero(t, NormInv(0))
	assert.Zero(t, NormInv(1))
}

func TestWeightedReturns(t *testing.T) {
	weights := map[string]float64{"A": 0.6, "B": 0.4}
	assetReturns := map[string][]float64{
		"A": {0.01, 0.02, -0.01},
		"B": {0.03, -0.02}, // shorter series truncates the window
	}

	series := WeightedReturns(weights, assetReturns)
	require.Len(t, series, 2)

	// Aligned from the most recent observation backward.
	assert.InDelta(t, 0.6*0.02+0.4*0.03, series[0], 1e-12)
	assert.InDelta(t, 0.6*-0.01+0.4*-0.02, series[1], 1e-12)
}

func TestWeightedReturnsIgnoresZeroWeights(t *testing.T) {
	weights := map[string]float64{"A": 1.0, "B": 0}
	assetReturns := map[string][]float64{
		"A": {0.01, 0.02},
		"B": {0.5}, // would truncate to one observation if counted
	}

	series := WeightedReturns(weights, assetReturns)
	require.Len(t, series, 2)
	assert.InDelta(t, 0.01, series[0], 1e-12)
}

func TestWeightedReturnsEmpty(t *testing.T) {
	assert.Nil(t, WeightedReturns(nil, nil))
	assert.Nil(t, WeightedReturns(map[string]float64{"A": 0.5}, map[string][]float64{}))
}
