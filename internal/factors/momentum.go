package factors

import (
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

// MomentumCalculator derives trailing-return and 52-week-high momentum
// inputs from a daily price series.
type MomentumCalculator struct {
	cfg    strategy.Momentum
	logger *logger.Logger
}

// NewMomentumCalculator creates a new momentum calculator.
func NewMomentumCalculator(cfg strategy.Momentum, log *logger.Logger) *MomentumCalculator {
	return &MomentumCalculator{
		cfg:    cfg,
		logger: log,
	}
}

// MomentumFactors holds the raw momentum inputs for one security.
type MomentumFactors struct {
	Long    contracts.Metric // trailing return over the long lookback
	Short   contracts.Metric // trailing return over the short lookback
	High52W contracts.Metric // latest close / rolling window high
}

// Calculate computes momentum inputs from prices ordered oldest first.
// A window without enough history yields a missing metric, never zero.
func (c *MomentumCalculator) Calculate(symbol string, prices []contracts.Price) MomentumFactors {
	out := MomentumFactors{
		Long:    c.trailingReturn(prices, c.cfg.SkipDays, c.cfg.LongLookbackDays),
		Short:   c.trailingReturn(prices, c.cfg.SkipDays, c.cfg.ShortLookbackDays),
		High52W: c.highProximity(prices, c.cfg.High52WWindowDays),
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"bars":     len(prices),
		"long":     out.Long.Ptr(),
		"short":    out.Short.Ptr(),
		"high_52w": out.High52W.Ptr(),
	}).Debug("Calculated momentum inputs")

	return out
}

// trailingReturn is the return from lookbackDays ago to skipDays ago,
// both counted back from the latest bar. Skipping the most recent month
// sidesteps short-term reversal.
func (c *MomentumCalculator) trailingReturn(prices []contracts.Price, skipDays, lookbackDays int) contracts.Metric {
	if lookbackDays < 1 || len(prices) < lookbackDays {
		return contracts.MissingMetric()
	}

	ref := skipDays
	if ref < 1 {
		ref = 1
	}
	recent := priceAgo(prices, ref).AdjClose
	past := priceAgo(prices, lookbackDays).AdjClose
	if recent <= 0 || past <= 0 {
		return contracts.MissingMetric()
	}

	return contracts.MetricOf(recent/past - 1)
}

// highProximity is the latest close divided by the highest high of the
// trailing window. Values near 1.0 mean the security trades at its high.
func (c *MomentumCalculator) highProximity(prices []contracts.Price, windowDays int) contracts.Metric {
	if windowDays < 1 || len(prices) < windowDays {
		return contracts.MissingMetric()
	}

	high := 0.0
	for _, p := range prices[len(prices)-windowDays:] {
		if p.High > high {
			high = p.High
		}
	}
	latest := prices[len(prices)-1].Close
	if high <= 0 || latest <= 0 {
		return contracts.MissingMetric()
	}

	return contracts.MetricOf(latest / high)
}

// priceAgo returns the k-th most recent bar, k=1 being the latest.
func priceAgo(prices []contracts.Price, k int) contracts.Price {
	return prices[len(prices)-k]
}
