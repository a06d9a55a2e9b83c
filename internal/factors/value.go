package factors

import (
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// ValueCalculator derives valuation multiples from the latest
// fundamentals. Multiples stay on their raw scale here; the inversion
// that makes cheap names score high happens during normalization.
type ValueCalculator struct {
	logger *logger.Logger
}

// NewValueCalculator creates a new value calculator.
func NewValueCalculator(log *logger.Logger) *ValueCalculator {
	return &ValueCalculator{
		logger: log,
	}
}

// ValueFactors holds the raw valuation multiples for one security.
type ValueFactors struct {
	PERatio  contracts.Metric
	EVEBITDA contracts.Metric
}

// Calculate computes valuation multiples from fundamentals ordered
// newest first. Non-positive earnings or EBITDA make a multiple
// meaningless, so the metric stays missing instead of going negative
// or infinite.
func (c *ValueCalculator) Calculate(symbol string, fundamentals []contracts.FundamentalRecord) ValueFactors {
	out := ValueFactors{}
	if len(fundamentals) == 0 {
		return out
	}

	latest := fundamentals[0]
	out.PERatio = c.peRatio(latest)
	out.EVEBITDA = c.evEBITDA(latest)

	c.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"pe":        out.PERatio.Ptr(),
		"ev_ebitda": out.EVEBITDA.Ptr(),
	}).Debug("Calculated value inputs")

	return out
}

func (c *ValueCalculator) peRatio(latest contracts.FundamentalRecord) contracts.Metric {
	pe, ok := latest.PERatio.Value()
	if !ok || pe <= 0 {
		return contracts.MissingMetric()
	}
	return contracts.MetricOf(pe)
}

func (c *ValueCalculator) evEBITDA(latest contracts.FundamentalRecord) contracts.Metric {
	ev, ok := latest.EnterpriseValue.Value()
	if !ok || ev <= 0 {
		return contracts.MissingMetric()
	}
	ebitda, ok := latest.EBITDA.Value()
	if !ok || ebitda <= 0 {
		return contracts.MissingMetric()
	}
	return contracts.MetricOf(ev / ebitda)
}
