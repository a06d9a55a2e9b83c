package factors

import (
	"github.com/montanaflynn/stats"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// minStabilityObservations is the fewest earnings observations that make
// a coefficient of variation meaningful.
const minStabilityObservations = 4

// QualityCalculator derives profitability and earnings-consistency
// inputs from fundamentals history.
type QualityCalculator struct {
	logger *logger.Logger
}

// NewQualityCalculator creates a new quality calculator.
func NewQualityCalculator(log *logger.Logger) *QualityCalculator {
	return &QualityCalculator{
		logger: log,
	}
}

// QualityFactors holds the raw quality inputs for one security.
type QualityFactors struct {
	ROE               contracts.Metric
	EarningsQuality   contracts.Metric // operating cash flow / net income
	EarningsStability contracts.Metric // inverse coefficient of variation of EPS
}

// Calculate computes quality inputs from fundamentals ordered newest
// first. Non-positive net income makes earnings quality undefined, so
// the metric stays missing rather than turning into a huge ratio.
func (c *QualityCalculator) Calculate(symbol string, fundamentals []contracts.FundamentalRecord) QualityFactors {
	out := QualityFactors{}
	if len(fundamentals) == 0 {
		return out
	}

	latest := fundamentals[0]
	out.ROE = latest.ROE
	out.EarningsQuality = c.earningsQuality(latest)
	out.EarningsStability = c.earningsStability(fundamentals)

	c.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"records":   len(fundamentals),
		"roe":       out.ROE.Ptr(),
		"quality":   out.EarningsQuality.Ptr(),
		"stability": out.EarningsStability.Ptr(),
	}).Debug("Calculated quality inputs")

	return out
}

func (c *QualityCalculator) earningsQuality(latest contracts.FundamentalRecord) contracts.Metric {
	ocf, ok := latest.OperatingCashFlow.Value()
	if !ok {
		return contracts.MissingMetric()
	}
	ni, ok := latest.NetIncome.Value()
	if !ok || ni <= 0 {
		return contracts.MissingMetric()
	}
	return contracts.MetricOf(ocf / ni)
}

// earningsStability is mean(EPS)/stddev(EPS) over the trailing records.
// Consistent earners score high; erratic or loss-making ones stay missing.
func (c *QualityCalculator) earningsStability(records []contracts.FundamentalRecord) contracts.Metric {
	eps := make([]float64, 0, len(records))
	for _, r := range records {
		if v, ok := r.EPS.Value(); ok {
			eps = append(eps, v)
		}
	}
	if len(eps) < minStabilityObservations {
		return contracts.MissingMetric()
	}

	mean, err := stats.Mean(eps)
	if err != nil || mean <= 0 {
		return contracts.MissingMetric()
	}
	stdev, err := stats.StandardDeviationSample(eps)
	if err != nil || stdev == 0 {
		return contracts.MissingMetric()
	}

	return contracts.MetricOf(mean / stdev)
}
