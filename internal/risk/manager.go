package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

const (
	// minObservations is the smallest return sample the estimators accept.
	// A position below it is treated as maximum-risk, never skipped.
	minObservations = 20

	tradingDaysPerYear = 252

	// maxVaRPasses bounds the scaling loop; weights only shrink, so the
	// loop converges long before this in practice.
	maxVaRPasses = 10
)

// Manager is the risk overlay. It reads the book and market data, checks
// every rule, and emits override instructions for the positions that
// breach. Overrides take precedence over rebalancing trades downstream.
type Manager struct {
	cfg    *strategy.Config
	logger *logger.Logger
}

// NewManager creates a risk manager for the strategy.
func NewManager(cfg *strategy.Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: log.WithField("module", "risk"),
	}
}

// Evaluate runs the risk rules over the book. Per position the order is
// hard stop, trailing stop, then the volatility cap; the first rule that
// fires owns the position's override. The portfolio VaR check runs last
// over whatever weight survives, shrinking the highest-risk contributors
// until the measure fits the limit.
//
// Reported VaR/CVaR are the figures measured before any scaling; the
// overrides prescribe the cure, they do not restate the diagnosis.
func (m *Manager) Evaluate(portfolio contracts.Portfolio, prices map[string][]contracts.Price) *contracts.RiskReport {
	report := &contracts.RiskReport{Date: portfolio.Date}

	working := make(map[string]float64, portfolio.Count())
	assetReturns := make(map[string][]float64, portfolio.Count())
	sigma := make(map[string]float64, portfolio.Count())
	shaky := make(map[string]bool)
	overrides := make(map[string]contracts.TradeInstruction)

	volCap := m.cfg.Risk.Volatility.AnnualizedCap

	for _, symbol := range portfolio.Symbols() {
		pos := portfolio.Positions[symbol]
		bars := prices[symbol]
		working[symbol] = pos.Weight

		if returns := dailyReturns(bars, m.cfg.Risk.VaR.WindowDays); len(returns) > 0 {
			assetReturns[symbol] = returns
		}

		last, haveLast := latestClose(bars)

		pr := contracts.PositionRisk{Symbol: symbol}
		if pos.EntryPrice > 0 && haveLast {
			pr.ReturnSinceEntry = contracts.MetricOf(last/pos.EntryPrice - 1)
		}
		if pos.HighPrice > 0 && haveLast {
			pr.DrawdownFromHigh = contracts.MetricOf(last/pos.HighPrice - 1)
		}

		annVol, ok := annualizedVol(dailyReturns(bars, m.cfg.Risk.Volatility.WindowDays))
		if ok {
			pr.AnnualizedVol = contracts.MetricOf(annVol)
		} else {
			// Too little history to estimate; assume the worst.
			shaky[symbol] = true
			annVol = 2 * volCap
		}
		sigma[symbol] = annVol / math.Sqrt(tradingDaysPerYear)

		if returns := assetReturns[symbol]; len(returns) >= minObservations {
			pr.VaR95 = contracts.MetricOf(HistoricalVaR(returns, m.cfg.Risk.VaR.Confidence).VaR)
		}
		report.Positions = append(report.Positions, pr)

		if in, event, fired := m.checkStops(pos, last, haveLast, portfolio.Date); fired {
			report.Events = append(report.Events, event)
			overrides[symbol] = in
			working[symbol] = 0
			continue
		}
		if in, event, fired := m.checkVolatility(pos, annVol, shaky[symbol], portfolio.Date); fired {
			report.Events = append(report.Events, event)
			overrides[symbol] = in
			working[symbol] = in.TargetWeight
		}
	}

	m.checkPortfolioVaR(report, portfolio, working, assetReturns, sigma, shaky, overrides)

	report.Overrides = sortedOverrides(overrides)

	m.logger.WithFields(map[string]interface{}{
		"date":      portfolio.Date.Format("2006-01-02"),
		"positions": portfolio.Count(),
		"events":    len(report.Events),
		"overrides": len(report.Overrides),
		"var":       report.PortfolioVaR.Or(0),
	}).Info("Risk evaluation complete")

	return report
}

// checkStops applies the hard stop and the trailing stop. The trailing
// rule arms once the high-water mark is activate_gain_pct above entry;
// from then on a drawdown_pct fall from the high closes the position.
func (m *Manager) checkStops(pos contracts.Position, last float64, haveLast bool, date time.Time) (contracts.TradeInstruction, contracts.RiskEvent, bool) {
	if !haveLast || pos.EntryPrice <= 0 {
		return contracts.TradeInstruction{}, contracts.RiskEvent{}, false
	}

	hardStop := m.cfg.Risk.StopLoss.HardStopPct
	ret := last/pos.EntryPrice - 1
	if hardStop > 0 && ret <= -hardStop {
		return forcedSell(pos, fmt.Sprintf("stop loss: %.1f%% from entry", ret*100)),
			contracts.RiskEvent{
				Symbol:    pos.Symbol,
				Kind:      contracts.RiskStopLoss,
				Date:      date,
				Observed:  ret,
				Threshold: -hardStop,
			}, true
	}

	trailing := m.cfg.Risk.StopLoss.Trailing
	if trailing.DrawdownPct > 0 && pos.HighPrice > 0 {
		gainAtHigh := pos.HighPrice/pos.EntryPrice - 1
		drawdown := last/pos.HighPrice - 1
		if gainAtHigh >= trailing.ActivateGainPct && drawdown <= -trailing.DrawdownPct {
			return forcedSell(pos, fmt.Sprintf("trailing stop: %.1f%% off high", drawdown*100)),
				contracts.RiskEvent{
					Symbol:    pos.Symbol,
					Kind:      contracts.RiskTrailingStop,
					Date:      date,
					Observed:  drawdown,
					Threshold: -trailing.DrawdownPct,
					Detail:    fmt.Sprintf("armed at %+.1f%% gain", gainAtHigh*100),
				}, true
		}
	}

	return contracts.TradeInstruction{}, contracts.RiskEvent{}, false
}

// checkVolatility scales an over-cap position by cap/vol. If the scaled
// weight lands under the minimum position weight, the position is closed
// instead of carried at a size too small to matter.
func (m *Manager) checkVolatility(pos contracts.Position, annVol float64, insufficient bool, date time.Time) (contracts.TradeInstruction, contracts.RiskEvent, bool) {
	volCap := m.cfg.Risk.Volatility.AnnualizedCap
	if volCap <= 0 || annVol <= volCap {
		return contracts.TradeInstruction{}, contracts.RiskEvent{}, false
	}

	event := contracts.RiskEvent{
		Symbol:    pos.Symbol,
		Kind:      contracts.RiskVolatilityCap,
		Date:      date,
		Observed:  annVol,
		Threshold: volCap,
	}
	if insufficient {
		event.Detail = fmt.Sprintf("under %d return observations, treated as maximum risk", minObservations)
	}

	scaled := pos.Weight * volCap / annVol
	if scaled < m.cfg.Portfolio.Allocation.PositionMinPct {
		return forcedSell(pos, fmt.Sprintf("volatility cap: scaled weight %.4f below minimum", scaled)), event, true
	}

	return contracts.TradeInstruction{
		Symbol:        pos.Symbol,
		Action:        contracts.ActionReduce,
		CurrentWeight: pos.Weight,
		TargetWeight:  scaled,
		Reason:        fmt.Sprintf("volatility %.2f over cap %.2f", annVol, volCap),
		Source:        contracts.SourceRisk,
	}, event, true
}

// checkPortfolioVaR measures book-level tail risk and, over the limit,
// shrinks the highest-risk contributors until the measure fits. The
// contributor ordering is w·σ descending with insufficient-history names
// first and ties broken by symbol, so repeated runs trim the same way.
func (m *Manager) checkPortfolioVaR(report *contracts.RiskReport, portfolio contracts.Portfolio, working map[string]float64, assetReturns map[string][]float64, sigma map[string]float64, shaky map[string]bool, overrides map[string]contracts.TradeInstruction) {
	varCfg := m.cfg.Risk.VaR

	measure := func() VaRResult {
		series := WeightedReturns(working, assetReturns)
		if varCfg.Method == "parametric" {
			sd, err := stats.StandardDeviationSample(series)
			if err != nil {
				return VaRResult{Confidence: varCfg.Confidence}
			}
			return ParametricVaR(sd, varCfg.Confidence)
		}
		return HistoricalVaR(series, varCfg.Confidence)
	}

	measured := measure()
	report.PortfolioVaR = contracts.MetricOf(measured.VaR)
	report.PortfolioCVaR = contracts.MetricOf(measured.CVaR)

	if varCfg.Limit1D <= 0 || measured.VaR <= varCfg.Limit1D {
		return
	}

	minWeight := m.cfg.Portfolio.Allocation.PositionMinPct
	touched := make(map[string]bool)
	current := measured

	for pass := 0; pass < maxVaRPasses && current.VaR > varCfg.Limit1D; pass++ {
		order := contributorOrder(working, sigma, shaky)
		if len(order) == 0 {
			break
		}
		for _, symbol := range order {
			if current.VaR <= varCfg.Limit1D {
				break
			}
			scaled := working[symbol] * varCfg.Limit1D / current.VaR
			if scaled < minWeight {
				scaled = 0
			}
			if scaled == working[symbol] {
				continue
			}
			working[symbol] = scaled
			touched[symbol] = true
			current = measure()
		}
	}

	report.Events = append(report.Events, contracts.RiskEvent{
		Kind:      contracts.RiskVaRLimit,
		Date:      portfolio.Date,
		Observed:  measured.VaR,
		Threshold: varCfg.Limit1D,
		Detail:    fmt.Sprintf("%s VaR; %d positions scaled down", varCfg.Method, len(touched)),
	})

	for symbol := range touched {
		action := contracts.ActionReduce
		if working[symbol] == 0 {
			action = contracts.ActionSell
		}
		overrides[symbol] = contracts.TradeInstruction{
			Symbol:        symbol,
			Action:        action,
			CurrentWeight: portfolio.Positions[symbol].Weight,
			TargetWeight:  working[symbol],
			Reason:        fmt.Sprintf("portfolio VaR %.4f over limit %.4f", measured.VaR, varCfg.Limit1D),
			Source:        contracts.SourceRisk,
		}
	}

	if current.VaR > varCfg.Limit1D {
		m.logger.WithFields(map[string]interface{}{
			"var":   current.VaR,
			"limit": varCfg.Limit1D,
		}).Warn("VaR still over limit after scaling")
	}
}

func forcedSell(pos contracts.Position, reason string) contracts.TradeInstruction {
	return contracts.TradeInstruction{
		Symbol:        pos.Symbol,
		Action:        contracts.ActionSell,
		CurrentWeight: pos.Weight,
		TargetWeight:  0,
		Reason:        reason,
		Source:        contracts.SourceRisk,
	}
}

// contributorOrder ranks positions by how much tail risk they carry.
func contributorOrder(working map[string]float64, sigma map[string]float64, shaky map[string]bool) []string {
	symbols := make([]string, 0, len(working))
	for s, w := range working {
		if w > 0 {
			symbols = append(symbols, s)
		}
	}
	sort.Slice(symbols, func(i, j int) bool {
		si, sj := symbols[i], symbols[j]
		if shaky[si] != shaky[sj] {
			return shaky[si]
		}
		ci, cj := working[si]*sigma[si], working[sj]*sigma[sj]
		if ci != cj {
			return ci > cj
		}
		return si < sj
	})
	return symbols
}

// sortedOverrides flattens the override map in symbol order.
func sortedOverrides(overrides map[string]contracts.TradeInstruction) []contracts.TradeInstruction {
	if len(overrides) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(overrides))
	for s := range overrides {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	out := make([]contracts.TradeInstruction, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, overrides[s])
	}
	return out
}

// dailyReturns computes simple daily returns from the adjusted close over
// the trailing window. A window of n needs n+1 bars; shorter histories
// yield what they can.
func dailyReturns(prices []contracts.Price, window int) []float64 {
	if len(prices) < 2 || window < 1 {
		return nil
	}
	start := len(prices) - window - 1
	if start < 0 {
		start = 0
	}

	out := make([]float64, 0, len(prices)-start-1)
	for i := start + 1; i < len(prices); i++ {
		prev := prices[i-1].AdjClose
		if prev <= 0 {
			continue
		}
		out = append(out, prices[i].AdjClose/prev-1)
	}
	return out
}

// annualizedVol scales the sample stddev of daily returns to an annual
// figure. Returns false when the sample is too small to trust.
func annualizedVol(returns []float64) (float64, bool) {
	if len(returns) < minObservations {
		return 0, false
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0, false
	}
	return sd * math.Sqrt(tradingDaysPerYear), true
}

func latestClose(prices []contracts.Price) (float64, bool) {
	if len(prices) == 0 {
		return 0, false
	}
	last := prices[len(prices)-1].AdjClose
	return last, last > 0
}
