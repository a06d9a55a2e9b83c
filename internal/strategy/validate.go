package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ValidationError is a fatal configuration defect. The program must not
// run with a config that fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is a recommended-practice violation. Logged, never fatal.
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints.
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}
	if cfg.Meta.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Meta.Timezone); err != nil {
			return ValidationError{"meta.timezone", "unknown timezone"}
		}
	}

	// === Universe ===
	f := cfg.Universe.Filters
	if f.MarketCapMinUSD <= 0 {
		return ValidationError{"universe.filters.market_cap_min_usd", "must be > 0"}
	}
	if f.ADV20MinUSD <= 0 {
		return ValidationError{"universe.filters.adv20_min_usd", "must be > 0"}
	}
	if f.PriceMinUSD <= 0 {
		return ValidationError{"universe.filters.price_min_usd", "must be > 0"}
	}
	if f.MinHistoryDays < cfg.Factors.Momentum.LongLookbackDays {
		return ValidationError{"universe.filters.min_history_days",
			fmt.Sprintf("must be >= momentum long lookback (%d)", cfg.Factors.Momentum.LongLookbackDays)}
	}
	if cfg.Universe.QualityFloors.ROEMin < 0 {
		return ValidationError{"universe.quality_floors.roe_min", "must be >= 0"}
	}
	if cfg.Universe.QualityFloors.EarningsQualityMin < 0 {
		return ValidationError{"universe.quality_floors.earnings_quality_min", "must be >= 0"}
	}

	// === Factors ===
	n := cfg.Factors.Normalization
	if n.WinsorizePct < 0 || n.WinsorizePct >= 0.25 {
		return ValidationError{"factors.normalization.winsorize_pct", "must be in [0, 0.25)"}
	}
	if n.Method != "percentile" && n.Method != "zscore" {
		return ValidationError{"factors.normalization.method", "must be 'percentile' or 'zscore'"}
	}
	if n.MissingPolicy != "exclude" {
		return ValidationError{"factors.normalization.missing_policy", "must be 'exclude'"}
	}

	m := cfg.Factors.Momentum
	if m.SkipDays < 0 {
		return ValidationError{"factors.momentum.skip_days", "must be >= 0"}
	}
	if m.ShortLookbackDays <= m.SkipDays {
		return ValidationError{"factors.momentum.short_lookback_days", "must be > skip_days"}
	}
	if m.LongLookbackDays <= m.ShortLookbackDays {
		return ValidationError{"factors.momentum.long_lookback_days", "must be > short_lookback_days"}
	}
	if m.High52WWindowDays <= 0 {
		return ValidationError{"factors.momentum.high52w_window_days", "must be > 0"}
	}
	if err := validateWeightsSum(m.Weights.Slice(), 1.0, 1e-6); err != nil {
		return ValidationError{"factors.momentum.weights", err.Error()}
	}
	if err := validateWeightsSum(cfg.Factors.Quality.Weights.Slice(), 1.0, 1e-6); err != nil {
		return ValidationError{"factors.quality.weights", err.Error()}
	}
	if err := validateWeightsSum(cfg.Factors.Value.Weights.Slice(), 1.0, 1e-6); err != nil {
		return ValidationError{"factors.value.weights", err.Error()}
	}

	// === Ranking ===
	if cfg.Ranking.WeightsPct.Sum() != 100 {
		return ValidationError{"ranking.weights_pct", fmt.Sprintf("must sum to 100, got %d", cfg.Ranking.WeightsPct.Sum())}
	}

	// === Portfolio ===
	p := cfg.Portfolio.Positions
	if p.Target < 1 {
		return ValidationError{"portfolio.positions.target", "must be >= 1"}
	}
	if p.Min < 0 || p.Min > p.Target {
		return ValidationError{"portfolio.positions", "must satisfy 0 <= min <= target"}
	}

	b := cfg.Portfolio.Buffer
	switch b.Mode {
	case "fixed":
		if b.ExtraRanks < 0 {
			return ValidationError{"portfolio.buffer.extra_ranks", "must be >= 0"}
		}
	case "percentile":
		if b.Percentile <= 0 || b.Percentile > 1 {
			return ValidationError{"portfolio.buffer.percentile", "must be in (0, 1]"}
		}
	default:
		return ValidationError{"portfolio.buffer.mode", "must be 'fixed' or 'percentile'"}
	}

	a := cfg.Portfolio.Allocation
	if err := validatePctRange(a.PositionMinPct, "portfolio.allocation.position_min_pct"); err != nil {
		return err
	}
	if err := validatePctRange(a.PositionMaxPct, "portfolio.allocation.position_max_pct"); err != nil {
		return err
	}
	if err := validatePctRange(a.SectorMaxPct, "portfolio.allocation.sector_max_pct"); err != nil {
		return err
	}
	if a.PositionMinPct > a.PositionMaxPct {
		return ValidationError{"portfolio.allocation", "position_min_pct must be <= position_max_pct"}
	}
	if a.SectorMaxPct < a.PositionMaxPct {
		return ValidationError{"portfolio.allocation", "sector_max_pct must be >= position_max_pct"}
	}

	// A full book holds target positions at 1/target each. That weight
	// must sit inside the position band or every run violates it.
	equalWeight := 1.0 / float64(p.Target)
	if equalWeight < a.PositionMinPct || equalWeight > a.PositionMaxPct {
		return ValidationError{"portfolio",
			fmt.Sprintf("equal weight 1/target=%.4f outside [position_min_pct, position_max_pct]", equalWeight)}
	}
	if a.SectorMaxPct < equalWeight {
		return ValidationError{"portfolio.allocation.sector_max_pct",
			"must allow at least one position per sector"}
	}

	// === Risk ===
	s := cfg.Risk.StopLoss
	if s.HardStopPct <= 0 || s.HardStopPct >= 1 {
		return ValidationError{"risk.stop_loss.hard_stop_pct", "must be in (0, 1)"}
	}
	if s.Trailing.ActivateGainPct < 0 {
		return ValidationError{"risk.stop_loss.trailing.activate_gain_pct", "must be >= 0"}
	}
	if s.Trailing.DrawdownPct <= 0 || s.Trailing.DrawdownPct >= 1 {
		return ValidationError{"risk.stop_loss.trailing.drawdown_pct", "must be in (0, 1)"}
	}

	v := cfg.Risk.Volatility
	if v.WindowDays < 2 {
		return ValidationError{"risk.volatility.window_days", "must be >= 2"}
	}
	if v.AnnualizedCap <= 0 {
		return ValidationError{"risk.volatility.annualized_cap", "must be > 0"}
	}

	vr := cfg.Risk.VaR
	if vr.Method != "historical" && vr.Method != "parametric" {
		return ValidationError{"risk.var.method", "must be 'historical' or 'parametric'"}
	}
	if vr.Confidence <= 0.5 || vr.Confidence >= 1 {
		return ValidationError{"risk.var.confidence", "must be in (0.5, 1)"}
	}
	if vr.Limit1D <= 0 {
		return ValidationError{"risk.var.limit_1d", "must be > 0"}
	}
	if vr.WindowDays < 30 {
		return ValidationError{"risk.var.window_days", "must be >= 30"}
	}

	// === Rebalance ===
	switch cfg.Rebalance.Frequency {
	case "weekly", "monthly", "quarterly":
	default:
		return ValidationError{"rebalance.frequency", "must be weekly, monthly, or quarterly"}
	}
	if cfg.Rebalance.DriftThreshold < 0 || cfg.Rebalance.DriftThreshold >= 1 {
		return ValidationError{"rebalance.drift_threshold", "must be in [0, 1)"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal).
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	if cfg.Universe.Filters.ADV20MinUSD < 5_000_000 {
		warnings = append(warnings, Warning{
			Code:    "LOW_LIQUIDITY",
			Message: "ADV20 floor below $5M: execution slippage risk on rebalance days",
		})
	}

	if cfg.Portfolio.Positions.Target < 20 {
		warnings = append(warnings, Warning{
			Code:    "CONCENTRATED_BOOK",
			Message: "fewer than 20 target positions: idiosyncratic risk dominates",
		})
	}

	if cfg.Portfolio.Allocation.PositionMaxPct > 0.10 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_SINGLE_NAME",
			Message: "position cap above 10%: single-name blowups move the book",
		})
	}

	if cfg.Ranking.WeightsPct.Momentum > 80 {
		warnings = append(warnings, Warning{
			Code:    "MOMENTUM_HEAVY",
			Message: "momentum weight above 80%: crash risk in factor reversals",
		})
	}

	if cfg.Risk.VaR.Limit1D > 0.05 {
		warnings = append(warnings, Warning{
			Code:    "LOOSE_VAR",
			Message: "1-day VaR limit above 5%: overlay rarely binds",
		})
	}

	if cfg.Rebalance.DriftThreshold == 0 {
		warnings = append(warnings, Warning{
			Code:    "ZERO_DRIFT",
			Message: "drift threshold 0: every drift check triggers a rebalance",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateWeightsSum(weights []float64, target float64, epsilon float64) error {
	if len(weights) == 0 {
		return errors.New("must not be empty")
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-target) > epsilon {
		return fmt.Errorf("must sum to %.2f, got %.4f", target, sum)
	}
	return nil
}

func validatePctRange(pct float64, field string) error {
	if pct < 0 || pct > 1 {
		return ValidationError{field, "must be in range [0, 1]"}
	}
	return nil
}
