package strategy

import "time"

// Config is the complete configuration of one ranking strategy.
type Config struct {
	Meta      Meta      `yaml:"meta" json:"meta"`
	Universe  Universe  `yaml:"universe" json:"universe"`
	Factors   Factors   `yaml:"factors" json:"factors"`
	Ranking   Ranking   `yaml:"ranking" json:"ranking"`
	Portfolio Portfolio `yaml:"portfolio" json:"portfolio"`
	Risk      Risk      `yaml:"risk" json:"risk"`
	Rebalance Rebalance `yaml:"rebalance" json:"rebalance"`
}

// Meta identifies the strategy.
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
	Timezone   string `yaml:"timezone" json:"timezone"`
	Benchmark  string `yaml:"benchmark" json:"benchmark"`
}

// Universe defines the investable pool.
type Universe struct {
	Index          string          `yaml:"index" json:"index"`
	Filters        UniverseFilters `yaml:"filters" json:"filters"`
	QualityFloors  QualityFloors   `yaml:"quality_floors" json:"quality_floors"`
	ExcludeSectors []string        `yaml:"exclude_sectors" json:"exclude_sectors"`
}

type UniverseFilters struct {
	MarketCapMinUSD float64 `yaml:"market_cap_min_usd" json:"market_cap_min_usd"`
	ADV20MinUSD     float64 `yaml:"adv20_min_usd" json:"adv20_min_usd"`
	PriceMinUSD     float64 `yaml:"price_min_usd" json:"price_min_usd"`
	MinHistoryDays  int     `yaml:"min_history_days" json:"min_history_days"`
}

// QualityFloors are hard cuts applied after the liquidity filters.
type QualityFloors struct {
	ROEMin             float64 `yaml:"roe_min" json:"roe_min"`
	EarningsQualityMin float64 `yaml:"earnings_quality_min" json:"earnings_quality_min"`
}

// Factors configures scoring.
type Factors struct {
	Normalization Normalization `yaml:"normalization" json:"normalization"`
	Momentum      Momentum      `yaml:"momentum" json:"momentum"`
	Quality       Quality       `yaml:"quality" json:"quality"`
	Value         Value         `yaml:"value" json:"value"`
}

type Normalization struct {
	WinsorizePct  float64 `yaml:"winsorize_pct" json:"winsorize_pct"`
	Method        string  `yaml:"method" json:"method"`                 // "percentile" or "zscore"
	MissingPolicy string  `yaml:"missing_policy" json:"missing_policy"` // fixed: "exclude"
}

// Momentum configures the momentum sub-factors. Returns skip the most
// recent SkipDays to avoid short-term reversal.
type Momentum struct {
	SkipDays          int             `yaml:"skip_days" json:"skip_days"`
	LongLookbackDays  int             `yaml:"long_lookback_days" json:"long_lookback_days"`
	ShortLookbackDays int             `yaml:"short_lookback_days" json:"short_lookback_days"`
	High52WWindowDays int             `yaml:"high52w_window_days" json:"high52w_window_days"`
	Weights           MomentumWeights `yaml:"weights" json:"weights"` // sum = 1.0
}

type MomentumWeights struct {
	Long    float64 `yaml:"long" json:"long"`
	Short   float64 `yaml:"short" json:"short"`
	High52W float64 `yaml:"high52w" json:"high52w"`
}

func (w MomentumWeights) Slice() []float64 {
	return []float64{w.Long, w.Short, w.High52W}
}

type Quality struct {
	Weights QualityWeights `yaml:"weights" json:"weights"` // sum = 1.0
}

type QualityWeights struct {
	ROE               float64 `yaml:"roe" json:"roe"`
	EarningsQuality   float64 `yaml:"earnings_quality" json:"earnings_quality"`
	EarningsStability float64 `yaml:"earnings_stability" json:"earnings_stability"`
}

func (w QualityWeights) Slice() []float64 {
	return []float64{w.ROE, w.EarningsQuality, w.EarningsStability}
}

type Value struct {
	Weights ValueWeights `yaml:"weights" json:"weights"` // sum = 1.0
}

type ValueWeights struct {
	PE       float64 `yaml:"pe" json:"pe"`
	EVEBITDA float64 `yaml:"ev_ebitda" json:"ev_ebitda"`
}

func (w ValueWeights) Slice() []float64 {
	return []float64{w.PE, w.EVEBITDA}
}

// Ranking weights the factor groups into the composite.
type Ranking struct {
	WeightsPct RankingWeights `yaml:"weights_pct" json:"weights_pct"`
}

type RankingWeights struct {
	Momentum int `yaml:"momentum" json:"momentum"`
	Quality  int `yaml:"quality" json:"quality"`
	Value    int `yaml:"value" json:"value"`
}

// Sum returns the sum of all group weights.
func (w RankingWeights) Sum() int {
	return w.Momentum + w.Quality + w.Value
}

// Portfolio configures selection and weighting.
type Portfolio struct {
	Positions  Positions  `yaml:"positions" json:"positions"`
	Buffer     Buffer     `yaml:"buffer" json:"buffer"`
	Allocation Allocation `yaml:"allocation" json:"allocation"`
}

type Positions struct {
	Target int `yaml:"target" json:"target"`
	Min    int `yaml:"min" json:"min"`
}

// Buffer keeps current holdings that slipped below the entry cutoff but
// remain within the buffer zone, damping turnover.
type Buffer struct {
	Mode       string  `yaml:"mode" json:"mode"` // fixed | percentile
	ExtraRanks int     `yaml:"extra_ranks" json:"extra_ranks"`
	Percentile float64 `yaml:"percentile" json:"percentile"`
}

// ExitRank returns the worst rank a current holding may occupy and still
// be retained, given the target position count.
func (b Buffer) ExitRank(target int) int {
	switch b.Mode {
	case "percentile":
		extra := int(float64(target)*b.Percentile + 0.999999)
		return target + extra
	default:
		return target + b.ExtraRanks
	}
}

type Allocation struct {
	PositionMinPct float64 `yaml:"position_min_pct" json:"position_min_pct"`
	PositionMaxPct float64 `yaml:"position_max_pct" json:"position_max_pct"`
	SectorMaxPct   float64 `yaml:"sector_max_pct" json:"sector_max_pct"`
}

// Risk configures the risk overlay.
type Risk struct {
	StopLoss   StopLoss   `yaml:"stop_loss" json:"stop_loss"`
	Volatility Volatility `yaml:"volatility" json:"volatility"`
	VaR        VaR        `yaml:"var" json:"var"`
}

type StopLoss struct {
	HardStopPct float64  `yaml:"hard_stop_pct" json:"hard_stop_pct"`
	Trailing    Trailing `yaml:"trailing" json:"trailing"`
}

// Trailing arms once a position gains ActivateGainPct from entry; from
// then on a DrawdownPct fall from the high closes it.
type Trailing struct {
	ActivateGainPct float64 `yaml:"activate_gain_pct" json:"activate_gain_pct"`
	DrawdownPct     float64 `yaml:"drawdown_pct" json:"drawdown_pct"`
}

type Volatility struct {
	WindowDays    int     `yaml:"window_days" json:"window_days"`
	AnnualizedCap float64 `yaml:"annualized_cap" json:"annualized_cap"`
}

type VaR struct {
	Method     string  `yaml:"method" json:"method"` // historical | parametric
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Limit1D    float64 `yaml:"limit_1d" json:"limit_1d"`
	WindowDays int     `yaml:"window_days" json:"window_days"`
}

// Rebalance configures when the book is rebuilt.
type Rebalance struct {
	Frequency      string  `yaml:"frequency" json:"frequency"` // weekly | monthly | quarterly
	DriftThreshold float64 `yaml:"drift_threshold" json:"drift_threshold"`
}

// DecisionSnapshot freezes the configuration used by one run so decisions
// can be reproduced later.
type DecisionSnapshot struct {
	ConfigHash     string    `json:"config_hash"`
	ConfigYAML     string    `json:"config_yaml"`
	StrategyID     string    `json:"strategy_id"`
	GitCommit      string    `json:"git_commit"`
	DataSnapshotID string    `json:"data_snapshot_id"`
	CreatedAt      time.Time `json:"created_at"`
}
