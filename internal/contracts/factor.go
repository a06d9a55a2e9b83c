package contracts

import "time"

// RawFactors holds the unnormalized sub-factor inputs for one security.
// Each metric is missing when the underlying data could not support it,
// for example a 12-month momentum with less than a year of history.
type RawFactors struct {
	Momentum12M       Metric `json:"momentum_12m"`
	Momentum6M        Metric `json:"momentum_6m"`
	High52WProximity  Metric `json:"high_52w_proximity"`
	ROE               Metric `json:"roe"`
	EarningsQuality   Metric `json:"earnings_quality"`
	EarningsStability Metric `json:"earnings_stability"`
	PERatio           Metric `json:"pe_ratio"`
	EVEBITDA          Metric `json:"ev_ebitda"`
}

// Complete reports whether every sub-factor is present. Securities with
// incomplete raw factors are skipped rather than scored on partial data.
func (r RawFactors) Complete() bool {
	return r.Momentum12M.Valid() &&
		r.Momentum6M.Valid() &&
		r.High52WProximity.Valid() &&
		r.ROE.Valid() &&
		r.EarningsQuality.Valid() &&
		r.EarningsStability.Valid() &&
		r.PERatio.Valid() &&
		r.EVEBITDA.Valid()
}

// MissingFields lists the names of absent sub-factors for skip reporting.
func (r RawFactors) MissingFields() []string {
	var missing []string
	fields := []struct {
		name string
		m    Metric
	}{
		{"momentum_12m", r.Momentum12M},
		{"momentum_6m", r.Momentum6M},
		{"high_52w_proximity", r.High52WProximity},
		{"roe", r.ROE},
		{"earnings_quality", r.EarningsQuality},
		{"earnings_stability", r.EarningsStability},
		{"pe_ratio", r.PERatio},
		{"ev_ebitda", r.EVEBITDA},
	}
	for _, f := range fields {
		if !f.m.Valid() {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// FactorScore is the scored output for one security: normalized factor
// group scores on a 0-100 scale and their weighted composite.
type FactorScore struct {
	Symbol    string     `json:"symbol"`
	Sector    string     `json:"sector"`
	Momentum  Metric     `json:"momentum"`
	Quality   Metric     `json:"quality"`
	Value     Metric     `json:"value"`
	Composite Metric     `json:"composite"`
	Raw       RawFactors `json:"raw"`
}

// ScoreSet is one scoring pass over a universe. Skipped maps each symbol
// dropped during scoring to the reason, typically missing sub-factors.
type ScoreSet struct {
	Date    time.Time         `json:"date"`
	Scores  []FactorScore     `json:"scores"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// Score returns the entry for symbol, if scored.
func (s ScoreSet) Score(symbol string) (FactorScore, bool) {
	for _, sc := range s.Scores {
		if sc.Symbol == symbol {
			return sc, true
		}
	}
	return FactorScore{}, false
}
