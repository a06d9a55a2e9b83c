package contracts

import "time"

// Security identifies one listed instrument in the investable universe.
type Security struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Industry string `json:"industry,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Active   bool   `json:"active"`
}

// Price is one daily OHLCV bar. AdjClose carries the split and dividend
// adjusted close used by every return computation; Close is the raw print.
type Price struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// DollarVolume returns the traded notional for the bar.
func (p Price) DollarVolume() float64 {
	return p.Close * float64(p.Volume)
}

// FundamentalRecord is one as-reported fundamentals snapshot. Fields a
// vendor did not supply stay missing rather than zero.
type FundamentalRecord struct {
	Symbol            string    `json:"symbol"`
	Date              time.Time `json:"date"`
	ROE               Metric    `json:"roe"`
	EPS               Metric    `json:"eps"`
	NetIncome         Metric    `json:"net_income"`
	OperatingCashFlow Metric    `json:"operating_cash_flow"`
	PERatio           Metric    `json:"pe_ratio"`
	EnterpriseValue   Metric    `json:"enterprise_value"`
	EBITDA            Metric    `json:"ebitda"`
	ProfitMargin      Metric    `json:"profit_margin"`
	MarketCap         Metric    `json:"market_cap"`
	SharesOutstanding Metric    `json:"shares_outstanding"`
}

// Complete reports whether every field carries a value.
func (f FundamentalRecord) Complete() bool {
	for _, m := range []Metric{
		f.ROE, f.EPS, f.NetIncome, f.OperatingCashFlow, f.PERatio,
		f.EnterpriseValue, f.EBITDA, f.ProfitMargin, f.MarketCap,
		f.SharesOutstanding,
	} {
		if !m.Valid() {
			return false
		}
	}
	return true
}

// SecuritySnapshot bundles everything the factor pipeline needs for one
// security on one evaluation date. Prices are ordered oldest first and
// Fundamentals newest first.
type SecuritySnapshot struct {
	Security     Security            `json:"security"`
	Prices       []Price             `json:"prices"`
	Fundamentals []FundamentalRecord `json:"fundamentals"`
}

// LatestPrice returns the most recent bar, if any.
func (s SecuritySnapshot) LatestPrice() (Price, bool) {
	if len(s.Prices) == 0 {
		return Price{}, false
	}
	return s.Prices[len(s.Prices)-1], true
}

// LatestFundamentals returns the most recent fundamentals record, if any.
func (s SecuritySnapshot) LatestFundamentals() (FundamentalRecord, bool) {
	if len(s.Fundamentals) == 0 {
		return FundamentalRecord{}, false
	}
	return s.Fundamentals[0], true
}

// Universe is the screened set of securities eligible for ranking on a date.
// Excluded maps each rejected symbol to the reason it failed screening.
type Universe struct {
	Date       time.Time         `json:"date"`
	Symbols    []string          `json:"symbols"`
	Excluded   map[string]string `json:"excluded,omitempty"`
	TotalCount int               `json:"total_count"`
}

// Contains reports whether symbol survived screening.
func (u Universe) Contains(symbol string) bool {
	for _, s := range u.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Size returns the number of eligible securities.
func (u Universe) Size() int {
	return len(u.Symbols)
}
