package contracts

import "time"

// RiskEventKind identifies which risk rule fired.
type RiskEventKind string

const (
	RiskStopLoss      RiskEventKind = "stop_loss"
	RiskTrailingStop  RiskEventKind = "trailing_stop"
	RiskVolatilityCap RiskEventKind = "volatility_cap"
	RiskVaRLimit      RiskEventKind = "var_limit"
)

// RiskEvent records one rule breach. Observed and Threshold use the
// rule's native unit: a fractional return for stops, annualized
// volatility for the cap, a one-day loss fraction for VaR.
type RiskEvent struct {
	Symbol    string        `json:"symbol,omitempty"`
	Kind      RiskEventKind `json:"kind"`
	Date      time.Time     `json:"date"`
	Observed  float64       `json:"observed"`
	Threshold float64       `json:"threshold"`
	Detail    string        `json:"detail,omitempty"`
}

// PositionRisk is the per-position risk picture on an evaluation date.
// VaR figures follow the loss-positive convention: 0.03 means a 3% loss.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	ReturnSinceEntry Metric `json:"return_since_entry"`
	DrawdownFromHigh Metric `json:"drawdown_from_high"`
	AnnualizedVol    Metric `json:"annualized_vol"`
	VaR95            Metric `json:"var_95"`
}

// RiskReport is the full output of one risk evaluation: per-position
// diagnostics, portfolio-level tail measures, every rule breach, and the
// override instructions risk management wants applied to the book.
type RiskReport struct {
	Date          time.Time          `json:"date"`
	Positions     []PositionRisk     `json:"positions"`
	PortfolioVaR  Metric             `json:"portfolio_var"`
	PortfolioCVaR Metric             `json:"portfolio_cvar"`
	Events        []RiskEvent        `json:"events"`
	Overrides     []TradeInstruction `json:"overrides"`
}

// Breached reports whether any rule fired for symbol.
func (r RiskReport) Breached(symbol string) bool {
	for _, e := range r.Events {
		if e.Symbol == symbol {
			return true
		}
	}
	return false
}

// EventsOfKind returns the breaches of one kind.
func (r RiskReport) EventsOfKind(kind RiskEventKind) []RiskEvent {
	var out []RiskEvent
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
