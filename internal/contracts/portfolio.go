package contracts

import (
	"sort"
	"time"
)

// Action is the direction of a trade instruction.
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionHold     Action = "HOLD"
	ActionIncrease Action = "INCREASE"
	ActionReduce   Action = "REDUCE"
)

// Severity orders actions for conflict resolution when instructions from
// rebalancing and risk management target the same symbol. A full SELL
// always beats a partial reduction, which beats any accumulation.
func (a Action) Severity() int {
	switch a {
	case ActionSell:
		return 4
	case ActionReduce:
		return 3
	case ActionIncrease:
		return 2
	case ActionBuy:
		return 1
	default:
		return 0
	}
}

// Instruction sources, recorded so an audit can attribute every trade.
const (
	SourceRebalance = "rebalance"
	SourceRisk      = "risk"
)

// Position is one holding with its assigned weight and entry bookkeeping
// for stop-loss evaluation.
type Position struct {
	Symbol     string    `json:"symbol"`
	Sector     string    `json:"sector"`
	Weight     float64   `json:"weight"`
	EntryPrice float64   `json:"entry_price"`
	EntryDate  time.Time `json:"entry_date"`
	HighPrice  float64   `json:"high_price"`
}

// Portfolio is a weighted set of positions as of a date. Weights are
// portfolio fractions; their sum never exceeds 1 but may fall short when
// constraint clamping trims positions without redistributing.
type Portfolio struct {
	Date      time.Time           `json:"date"`
	Positions map[string]Position `json:"positions"`
}

// NewPortfolio returns an empty portfolio for the date.
func NewPortfolio(date time.Time) Portfolio {
	return Portfolio{Date: date, Positions: make(map[string]Position)}
}

// Symbols returns held symbols in ascending order for deterministic iteration.
func (p Portfolio) Symbols() []string {
	symbols := make([]string, 0, len(p.Positions))
	for s := range p.Positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Weight returns the weight held in symbol, zero when absent.
func (p Portfolio) Weight(symbol string) float64 {
	return p.Positions[symbol].Weight
}

// TotalWeight returns the sum of all position weights.
func (p Portfolio) TotalWeight() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		total += pos.Weight
	}
	return total
}

// SectorWeights returns the aggregate weight held per sector.
func (p Portfolio) SectorWeights() map[string]float64 {
	weights := make(map[string]float64)
	for _, pos := range p.Positions {
		weights[pos.Sector] += pos.Weight
	}
	return weights
}

// Count returns the number of positions.
func (p Portfolio) Count() int {
	return len(p.Positions)
}

// Clone returns a deep copy safe to mutate.
func (p Portfolio) Clone() Portfolio {
	out := Portfolio{Date: p.Date, Positions: make(map[string]Position, len(p.Positions))}
	for s, pos := range p.Positions {
		out.Positions[s] = pos
	}
	return out
}

// TradeInstruction is one actionable order in a trade plan.
type TradeInstruction struct {
	Symbol        string  `json:"symbol"`
	Action        Action  `json:"action"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	Reason        string  `json:"reason"`
	Source        string  `json:"source"`
}

// TradePlan is the complete output of one rebalancing decision: the target
// portfolio and the instructions that move the current book onto it.
type TradePlan struct {
	ID           string             `json:"id"`
	Date         time.Time          `json:"date"`
	Target       Portfolio          `json:"target"`
	Instructions []TradeInstruction `json:"instructions"`
}

// InstructionFor returns the instruction for symbol, if present.
func (tp TradePlan) InstructionFor(symbol string) (TradeInstruction, bool) {
	for _, in := range tp.Instructions {
		if in.Symbol == symbol {
			return in, true
		}
	}
	return TradeInstruction{}, false
}

// Buys returns instructions that add exposure.
func (tp TradePlan) Buys() []TradeInstruction {
	var out []TradeInstruction
	for _, in := range tp.Instructions {
		if in.Action == ActionBuy || in.Action == ActionIncrease {
			out = append(out, in)
		}
	}
	return out
}

// Sells returns instructions that cut exposure.
func (tp TradePlan) Sells() []TradeInstruction {
	var out []TradeInstruction
	for _, in := range tp.Instructions {
		if in.Action == ActionSell || in.Action == ActionReduce {
			out = append(out, in)
		}
	}
	return out
}

// Turnover returns one-sided turnover: half the sum of absolute weight
// changes between the current and target books.
func Turnover(current, target Portfolio) float64 {
	symbols := make(map[string]struct{})
	for s := range current.Positions {
		symbols[s] = struct{}{}
	}
	for s := range target.Positions {
		symbols[s] = struct{}{}
	}
	sum := 0.0
	for s := range symbols {
		diff := target.Weight(s) - current.Weight(s)
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum / 2
}
