package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Manager rebalances the book: it selects target holdings from a ranked
// universe, sizes them equally under position and sector constraints, and
// emits the trade instructions that move the current book onto the target.
//
// Selection favors incumbents. A held security is retained while it stays
// inside the buffer band; a new one enters only from strictly inside the
// top N. The asymmetry keeps turnover down when ranks wobble around the
// cutoff.
type Manager struct {
	cfg    *strategy.Config
	logger *logger.Logger
}

// NewManager creates a portfolio manager for the strategy.
func NewManager(cfg *strategy.Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: log.WithField("module", "portfolio"),
	}
}

// candidate is one security admitted to the target book, in pick order.
type candidate struct {
	symbol string
	sector string
	rank   int
}

// SelectTargets builds the trade plan that moves current onto the target
// book implied by ranked. Identical inputs produce an identical plan down
// to instruction order; a book already at target yields a plan with no
// instructions. Fewer eligible candidates than the target count is not an
// error, the plan simply carries a smaller book.
func (m *Manager) SelectTargets(ranked *contracts.RankedUniverse, current contracts.Portfolio) (*contracts.TradePlan, error) {
	if ranked == nil || len(ranked.Entries) == 0 {
		return nil, contracts.ErrEmptyUniverse
	}

	target := m.cfg.Portfolio.Positions.Target
	exitRank := m.cfg.Portfolio.Buffer.ExitRank(target)

	// 1-3. Retention, entry and the greedy sector cap.
	picked := m.pickCandidates(ranked, current, target, exitRank)

	// 4. Equal weight across what survived. An undersized book concentrates
	// weight, so the sector cap is re-checked at the realized weight.
	weight := 0.0
	if len(picked) > 0 {
		weight = 1.0 / float64(min(target, len(picked)))
	}
	picked = m.clampSectors(picked, weight)

	if len(picked) < m.cfg.Portfolio.Positions.Min {
		m.logger.WithFields(map[string]interface{}{
			"selected": len(picked),
			"min":      m.cfg.Portfolio.Positions.Min,
		}).Warn("Portfolio below minimum position count")
	}

	// 5. Target book and the instructions that reach it.
	plan := m.buildPlan(ranked, current, picked, weight)

	m.logger.WithFields(map[string]interface{}{
		"date":         ranked.Date.Format("2006-01-02"),
		"positions":    plan.Target.Count(),
		"instructions": len(plan.Instructions),
		"turnover":     contracts.Turnover(current, plan.Target),
	}).Info("Trade plan built")

	return plan, nil
}

// pickCandidates seats securities in the target book. Holdings inside the
// buffer band keep their seats and are processed before new entrants, both
// in rank order; non-held candidates then fill whatever seats remain,
// walking the full ranking. A candidate whose sector is full is skipped
// and the seat passes down the ranking; there is no reoptimization. The
// buffer band never creates a seat for a newcomer, so absent skips
// entrants come strictly from the top ranks.
func (m *Manager) pickCandidates(ranked *contracts.RankedUniverse, current contracts.Portfolio, target, exitRank int) []candidate {
	var retained, entrants []contracts.RankedSecurity
	for _, e := range ranked.Entries {
		if _, held := current.Positions[e.Symbol]; held {
			if e.Rank <= exitRank {
				retained = append(retained, e)
			}
		} else {
			entrants = append(entrants, e)
		}
	}

	slots := sectorSlots(m.cfg.Portfolio.Allocation.SectorMaxPct, target)
	picked := make([]candidate, 0, target)
	perSector := make(map[string]int)

	admit := func(e contracts.RankedSecurity) {
		if perSector[e.Sector] >= slots {
			m.logger.WithFields(map[string]interface{}{
				"symbol": e.Symbol,
				"sector": e.Sector,
				"rank":   e.Rank,
			}).Debug("Sector at capacity, candidate skipped")
			return
		}
		perSector[e.Sector]++
		picked = append(picked, candidate{symbol: e.Symbol, sector: e.Sector, rank: e.Rank})
	}

	for _, e := range retained {
		if len(picked) >= target {
			break
		}
		admit(e)
	}
	for _, e := range entrants {
		if len(picked) >= target {
			break
		}
		admit(e)
	}

	return picked
}

// sectorSlots returns how many positions one sector may hold when each
// position carries 1/target weight. The epsilon keeps exact multiples,
// like a 30% cap over 50 names, from losing a slot to float rounding.
func sectorSlots(sectorCap float64, target int) int {
	return int(sectorCap*float64(target) + 1e-9)
}

// clampSectors enforces the sector cap at the realized weight. Slots were
// granted assuming 1/target weight, so an undersized book can still put a
// sector over the cap once weight concentrates. The lowest-ranked
// positions of the offending sector are dropped; the freed weight is not
// redistributed, so the book may sum below 1.0.
func (m *Manager) clampSectors(picked []candidate, weight float64) []candidate {
	if len(picked) == 0 || weight <= 0 {
		return picked
	}
	allowed := int(m.cfg.Portfolio.Allocation.SectorMaxPct/weight + 1e-9)

	bySector := make(map[string][]candidate)
	for _, c := range picked {
		bySector[c.sector] = append(bySector[c.sector], c)
	}

	sectors := make([]string, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	dropped := make(map[string]bool)
	for _, sector := range sectors {
		members := bySector[sector]
		if len(members) <= allowed {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].rank < members[j].rank })
		for _, c := range members[allowed:] {
			dropped[c.symbol] = true
		}
		m.logger.WithFields(map[string]interface{}{
			"sector":  sector,
			"dropped": len(members) - allowed,
			"weight":  weight,
		}).Debug("Sector over cap at realized weight")
	}
	if len(dropped) == 0 {
		return picked
	}

	kept := make([]candidate, 0, len(picked))
	for _, c := range picked {
		if !dropped[c.symbol] {
			kept = append(kept, c)
		}
	}
	return kept
}

// buildPlan assembles the target book and the instruction list. Sells come
// before buys, each side ascending by symbol, so execution frees capital
// first and repeated runs emit identical plans.
func (m *Manager) buildPlan(ranked *contracts.RankedUniverse, current contracts.Portfolio, picked []candidate, weight float64) *contracts.TradePlan {
	drift := m.cfg.Rebalance.DriftThreshold
	targetBook := contracts.NewPortfolio(ranked.Date)

	var sells, buys []contracts.TradeInstruction

	kept := make(map[string]bool, len(picked))
	for _, c := range picked {
		kept[c.symbol] = true

		pos := contracts.Position{Symbol: c.symbol, Sector: c.sector, Weight: weight}
		cur, held := current.Positions[c.symbol]
		if !held {
			buys = append(buys, contracts.TradeInstruction{
				Symbol:       c.symbol,
				Action:       contracts.ActionBuy,
				TargetWeight: weight,
				Reason:       fmt.Sprintf("entered at rank %d", c.rank),
				Source:       contracts.SourceRebalance,
			})
			targetBook.Positions[c.symbol] = pos
			continue
		}

		pos.EntryPrice = cur.EntryPrice
		pos.EntryDate = cur.EntryDate
		pos.HighPrice = cur.HighPrice

		diff := weight - cur.Weight
		switch {
		case math.Abs(diff) <= drift:
			// Close enough to target, not worth a trade.
			pos.Weight = cur.Weight
		case diff > 0:
			buys = append(buys, contracts.TradeInstruction{
				Symbol:        c.symbol,
				Action:        contracts.ActionIncrease,
				CurrentWeight: cur.Weight,
				TargetWeight:  weight,
				Reason:        fmt.Sprintf("weight drift %+.4f", diff),
				Source:        contracts.SourceRebalance,
			})
		default:
			sells = append(sells, contracts.TradeInstruction{
				Symbol:        c.symbol,
				Action:        contracts.ActionReduce,
				CurrentWeight: cur.Weight,
				TargetWeight:  weight,
				Reason:        fmt.Sprintf("weight drift %+.4f", diff),
				Source:        contracts.SourceRebalance,
			})
		}
		targetBook.Positions[c.symbol] = pos
	}

	// Whatever did not make the target book is sold outright.
	for _, symbol := range current.Symbols() {
		if kept[symbol] {
			continue
		}
		sells = append(sells, contracts.TradeInstruction{
			Symbol:        symbol,
			Action:        contracts.ActionSell,
			CurrentWeight: current.Positions[symbol].Weight,
			TargetWeight:  0,
			Reason:        m.sellReason(ranked, symbol),
			Source:        contracts.SourceRebalance,
		})
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].Symbol < sells[j].Symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].Symbol < buys[j].Symbol })

	instructions := make([]contracts.TradeInstruction, 0, len(sells)+len(buys))
	instructions = append(instructions, sells...)
	instructions = append(instructions, buys...)

	return &contracts.TradePlan{
		ID:           uuid.New().String(),
		Date:         ranked.Date,
		Target:       targetBook,
		Instructions: instructions,
	}
}

// sellReason explains why a holding fell out of the target book.
func (m *Manager) sellReason(ranked *contracts.RankedUniverse, symbol string) string {
	rank := ranked.RankOf(symbol)
	if rank == 0 {
		return "dropped from ranking"
	}
	exitRank := m.cfg.Portfolio.Buffer.ExitRank(m.cfg.Portfolio.Positions.Target)
	if rank > exitRank {
		return fmt.Sprintf("rank %d beyond buffer %d", rank, exitRank)
	}
	return fmt.Sprintf("no capacity at rank %d", rank)
}

// Apply executes an instruction list against the current book and returns
// the next one. The plan's target supplies composition and weights; risk
// overrides arrive through instructions and win where they differ. Entry
// bookkeeping is stamped from closes for new positions and the high-water
// mark is ratcheted for surviving ones.
func (m *Manager) Apply(current contracts.Portfolio, plan *contracts.TradePlan, instructions []contracts.TradeInstruction, closes map[string]float64, date time.Time) contracts.Portfolio {
	next := plan.Target.Clone()
	next.Date = date

	for _, in := range instructions {
		switch in.Action {
		case contracts.ActionSell:
			delete(next.Positions, in.Symbol)
		case contracts.ActionBuy, contracts.ActionIncrease, contracts.ActionReduce:
			pos, ok := next.Positions[in.Symbol]
			if !ok {
				// A risk reduction can target a holding the plan already
				// dropped; nothing is left to resize.
				continue
			}
			pos.Weight = in.TargetWeight
			next.Positions[in.Symbol] = pos
		}
	}

	for symbol, pos := range next.Positions {
		price := closes[symbol]
		if cur, held := current.Positions[symbol]; held {
			pos.EntryPrice = cur.EntryPrice
			pos.EntryDate = cur.EntryDate
			pos.HighPrice = cur.HighPrice
			if price > pos.HighPrice {
				pos.HighPrice = price
			}
		} else {
			if price <= 0 {
				m.logger.WithField("symbol", symbol).Warn("No close price for new position, entry left unset")
			}
			pos.EntryPrice = price
			pos.EntryDate = date
			pos.HighPrice = price
		}
		next.Positions[symbol] = pos
	}

	return next
}
