package universe

import (
	"fmt"
	"sort"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

// adv20Window is the bar count behind the average dollar volume filter.
const adv20Window = 20

// Screener applies the eligibility filters that carve the investable
// universe out of the security master.
type Screener struct {
	cfg    strategy.Universe
	logger *logger.Logger
}

// NewScreener creates a new screener.
func NewScreener(cfg strategy.Universe, log *logger.Logger) *Screener {
	return &Screener{
		cfg:    cfg,
		logger: log.WithField("module", "universe"),
	}
}

// Screen filters snapshots into the eligible universe for date. Every
// rejected security lands in Excluded with the reason it failed; an
// empty result is the caller's problem to treat as fatal.
func (s *Screener) Screen(date time.Time, snapshots []contracts.SecuritySnapshot) *contracts.Universe {
	universe := &contracts.Universe{
		Date:       date,
		Symbols:    make([]string, 0, len(snapshots)),
		Excluded:   make(map[string]string),
		TotalCount: len(snapshots),
	}

	for _, snap := range snapshots {
		symbol := snap.Security.Symbol
		if reason := s.checkExclusion(snap); reason != "" {
			universe.Excluded[symbol] = reason
			continue
		}
		universe.Symbols = append(universe.Symbols, symbol)
	}

	sort.Strings(universe.Symbols)

	s.logger.WithFields(map[string]interface{}{
		"date":     date.Format("2006-01-02"),
		"total":    universe.TotalCount,
		"eligible": len(universe.Symbols),
		"excluded": len(universe.Excluded),
	}).Info("Universe screening completed")

	return universe
}

// checkExclusion returns the first failed filter, or "" when the
// security is eligible. Checks run cheapest first.
func (s *Screener) checkExclusion(snap contracts.SecuritySnapshot) string {
	if !snap.Security.Active {
		return "inactive"
	}

	for _, sector := range s.cfg.ExcludeSectors {
		if snap.Security.Sector == sector {
			return fmt.Sprintf("excluded_sector (%s)", sector)
		}
	}

	if len(snap.Prices) == 0 {
		return "no_price_history"
	}
	if len(snap.Prices) < s.cfg.Filters.MinHistoryDays {
		return fmt.Sprintf("insufficient_history (%d bars)", len(snap.Prices))
	}

	latest, _ := snap.LatestPrice()
	if latest.Close < s.cfg.Filters.PriceMinUSD {
		return fmt.Sprintf("price_below_min (%.2f)", latest.Close)
	}

	fund, ok := snap.LatestFundamentals()
	if !ok {
		return "no_fundamentals"
	}
	cap, ok := fund.MarketCap.Value()
	if !ok {
		return "missing_market_cap"
	}
	if cap < s.cfg.Filters.MarketCapMinUSD {
		return fmt.Sprintf("market_cap_below_min ($%.2fB)", cap/1e9)
	}

	if adv := averageDollarVolume(snap.Prices, adv20Window); adv < s.cfg.Filters.ADV20MinUSD {
		return fmt.Sprintf("adv20_below_min ($%.2fM)", adv/1e6)
	}

	return ""
}

// ApplyQualityFloors removes scored securities whose raw profitability
// sits below the configured floors. It runs after factor computation
// because the floors read raw factor values, and it never mutates the
// input set.
func (s *Screener) ApplyQualityFloors(set *contracts.ScoreSet) *contracts.ScoreSet {
	out := &contracts.ScoreSet{
		Date:    set.Date,
		Scores:  make([]contracts.FactorScore, 0, len(set.Scores)),
		Skipped: make(map[string]string, len(set.Skipped)),
	}
	for symbol, reason := range set.Skipped {
		out.Skipped[symbol] = reason
	}

	floors := s.cfg.QualityFloors
	for _, score := range set.Scores {
		if roe, ok := score.Raw.ROE.Value(); ok && roe < floors.ROEMin {
			out.Skipped[score.Symbol] = fmt.Sprintf("roe_below_floor (%.2f)", roe)
			continue
		}
		if eq, ok := score.Raw.EarningsQuality.Value(); ok && eq < floors.EarningsQualityMin {
			out.Skipped[score.Symbol] = fmt.Sprintf("earnings_quality_below_floor (%.2f)", eq)
			continue
		}
		out.Scores = append(out.Scores, score)
	}

	if dropped := len(set.Scores) - len(out.Scores); dropped > 0 {
		s.logger.WithFields(map[string]interface{}{
			"dropped":   dropped,
			"remaining": len(out.Scores),
		}).Info("Quality floors applied")
	}

	return out
}

func averageDollarVolume(prices []contracts.Price, window int) float64 {
	if len(prices) < window {
		window = len(prices)
	}
	if window == 0 {
		return 0
	}

	sum := 0.0
	for _, p := range prices[len(prices)-window:] {
		sum += p.DollarVolume()
	}
	return sum / float64(window)
}
