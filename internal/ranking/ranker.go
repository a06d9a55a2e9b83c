package ranking

import (
	"sort"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Ranker orders a scored universe into a deterministic ranking.
type Ranker struct {
	logger *logger.Logger
}

// NewRanker creates a new ranker.
func NewRanker(log *logger.Logger) *Ranker {
	return &Ranker{
		logger: log.WithField("module", "ranking"),
	}
}

// Rank orders scores strictly descending by composite with ties broken
// by symbol, and assigns 1-based ranks. A security without a composite
// is excluded outright — it must never appear with an artificially low
// score that selection could mistake for a real one.
func (r *Ranker) Rank(set *contracts.ScoreSet) (*contracts.RankedUniverse, error) {
	entries := make([]contracts.RankedSecurity, 0, len(set.Scores))
	for _, score := range set.Scores {
		composite, ok := score.Composite.Value()
		if !ok {
			r.logger.WithField("symbol", score.Symbol).Warn("Score has no composite, excluded from ranking")
			continue
		}
		momentum, _ := score.Momentum.Value()
		quality, _ := score.Quality.Value()
		value, _ := score.Value.Value()

		entries = append(entries, contracts.RankedSecurity{
			Symbol:    score.Symbol,
			Sector:    score.Sector,
			Composite: composite,
			Momentum:  momentum,
			Quality:   quality,
			Value:     value,
		})
	}

	if len(entries) == 0 {
		return nil, contracts.ErrNoScores
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Composite != entries[j].Composite {
			return entries[i].Composite > entries[j].Composite
		}
		return entries[i].Symbol < entries[j].Symbol
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	r.logger.WithFields(map[string]interface{}{
		"date":       set.Date.Format("2006-01-02"),
		"ranked":     len(entries),
		"top_symbol": entries[0].Symbol,
		"top_score":  entries[0].Composite,
	}).Info("Ranking completed")

	return &contracts.RankedUniverse{
		Date:    set.Date,
		Entries: entries,
	}, nil
}
