package contracts

import "time"

// RankedSecurity is one row of the ranked universe. Rank is 1-based and
// dense: the best composite gets rank 1 and ties are broken by symbol so
// repeated runs over the same inputs produce identical orderings.
type RankedSecurity struct {
	Symbol    string  `json:"symbol"`
	Sector    string  `json:"sector"`
	Rank      int     `json:"rank"`
	Composite float64 `json:"composite"`
	Momentum  float64 `json:"momentum"`
	Quality   float64 `json:"quality"`
	Value     float64 `json:"value"`
}

// RankedUniverse is the full ordered ranking for one evaluation date.
// Entries are sorted by ascending Rank.
type RankedUniverse struct {
	Date    time.Time        `json:"date"`
	Entries []RankedSecurity `json:"entries"`
}

// RankOf returns the rank for symbol, or 0 when the symbol was not ranked.
func (r RankedUniverse) RankOf(symbol string) int {
	for _, e := range r.Entries {
		if e.Symbol == symbol {
			return e.Rank
		}
	}
	return 0
}

// Top returns the best n entries, or all entries when fewer exist.
func (r RankedUniverse) Top(n int) []RankedSecurity {
	if n >= len(r.Entries) {
		return r.Entries
	}
	if n < 0 {
		return nil
	}
	return r.Entries[:n]
}

// Size returns the number of ranked securities.
func (r RankedUniverse) Size() int {
	return len(r.Entries)
}
