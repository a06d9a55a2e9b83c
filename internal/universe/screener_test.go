package universe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

func testUniverseConfig() strategy.Universe {
	return strategy.Universe{
		Index: "sp500",
		Filters: strategy.UniverseFilters{
			MarketCapMinUSD: 2_000_000_000,
			ADV20MinUSD:     10_000_000,
			PriceMinUSD:     5.0,
			MinHistoryDays:  252,
		},
		QualityFloors: strategy.QualityFloors{
			ROEMin:             0.15,
			EarningsQualityMin: 0.8,
		},
	}
}

type snapOpts struct {
	symbol    string
	sector    string
	active    bool
	bars      int
	price     float64
	volume    int64
	marketCap contracts.Metric
	noFunds   bool
}

func makeSnapshot(o snapOpts) contracts.SecuritySnapshot {
	prices := make([]contracts.Price, o.bars)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < o.bars; i++ {
		prices[i] = contracts.Price{
			Symbol:   o.symbol,
			Date:     base.AddDate(0, 0, i),
			Open:     o.price,
			High:     o.price * 1.01,
			Low:      o.price * 0.99,
			Close:    o.price,
			AdjClose: o.price,
			Volume:   o.volume,
		}
	}

	snap := contracts.SecuritySnapshot{
		Security: contracts.Security{
			Symbol: o.symbol,
			Sector: o.sector,
			Active: o.active,
		},
		Prices: prices,
	}
	if !o.noFunds {
		snap.Fundamentals = []contracts.FundamentalRecord{{
			Symbol:    o.symbol,
			Date:      time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			MarketCap: o.marketCap,
		}}
	}
	return snap
}

func eligibleSnapshot(symbol string) contracts.SecuritySnapshot {
	return makeSnapshot(snapOpts{
		symbol:    symbol,
		sector:    "Technology",
		active:    true,
		bars:      252,
		price:     100,
		volume:    1_000_000, // $100M daily dollar volume
		marketCap: contracts.MetricOf(50_000_000_000),
	})
}

func TestScreenEligible(t *testing.T) {
	s := NewScreener(testUniverseConfig(), logger.NewNop())

	u := s.Screen(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), []contracts.SecuritySnapshot{
		eligibleSnapshot("MSFT"),
		eligibleSnapshot("AAPL"),
	})

	assert.Equal(t, []string{"AAPL", "MSFT"}, u.Symbols)
	assert.Empty(t, u.Excluded)
	assert.Equal(t, 2, u.TotalCount)
	assert.True(t, u.Contains("MSFT"))
}

func TestScreenExclusions(t *testing.T) {
	cfg := testUniverseConfig()
	cfg.ExcludeSectors = []string{"Financial Services"}
	s := NewScreener(cfg, logger.NewNop())

	tests := []struct {
		name       string
		snap       contracts.SecuritySnapshot
		wantReason string
	}{
		{
			name: "inactive",
			snap: func() contracts.SecuritySnapshot {
				o := eligibleSnapshot("DEAD")
				o.Security.Active = false
				return o
			}(),
			wantReason: "inactive",
		},
		{
			name: "excluded sector",
			snap: makeSnapshot(snapOpts{
				symbol: "JPM", sector: "Financial Services", active: true,
				bars: 252, price: 150, volume: 1_000_000,
				marketCap: contracts.MetricOf(400_000_000_000),
			}),
			wantReason: "excluded_sector (Financial Services)",
		},
		{
			name: "insufficient history",
			snap: makeSnapshot(snapOpts{
				symbol: "IPO", sector: "Technology", active: true,
				bars: 120, price: 50, volume: 1_000_000,
				marketCap: contracts.MetricOf(10_000_000_000),
			}),
			wantReason: "insufficient_history (120 bars)",
		},
		{
			name: "penny stock",
			snap: makeSnapshot(snapOpts{
				symbol: "PNY", sector: "Energy", active: true,
				bars: 252, price: 3.20, volume: 10_000_000,
				marketCap: contracts.MetricOf(3_000_000_000),
			}),
			wantReason: "price_below_min (3.20)",
		},
		{
			name: "small cap",
			snap: makeSnapshot(snapOpts{
				symbol: "TINY", sector: "Energy", active: true,
				bars: 252, price: 20, volume: 1_000_000,
				marketCap: contracts.MetricOf(1_400_000_000),
			}),
			wantReason: "market_cap_below_min ($1.40B)",
		},
		{
			name: "missing market cap",
			snap: makeSnapshot(snapOpts{
				symbol: "NOCAP", sector: "Energy", active: true,
				bars: 252, price: 20, volume: 1_000_000,
				marketCap: contracts.MissingMetric(),
			}),
			wantReason: "missing_market_cap",
		},
		{
			name: "no fundamentals",
			snap: makeSnapshot(snapOpts{
				symbol: "NOFUND", sector: "Energy", active: true,
				bars: 252, price: 20, volume: 1_000_000, noFunds: true,
			}),
			wantReason: "no_fundamentals",
		},
		{
			name: "illiquid",
			snap: makeSnapshot(snapOpts{
				symbol: "THIN", sector: "Energy", active: true,
				bars: 252, price: 10, volume: 500_000, // $5M ADV
				marketCap: contracts.MetricOf(3_000_000_000),
			}),
			wantReason: "adv20_below_min ($5.00M)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := s.Screen(time.Now(), []contracts.SecuritySnapshot{tc.snap})
			assert.Empty(t, u.Symbols)
			assert.Equal(t, tc.wantReason, u.Excluded[tc.snap.Security.Symbol])
		})
	}
}

func TestScreenMixed(t *testing.T) {
	s := NewScreener(testUniverseConfig(), logger.NewNop())

	bad := eligibleSnapshot("BAD")
	bad.Security.Active = false

	u := s.Screen(time.Now(), []contracts.SecuritySnapshot{
		eligibleSnapshot("GOOD"),
		bad,
	})

	assert.Equal(t, []string{"GOOD"}, u.Symbols)
	assert.Len(t, u.Excluded, 1)
	assert.Equal(t, 2, u.TotalCount)
	assert.Equal(t, 1, u.Size())
}

func TestApplyQualityFloors(t *testing.T) {
	s := NewScreener(testUniverseConfig(), logger.NewNop())

	mkScore := func(symbol string, roe, eq float64) contracts.FactorScore {
		return contracts.FactorScore{
			Symbol:    symbol,
			Composite: contracts.MetricOf(50),
			Raw: contracts.RawFactors{
				ROE:             contracts.MetricOf(roe),
				EarningsQuality: contracts.MetricOf(eq),
			},
		}
	}

	set := &contracts.ScoreSet{
		Date: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		Scores: []contracts.FactorScore{
			mkScore("KEEP", 0.22, 1.1),
			mkScore("LOWROE", 0.08, 1.1),
			mkScore("LOWEQ", 0.22, 0.5),
		},
		Skipped: map[string]string{"OLD": "missing_momentum_12m"},
	}

	out := s.ApplyQualityFloors(set)

	require.Len(t, out.Scores, 1)
	assert.Equal(t, "KEEP", out.Scores[0].Symbol)
	assert.Equal(t, "roe_below_floor (0.08)", out.Skipped["LOWROE"])
	assert.Equal(t, "earnings_quality_below_floor (0.50)", out.Skipped["LOWEQ"])
	assert.Equal(t, "missing_momentum_12m", out.Skipped["OLD"])

	// Input set untouched.
	assert.Len(t, set.Scores, 3)
	assert.Len(t, set.Skipped, 1)
}

func TestAverageDollarVolume(t *testing.T) {
	snap := makeSnapshot(snapOpts{
		symbol: "T", sector: "X", active: true,
		bars: 252, price: 10, volume: 1_000_000,
		marketCap: contracts.MetricOf(5e9),
	})

	adv := averageDollarVolume(snap.Prices, adv20Window)
	assert.InDelta(t, 10_000_000, adv, 1e-6)

	// Shorter histories average what exists.
	assert.InDelta(t, 10_000_000, averageDollarVolume(snap.Prices[:5], adv20Window), 1e-6)
	assert.Equal(t, 0.0, averageDollarVolume(nil, adv20Window))
}
