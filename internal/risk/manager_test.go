package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

func testRiskConfig() *strategy.Config {
	return &strategy.Config{
		Portfolio: strategy.Portfolio{
			Allocation: strategy.Allocation{
				PositionMinPct: 0.015,
				PositionMaxPct: 0.04,
				SectorMaxPct:   0.30,
			},
		},
		Risk: strategy.Risk{
			StopLoss: strategy.StopLoss{
				HardStopPct: 0.25,
				Trailing: strategy.Trailing{
					ActivateGainPct: 0.30,
					DrawdownPct:     0.20,
				},
			},
			Volatility: strategy.Volatility{
				WindowDays:    60,
				AnnualizedCap: 0.60,
			},
			VaR: strategy.VaR{
				Method:     "historical",
				Confidence: 0.95,
				Limit1D:    0.025,
				WindowDays: 252,
			},
		},
	}
}

func evalDate() time.Time {
	return time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
}

// flatSeries builds n bars drifting from start by dailyReturn each day.
func flatSeries(symbol string, n int, start, dailyReturn float64) []contracts.Price {
	out := make([]contracts.Price, n)
	price := start
	date := evalDate().AddDate(0, 0, -n)
	for i := 0; i < n; i++ {
		out[i] = contracts.Price{
			Symbol:   symbol,
			Date:     date.AddDate(0, 0, i),
			Close:    price,
			AdjClose: price,
		}
		price *= 1 + dailyReturn
	}
	return out
}

func position(symbol string, weight, entry, high float64) contracts.Position {
	return contracts.Position{
		Symbol:     symbol,
		Sector:     "Technology",
		Weight:     weight,
		EntryPrice: entry,
		EntryDate:  evalDate().AddDate(0, -6, 0),
		HighPrice:  high,
	}
}

func riskBook(positions ...contracts.Position) contracts.Portfolio {
	book := contracts.NewPortfolio(evalDate())
	for _, p := range positions {
		book.Positions[p.Symbol] = p
	}
	return book
}

func TestEvaluateHardStop(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	// Entry 100, last close ~70: 30% down, past the 25% stop.
	book := riskBook(position("LOSS", 0.02, 100, 100))
	prices := map[string][]contracts.Price{
		"LOSS": flatSeries("LOSS", 120, 100, -0.003),
	}

	report := m.Evaluate(book, prices)

	events := report.EventsOfKind(contracts.RiskStopLoss)
	require.Len(t, events, 1)
	assert.Equal(t, "LOSS", events[0].Symbol)
	assert.InDelta(t, -0.25, events[0].Threshold, 1e-12)
	assert.Less(t, events[0].Observed, -0.25)

	require.Len(t, report.Overrides, 1)
	in := report.Overrides[0]
	assert.Equal(t, contracts.ActionSell, in.Action)
	assert.Zero(t, in.TargetWeight)
	assert.Equal(t, contracts.SourceRisk, in.Source)
}

func TestEvaluateTrailingStop(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	// Entry 100, high 150 (armed at +50%), last 115: 23% off the high but
	// still +15% from entry, so only the trailing rule fires.
	bars := flatSeries("TRAIL", 120, 115, 0)
	book := riskBook(position("TRAIL", 0.02, 100, 150))
	report := m.Evaluate(book, map[string][]contracts.Price{"TRAIL": bars})

	require.Len(t, report.EventsOfKind(contracts.RiskTrailingStop), 1)
	assert.Empty(t, report.EventsOfKind(contracts.RiskStopLoss))

	require.Len(t, report.Overrides, 1)
	assert.Equal(t, contracts.ActionSell, report.Overrides[0].Action)
}

func TestEvaluateTrailingStopNotArmed(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	// High 110 is only +10% from entry: the trailing rule never armed,
	// and -22% off the high is inside the hard stop.
	bars := flatSeries("HOLD", 120, 86, 0)
	book := riskBook(position("HOLD", 0.02, 100, 110))
	report := m.Evaluate(book, map[string][]contracts.Price{"HOLD": bars})

	assert.Empty(t, report.Events)
	assert.Empty(t, report.Overrides)
}

// wildSeries builds bars alternating ±6% daily, annualizing far over the
// 60% cap while ending about 19% down, clear of both stops.
func wildSeries(symbol string) []contracts.Price {
	bars := make([]contracts.Price, 120)
	price := 100.0
	for i := range bars {
		if i%2 == 0 {
			price *= 1.06
		} else {
			price *= 0.94
		}
		bars[i] = contracts.Price{
			Symbol:   symbol,
			Date:     evalDate().AddDate(0, 0, i-120),
			Close:    price,
			AdjClose: price,
		}
	}
	return bars
}

func TestEvaluateVolatilityCapScales(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	book := riskBook(position("WILD", 0.04, 85, 95))
	report := m.Evaluate(book, map[string][]contracts.Price{"WILD": wildSeries("WILD")})

	events := report.EventsOfKind(contracts.RiskVolatilityCap)
	require.Len(t, events, 1)
	assert.Greater(t, events[0].Observed, 0.60)

	require.Len(t, report.Overrides, 1)
	in := report.Overrides[0]
	assert.Equal(t, "WILD", in.Symbol)
	assert.Equal(t, contracts.ActionReduce, in.Action)
	assert.InDelta(t, 0.04*0.60/events[0].Observed, in.TargetWeight, 1e-12)
	assert.Equal(t, contracts.SourceRisk, in.Source)
}

func TestEvaluateVolatilityCapExitsBelowMin(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	// At 2% weight the cap/vol scaling lands under the 1.5% minimum, so
	// the position is closed outright instead of carried at dust size.
	book := riskBook(position("WILD", 0.02, 85, 95))
	report := m.Evaluate(book, map[string][]contracts.Price{"WILD": wildSeries("WILD")})

	require.Len(t, report.Overrides, 1)
	in := report.Overrides[0]
	assert.Equal(t, contracts.ActionSell, in.Action)
	assert.Zero(t, in.TargetWeight)
}

func TestEvaluateInsufficientHistoryIsMaxRisk(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	// 10 bars: under the 20-observation floor. The position must be
	// flagged over the cap, not silently skipped.
	bars := flatSeries("NEWIPO", 10, 100, 0.001)
	book := riskBook(position("NEWIPO", 0.02, 100, 101))
	report := m.Evaluate(book, map[string][]contracts.Price{"NEWIPO": bars})

	events := report.EventsOfKind(contracts.RiskVolatilityCap)
	require.Len(t, events, 1)
	assert.Equal(t, "NEWIPO", events[0].Symbol)
	assert.Contains(t, events[0].Detail, "maximum risk")

	require.Len(t, report.Positions, 1)
	assert.False(t, report.Positions[0].AnnualizedVol.Valid())

	require.Len(t, report.Overrides, 1)
	assert.Equal(t, contracts.ActionSell, report.Overrides[0].Action)
}

func TestEvaluatePortfolioVaRScaling(t *testing.T) {
	cfg := testRiskConfig()
	cfg.Risk.Volatility.AnnualizedCap = 5.0 // keep the per-position cap out of the way
	cfg.Risk.VaR.Limit1D = 0.005
	m := NewManager(cfg, logger.NewNop())

	// Two heavy positions swinging ±3% daily: the worst weighted day is
	// ~3%, far over a 0.5% limit.
	mk := func(symbol string) []contracts.Price {
		bars := make([]contracts.Price, 100)
		price := 100.0
		for i := range bars {
			if i%2 == 0 {
				price *= 1.03
			} else {
				price *= 0.97
			}
			bars[i] = contracts.Price{Symbol: symbol, Date: evalDate().AddDate(0, 0, i-100), Close: price, AdjClose: price}
		}
		return bars
	}

	book := riskBook(
		position("ONE", 0.5, 100, 110),
		position("TWO", 0.5, 100, 110),
	)
	prices := map[string][]contracts.Price{"ONE": mk("ONE"), "TWO": mk("TWO")}

	report := m.Evaluate(book, prices)

	varEvents := report.EventsOfKind(contracts.RiskVaRLimit)
	require.Len(t, varEvents, 1)
	assert.Greater(t, varEvents[0].Observed, 0.005)
	assert.Empty(t, varEvents[0].Symbol, "portfolio-level event carries no symbol")

	require.NotEmpty(t, report.Overrides)
	for _, in := range report.Overrides {
		assert.Equal(t, contracts.SourceRisk, in.Source)
		assert.Less(t, in.TargetWeight, 0.5)
	}

	// Reported VaR is the pre-scaling diagnosis.
	varBefore, ok := report.PortfolioVaR.Value()
	require.True(t, ok)
	assert.Greater(t, varBefore, 0.005)
}

func TestEvaluateDeterministic(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	book := riskBook(
		position("AAA", 0.02, 100, 100),
		position("BBB", 0.02, 100, 100),
	)
	prices := map[string][]contracts.Price{
		"AAA": flatSeries("AAA", 120, 100, -0.003),
		"BBB": flatSeries("BBB", 120, 100, -0.003),
	}

	first := m.Evaluate(book, prices)
	second := m.Evaluate(book, prices)

	assert.Equal(t, first.Overrides, second.Overrides)
	assert.Equal(t, first.Events, second.Events)
}

func TestEvaluateCleanBook(t *testing.T) {
	m := NewManager(testRiskConfig(), logger.NewNop())

	book := riskBook(position("CALM", 0.02, 100, 107))
	prices := map[string][]contracts.Price{
		"CALM": flatSeries("CALM", 120, 100, 0.0005),
	}

	report := m.Evaluate(book, prices)

	assert.Empty(t, report.Events)
	assert.Empty(t, report.Overrides)
	require.Len(t, report.Positions, 1)

	pr := report.Positions[0]
	assert.True(t, pr.ReturnSinceEntry.Valid())
	assert.True(t, pr.AnnualizedVol.Valid())
	vol, _ := pr.AnnualizedVol.Value()
	assert.Less(t, vol, 0.60)
}
