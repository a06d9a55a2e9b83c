package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

func testConfig() *strategy.Config {
	cfg := &strategy.Config{}
	cfg.Meta.StrategyID = "us-equity-test"
	cfg.Universe.Filters = strategy.UniverseFilters{
		MarketCapMinUSD: 2_000_000_000,
		ADV20MinUSD:     10_000_000,
		PriceMinUSD:     5.0,
		MinHistoryDays:  252,
	}
	cfg.Universe.QualityFloors = strategy.QualityFloors{ROEMin: 0.15, EarningsQualityMin: 0.8}
	cfg.Factors.Normalization = strategy.Normalization{WinsorizePct: 0.05, Method: "percentile", MissingPolicy: "exclude"}
	cfg.Factors.Momentum = strategy.Momentum{
		SkipDays:          21,
		LongLookbackDays:  252,
		ShortLookbackDays: 126,
		High52WWindowDays: 252,
		Weights:           strategy.MomentumWeights{Long: 0.571429, Short: 0.285714, High52W: 0.142857},
	}
	cfg.Factors.Quality.Weights = strategy.QualityWeights{ROE: 0.5, EarningsQuality: 0.25, EarningsStability: 0.25}
	cfg.Factors.Value.Weights = strategy.ValueWeights{PE: 0.5, EVEBITDA: 0.5}
	cfg.Ranking.WeightsPct = strategy.RankingWeights{Momentum: 70, Quality: 20, Value: 10}
	cfg.Portfolio.Positions = strategy.Positions{Target: 4, Min: 2}
	cfg.Portfolio.Buffer = strategy.Buffer{Mode: "fixed", ExtraRanks: 2}
	cfg.Portfolio.Allocation = strategy.Allocation{PositionMinPct: 0.05, PositionMaxPct: 0.30, SectorMaxPct: 0.50}
	cfg.Risk.StopLoss = strategy.StopLoss{HardStopPct: 0.25, Trailing: strategy.Trailing{ActivateGainPct: 0.30, DrawdownPct: 0.20}}
	cfg.Risk.Volatility = strategy.Volatility{WindowDays: 60, AnnualizedCap: 0.60}
	cfg.Risk.VaR = strategy.VaR{Method: "historical", Confidence: 0.95, Limit1D: 0.05, WindowDays: 252}
	cfg.Rebalance = strategy.Rebalance{Frequency: "monthly", DriftThreshold: 0.001}
	return cfg
}

// dailyBars returns one bar per calendar day over [from, to] with the
// adjusted close ramping linearly from start to end.
func dailyBars(symbol string, from, to time.Time, start, end float64) []contracts.Price {
	n := int(to.Sub(from).Hours()/24) + 1
	bars := make([]contracts.Price, n)
	for i := 0; i < n; i++ {
		v := start
		if n > 1 {
			v = start + (end-start)*float64(i)/float64(n-1)
		}
		bars[i] = contracts.Price{
			Symbol:   symbol,
			Date:     from.AddDate(0, 0, i),
			Open:     v,
			High:     v * 1.01,
			Low:      v * 0.99,
			Close:    v,
			AdjClose: v,
			Volume:   2_000_000,
		}
	}
	return bars
}

func fundamentalsFor(symbol string, roe, ocf, pe, ev float64) []contracts.FundamentalRecord {
	eps := []float64{2.0, 2.1, 1.9, 2.0}
	recs := make([]contracts.FundamentalRecord, len(eps))
	base := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	for i, e := range eps {
		recs[i] = contracts.FundamentalRecord{
			Symbol: symbol,
			Date:   base.AddDate(0, -3*i, 0),
			EPS:    contracts.MetricOf(e),
		}
	}
	recs[0].ROE = contracts.MetricOf(roe)
	recs[0].OperatingCashFlow = contracts.MetricOf(ocf)
	recs[0].NetIncome = contracts.MetricOf(100)
	recs[0].PERatio = contracts.MetricOf(pe)
	recs[0].EnterpriseValue = contracts.MetricOf(ev)
	recs[0].EBITDA = contracts.MetricOf(125)
	recs[0].MarketCap = contracts.MetricOf(5_000_000_000)
	return recs
}

type fixtureRow struct {
	symbol, sector string
	start, end     float64
	roe, ocf       float64
	pe, ev         float64
}

var fixtureRows = []fixtureRow{
	{"AAA", "Technology", 50, 100, 0.45, 150, 10, 1000},
	{"BBB", "Technology", 60, 105, 0.40, 140, 12, 1200},
	{"CCC", "Industrials", 70, 105, 0.35, 130, 14, 1400},
	{"DDD", "Industrials", 80, 100, 0.30, 120, 16, 1600},
	{"EEE", "Energy", 90, 99, 0.25, 110, 18, 1800},
	{"FFF", "Energy", 100, 95, 0.20, 105, 20, 2000},
}

var (
	historyStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	historyEnd   = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	mayFirst     = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	juneFirst    = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

// rampSnapshots builds six eligible securities strictly ordered on every
// factor column, AAA best through FFF worst, two per sector.
func rampSnapshots() []contracts.SecuritySnapshot {
	snapshots := make([]contracts.SecuritySnapshot, 0, len(fixtureRows))
	for _, r := range fixtureRows {
		snapshots = append(snapshots, contracts.SecuritySnapshot{
			Security:     contracts.Security{Symbol: r.symbol, Sector: r.sector, Active: true},
			Prices:       dailyBars(r.symbol, historyStart, historyEnd, r.start, r.end),
			Fundamentals: fundamentalsFor(r.symbol, r.roe, r.ocf, r.pe, r.ev),
		})
	}
	return snapshots
}

// crashSnapshots is rampSnapshots with DDD collapsing 99 to 60 through
// May 2025 and flat after, deep enough to trip the hard stop on the June
// cycle while leaving its April ranking intact.
func crashSnapshots() []contracts.SecuritySnapshot {
	snapshots := rampSnapshots()
	for i := range snapshots {
		if snapshots[i].Security.Symbol != "DDD" {
			continue
		}
		bars := dailyBars("DDD", historyStart, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), 80, 100)
		bars = append(bars, dailyBars("DDD", mayFirst, time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), 99, 60)...)
		bars = append(bars, dailyBars("DDD", juneFirst, historyEnd, 60, 60)...)
		snapshots[i].Prices = bars
	}
	return snapshots
}

func newBacktester() *Backtester {
	return New(testConfig(), logger.NewNop())
}

func runConfig(start, end time.Time) Config {
	return Config{
		Start:       start,
		End:         end,
		InitialCash: decimal.NewFromInt(1_000_000),
		CostBps:     10,
	}
}

func positionSymbols(positions []contracts.Position) []string {
	out := make([]string, len(positions))
	for i, pos := range positions {
		out[i] = pos.Symbol
	}
	return out
}

func TestRunSingleCycleBuysTopRanked(t *testing.T) {
	b := newBacktester()
	res, err := b.Run(context.Background(), rampSnapshots(), runConfig(juneFirst, historyEnd))
	require.NoError(t, err)

	require.Len(t, res.Cycles, 1)
	cycle := res.Cycles[0]
	assert.Equal(t, juneFirst, cycle.Date)
	assert.Equal(t, 4, cycle.Positions)
	assert.Equal(t, 4, cycle.Trades)
	assert.InDelta(t, 0.5, cycle.Turnover, 1e-12)

	// Four buys of 250,000 each at 10 bps cost 1,000 in total, leaving the
	// marked value 999,000 on the cycle day.
	assert.InDelta(t, 1_000, cycle.Cost.InexactFloat64(), 0.01)
	assert.InDelta(t, 999_000, cycle.Value.InexactFloat64(), 0.01)

	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, positionSymbols(res.FinalPositions))
	for _, pos := range res.FinalPositions {
		assert.InDelta(t, 0.25, pos.Weight, 1e-12)
	}

	require.Len(t, res.Equity, 30)
	assert.Equal(t, juneFirst, res.Equity[0].Date)
	assert.True(t, res.FinalValue.GreaterThan(res.Equity[0].Value),
		"rising ramps should lift the book: first %s final %s", res.Equity[0].Value, res.FinalValue)

	assert.Empty(t, res.Trades)
	assert.Equal(t, 0, res.Metrics.ClosedTrades)
	first := res.Equity[0].Value.InexactFloat64()
	assert.InDelta(t, res.FinalValue.InexactFloat64()/first-1, res.Metrics.TotalReturn, 1e-9)
}

func TestRunSecondCycleHoldsSteadyBook(t *testing.T) {
	b := newBacktester()
	res, err := b.Run(context.Background(), rampSnapshots(), runConfig(mayFirst, historyEnd))
	require.NoError(t, err)

	require.Len(t, res.Cycles, 2)
	assert.Equal(t, mayFirst, res.Cycles[0].Date)
	assert.Equal(t, juneFirst, res.Cycles[1].Date)

	// The ranking is stable, so the June cycle changes nothing.
	assert.Equal(t, 0, res.Cycles[1].Trades)
	assert.True(t, res.Cycles[1].Cost.IsZero())
	assert.Zero(t, res.Cycles[1].Turnover)

	assert.Empty(t, res.Trades)
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, positionSymbols(res.FinalPositions))
	assert.Len(t, res.Equity, 61)
}

func TestRunStopLossClosesPosition(t *testing.T) {
	b := newBacktester()
	res, err := b.Run(context.Background(), crashSnapshots(), runConfig(mayFirst, historyEnd))
	require.NoError(t, err)

	require.Len(t, res.Cycles, 2)
	assert.Equal(t, 4, res.Cycles[0].Positions)

	// June: DDD sits 39% under its entry, the hard stop forces it out, and
	// the buffer keeps everyone else in place.
	june := res.Cycles[1]
	assert.Equal(t, 1, june.Trades)
	assert.Equal(t, 3, june.Positions)
	assert.InDelta(t, 0.125, june.Turnover, 1e-12)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, "DDD", trade.Symbol)
	assert.Equal(t, mayFirst, trade.EntryDate)
	assert.Equal(t, juneFirst, trade.ExitDate)
	assert.InDelta(t, 99.0, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 60.0, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 60.0/99.0-1, trade.Return, 1e-12)

	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, positionSymbols(res.FinalPositions))
	assert.Equal(t, 1, res.Metrics.ClosedTrades)
}

func TestRunSkipsDaysWithEmptyUniverse(t *testing.T) {
	// Series this short never satisfy the minimum history filter.
	short := make([]contracts.SecuritySnapshot, 0, len(fixtureRows))
	for _, r := range fixtureRows {
		short = append(short, contracts.SecuritySnapshot{
			Security:     contracts.Security{Symbol: r.symbol, Sector: r.sector, Active: true},
			Prices:       dailyBars(r.symbol, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), historyEnd, r.start, r.end),
			Fundamentals: fundamentalsFor(r.symbol, r.roe, r.ocf, r.pe, r.ev),
		})
	}

	b := newBacktester()
	res, err := b.Run(context.Background(), short, runConfig(mayFirst, historyEnd))
	require.NoError(t, err)

	assert.Empty(t, res.Cycles)
	assert.Empty(t, res.FinalPositions)
	assert.True(t, res.FinalValue.Equal(decimal.NewFromInt(1_000_000)),
		"untouched cash: got %s", res.FinalValue)
	assert.Zero(t, res.Metrics.TotalReturn)
}

func TestRunRejectsBadConfig(t *testing.T) {
	b := newBacktester()
	snapshots := rampSnapshots()

	cases := map[string]Config{
		"missing dates": {InitialCash: decimal.NewFromInt(1)},
		"start after end": {
			Start: historyEnd, End: mayFirst,
			InitialCash: decimal.NewFromInt(1),
		},
		"no cash": {Start: mayFirst, End: historyEnd},
		"negative costs": {
			Start: mayFirst, End: historyEnd,
			InitialCash: decimal.NewFromInt(1), CostBps: -1,
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Run(context.Background(), snapshots, cfg)
			require.ErrorContains(t, err, "invalid backtest config")
		})
	}
}

func TestRunWithoutData(t *testing.T) {
	b := newBacktester()

	_, err := b.Run(context.Background(), nil, runConfig(mayFirst, historyEnd))
	require.ErrorContains(t, err, "no snapshots")

	future := runConfig(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err = b.Run(context.Background(), rampSnapshots(), future)
	require.ErrorContains(t, err, "no trading days")
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newBacktester()
	_, err := b.Run(ctx, rampSnapshots(), runConfig(mayFirst, historyEnd))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTradingCalendar(t *testing.T) {
	a := contracts.SecuritySnapshot{Prices: []contracts.Price{
		{Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
	}}
	b := contracts.SecuritySnapshot{Prices: []contracts.Price{
		{Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
	}}

	days := tradingCalendar([]contracts.SecuritySnapshot{a, b},
		time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC))

	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), days[1])
}

func TestPeriodKey(t *testing.T) {
	assert.Equal(t, "2025-06", periodKey("monthly", time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-Q2", periodKey("quarterly", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-Q4", periodKey("quarterly", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)))

	// ISO weeks roll the year: Mon 2025-12-29 already belongs to 2026-W01.
	assert.Equal(t, "2026-W01", periodKey("weekly", time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-W02", periodKey("weekly", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))
}

func TestFundamentalsAsOf(t *testing.T) {
	recs := fundamentalsFor("AAA", 0.45, 150, 10, 1000)

	all := fundamentalsAsOf(recs, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Len(t, all, 4)

	trimmed := fundamentalsAsOf(recs, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Len(t, trimmed, 3)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), trimmed[0].Date)

	assert.Nil(t, fundamentalsAsOf(recs, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCursorsForwardFillAndTrim(t *testing.T) {
	sparse := contracts.SecuritySnapshot{
		Security: contracts.Security{Symbol: "SPR"},
		Prices: []contracts.Price{
			{Symbol: "SPR", Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), AdjClose: 10},
			{Symbol: "SPR", Date: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), AdjClose: 12},
		},
	}
	late := contracts.SecuritySnapshot{
		Security: contracts.Security{Symbol: "LTE"},
		Prices: []contracts.Price{
			{Symbol: "LTE", Date: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), AdjClose: 20},
		},
	}

	cursors := newCursors([]contracts.SecuritySnapshot{sparse, late})

	cursors.advance(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	closes := cursors.closes()
	assert.Equal(t, 10.0, closes["SPR"], "gap days carry the last close forward")
	_, quoted := closes["LTE"]
	assert.False(t, quoted, "not yet trading")

	asOf := cursors.snapshotsAsOf(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	require.Len(t, asOf, 1)
	assert.Len(t, asOf[0].Prices, 1)

	cursors.advance(time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC))
	closes = cursors.closes()
	assert.Equal(t, 12.0, closes["SPR"])
	assert.Equal(t, 20.0, closes["LTE"])
	assert.Len(t, cursors.snapshotsAsOf(time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)), 2)
}

func TestClosedTrades(t *testing.T) {
	book := contracts.NewPortfolio(mayFirst)
	book.Positions["AAA"] = contracts.Position{
		Symbol: "AAA", Weight: 0.5, EntryPrice: 100,
		EntryDate: mayFirst.AddDate(0, -2, 0),
	}
	book.Positions["BBB"] = contracts.Position{Symbol: "BBB", Weight: 0.5, EntryPrice: 80}

	instructions := []contracts.TradeInstruction{
		{Symbol: "AAA", Action: contracts.ActionSell},
		{Symbol: "BBB", Action: contracts.ActionReduce, TargetWeight: 0.25},
		{Symbol: "ZZZ", Action: contracts.ActionSell},
	}
	closes := map[string]float64{"AAA": 110, "BBB": 90}

	trades := closedTrades(book, instructions, closes, juneFirst)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].Symbol)
	assert.Equal(t, juneFirst, trades[0].ExitDate)
	assert.InDelta(t, 0.10, trades[0].Return, 1e-12)
}
