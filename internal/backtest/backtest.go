// Package backtest replays the rebalance cycle over historical data.
//
// The simulation walks a trading calendar derived from the supplied price
// history, rebuilds the book on the first trading day of each period at
// the configured frequency, and marks equity to market daily. Cash and
// share quantities are tracked in exact decimal arithmetic; the weighted
// book runs through the same screener, factor, ranking, selection, and
// risk components the live pipeline uses.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/factors"
	"github.com/tiltlab/tilt/internal/portfolio"
	"github.com/tiltlab/tilt/internal/ranking"
	"github.com/tiltlab/tilt/internal/risk"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/internal/universe"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Config bounds one simulation.
type Config struct {
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	CostBps     float64         `json:"cost_bps"`
}

// Validate rejects configurations the simulation cannot run with.
func (c Config) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("start %s must be before end %s",
			c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"))
	}
	if !c.InitialCash.IsPositive() {
		return errors.New("initial cash must be positive")
	}
	if c.CostBps < 0 {
		return errors.New("cost bps must not be negative")
	}
	return nil
}

// DailyValue is one mark of the equity curve.
type DailyValue struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// ClosedTrade is one completed round trip, recorded when a SELL closes a
// position with known entry bookkeeping.
type ClosedTrade struct {
	Symbol     string    `json:"symbol"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Return     float64   `json:"return"`
}

// CycleResult summarizes one executed rebalance.
type CycleResult struct {
	Date      time.Time       `json:"date"`
	Value     decimal.Decimal `json:"value"`
	Positions int             `json:"positions"`
	Trades    int             `json:"trades"`
	Turnover  float64         `json:"turnover"`
	Cost      decimal.Decimal `json:"cost"`
}

// Result is the full output of one simulation.
type Result struct {
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	InitialValue   decimal.Decimal      `json:"initial_value"`
	FinalValue     decimal.Decimal      `json:"final_value"`
	Cycles         []CycleResult        `json:"cycles"`
	Trades         []ClosedTrade        `json:"trades"`
	Equity         []DailyValue         `json:"equity"`
	Metrics        Metrics              `json:"metrics"`
	FinalPositions []contracts.Position `json:"final_positions"`
}

// Backtester drives the strategy components over a historical window.
type Backtester struct {
	cfg          *strategy.Config
	screener     *universe.Screener
	calculator   *factors.Calculator
	ranker       *ranking.Ranker
	portfolioMgr *portfolio.Manager
	riskMgr      *risk.Manager
	logger       *logger.Logger
}

// New builds a backtester running the given strategy.
func New(cfg *strategy.Config, log *logger.Logger) *Backtester {
	return &Backtester{
		cfg:          cfg,
		screener:     universe.NewScreener(cfg.Universe, log),
		calculator:   factors.NewCalculator(cfg, 0, log),
		ranker:       ranking.NewRanker(log),
		portfolioMgr: portfolio.NewManager(cfg, log),
		riskMgr:      risk.NewManager(cfg, log),
		logger:       log.WithField("module", "backtest"),
	}
}

// Run simulates the strategy over [cfg.Start, cfg.End]. The snapshots must
// carry price history reaching back far enough before Start to satisfy the
// universe's minimum history; days whose screened universe is empty are
// skipped, not failed, so a window can begin before every series is deep
// enough. Prices inside each snapshot must be ordered oldest first and
// fundamentals newest first, as loaders produce them.
func (b *Backtester) Run(ctx context.Context, snapshots []contracts.SecuritySnapshot, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, errors.New("no snapshots to simulate")
	}

	calendar := tradingCalendar(snapshots, cfg.Start, cfg.End)
	if len(calendar) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s",
			cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	}

	b.logger.WithFields(map[string]interface{}{
		"start":      cfg.Start.Format("2006-01-02"),
		"end":        cfg.End.Format("2006-01-02"),
		"days":       len(calendar),
		"securities": len(snapshots),
		"frequency":  b.cfg.Rebalance.Frequency,
	}).Info("Starting backtest")

	cursors := newCursors(snapshots)
	book := contracts.NewPortfolio(calendar[0])
	led := newLedger(cfg.InitialCash)

	res := &Result{
		Start:        cfg.Start,
		End:          cfg.End,
		InitialValue: cfg.InitialCash,
	}

	lastPeriod := ""
	for _, day := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cursors.advance(day)
		closes := cursors.closes()

		period := periodKey(b.cfg.Rebalance.Frequency, day)
		if period != lastPeriod {
			cycle, next, err := b.rebalanceCycle(ctx, cursors, book, led, closes, day, cfg.CostBps, res)
			if err != nil {
				return nil, fmt.Errorf("rebalance on %s: %w", day.Format("2006-01-02"), err)
			}
			if cycle != nil {
				book = next
				res.Cycles = append(res.Cycles, *cycle)
				lastPeriod = period
			}
		}

		res.Equity = append(res.Equity, DailyValue{Date: day, Value: led.value(closes)})
	}

	res.FinalValue = led.value(cursors.closes())
	res.FinalPositions = sortedPositions(book)
	res.Metrics = computeMetrics(res.Equity, res.Trades)

	b.logger.WithFields(map[string]interface{}{
		"cycles":        len(res.Cycles),
		"closed_trades": len(res.Trades),
		"final_value":   res.FinalValue.StringFixed(2),
		"total_return":  fmt.Sprintf("%.4f", res.Metrics.TotalReturn),
		"max_drawdown":  fmt.Sprintf("%.4f", res.Metrics.MaxDrawdown),
	}).Info("Backtest complete")

	return res, nil
}

// rebalanceCycle runs one full decision pass as of day. A nil cycle with a
// nil error means the universe had nothing rankable yet and the day was
// skipped; the period stays open so the next trading day retries.
func (b *Backtester) rebalanceCycle(
	ctx context.Context,
	cursors cursorSet,
	book contracts.Portfolio,
	led *ledger,
	closes map[string]float64,
	day time.Time,
	costBps float64,
	res *Result,
) (*CycleResult, contracts.Portfolio, error) {
	asOf := cursors.snapshotsAsOf(day)

	uni := b.screener.Screen(day, asOf)
	if uni.Size() == 0 {
		b.logger.WithField("date", day.Format("2006-01-02")).Warn("Universe empty, cycle skipped")
		return nil, book, nil
	}

	set, err := b.calculator.Compute(ctx, day, filterEligible(asOf, uni))
	if err != nil {
		return nil, book, fmt.Errorf("compute factors: %w", err)
	}
	set = b.screener.ApplyQualityFloors(set)

	ranked, err := b.ranker.Rank(set)
	if errors.Is(err, contracts.ErrNoScores) {
		b.logger.WithField("date", day.Format("2006-01-02")).Warn("No rankable scores, cycle skipped")
		return nil, book, nil
	}
	if err != nil {
		return nil, book, fmt.Errorf("rank universe: %w", err)
	}

	plan, err := b.portfolioMgr.SelectTargets(ranked, book)
	if err != nil {
		return nil, book, fmt.Errorf("select targets: %w", err)
	}

	report := b.riskMgr.Evaluate(book, priceHistories(book, asOf))
	merged := contracts.MergeInstructions(plan.Instructions, report.Overrides)

	res.Trades = append(res.Trades, closedTrades(book, merged, closes, day)...)
	traded, costs, executed := led.execute(merged, closes, costBps)
	next := b.portfolioMgr.Apply(book, plan, merged, closes, day)

	cycle := &CycleResult{
		Date:      day,
		Value:     led.value(closes),
		Positions: led.positions(),
		Trades:    executed,
		Turnover:  contracts.Turnover(book, next),
		Cost:      costs,
	}

	b.logger.WithFields(map[string]interface{}{
		"date":      day.Format("2006-01-02"),
		"eligible":  uni.Size(),
		"positions": cycle.Positions,
		"trades":    executed,
		"traded":    traded.StringFixed(2),
		"value":     cycle.Value.StringFixed(2),
	}).Debug("Rebalance cycle executed")

	return cycle, next, nil
}

// cursorSet walks every security's bar series forward through the calendar
// so each day sees exactly the history available at its close.
type cursorSet []priceCursor

type priceCursor struct {
	snap contracts.SecuritySnapshot
	idx  int
}

func newCursors(snapshots []contracts.SecuritySnapshot) cursorSet {
	cursors := make(cursorSet, len(snapshots))
	for i, snap := range snapshots {
		cursors[i] = priceCursor{snap: snap, idx: -1}
	}
	return cursors
}

// advance moves every cursor to the latest bar at or before day. Days must
// be visited in ascending order.
func (cs cursorSet) advance(day time.Time) {
	for i := range cs {
		c := &cs[i]
		for c.idx+1 < len(c.snap.Prices) && !c.snap.Prices[c.idx+1].Date.After(day) {
			c.idx++
		}
	}
}

// closes returns the latest adjusted close per symbol, forward-filled
// across days a security did not trade.
func (cs cursorSet) closes() map[string]float64 {
	out := make(map[string]float64, len(cs))
	for i := range cs {
		c := &cs[i]
		if c.idx < 0 {
			continue
		}
		if price := c.snap.Prices[c.idx].AdjClose; price > 0 {
			out[c.snap.Security.Symbol] = price
		}
	}
	return out
}

// snapshotsAsOf returns each security trimmed to the bars and fundamentals
// known by day, excluding securities that have not started trading.
func (cs cursorSet) snapshotsAsOf(day time.Time) []contracts.SecuritySnapshot {
	out := make([]contracts.SecuritySnapshot, 0, len(cs))
	for i := range cs {
		c := &cs[i]
		if c.idx < 0 {
			continue
		}
		snap := c.snap
		snap.Prices = snap.Prices[:c.idx+1]
		snap.Fundamentals = fundamentalsAsOf(snap.Fundamentals, day)
		out = append(out, snap)
	}
	return out
}

// fundamentalsAsOf drops records dated after day. Records arrive newest
// first, so the survivors are a suffix.
func fundamentalsAsOf(recs []contracts.FundamentalRecord, day time.Time) []contracts.FundamentalRecord {
	for i, rec := range recs {
		if !rec.Date.After(day) {
			return recs[i:]
		}
	}
	return nil
}

// tradingCalendar returns the distinct bar dates inside [start, end] in
// ascending order. Any security trading on a date makes it a trading day.
func tradingCalendar(snapshots []contracts.SecuritySnapshot, start, end time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, snap := range snapshots {
		for _, bar := range snap.Prices {
			if bar.Date.Before(start) || bar.Date.After(end) {
				continue
			}
			seen[bar.Date] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// periodKey buckets a date by rebalance frequency; a cycle fires on the
// first trading day of each new bucket.
func periodKey(frequency string, day time.Time) string {
	switch frequency {
	case "weekly":
		year, week := day.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case "quarterly":
		return fmt.Sprintf("%d-Q%d", day.Year(), (int(day.Month())-1)/3+1)
	default: // monthly
		return day.Format("2006-01")
	}
}

// closedTrades records the round trips the merged instructions close out.
func closedTrades(book contracts.Portfolio, instructions []contracts.TradeInstruction, closes map[string]float64, day time.Time) []ClosedTrade {
	var out []ClosedTrade
	for _, in := range instructions {
		if in.Action != contracts.ActionSell {
			continue
		}
		pos, held := book.Positions[in.Symbol]
		if !held || pos.EntryPrice <= 0 {
			continue
		}
		exit, ok := closes[in.Symbol]
		if !ok || exit <= 0 {
			continue
		}
		out = append(out, ClosedTrade{
			Symbol:     in.Symbol,
			EntryDate:  pos.EntryDate,
			ExitDate:   day,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  exit,
			Return:     exit/pos.EntryPrice - 1,
		})
	}
	return out
}

// filterEligible keeps the snapshots of securities that passed screening.
func filterEligible(snapshots []contracts.SecuritySnapshot, uni *contracts.Universe) []contracts.SecuritySnapshot {
	eligible := make(map[string]struct{}, len(uni.Symbols))
	for _, s := range uni.Symbols {
		eligible[s] = struct{}{}
	}
	out := make([]contracts.SecuritySnapshot, 0, len(uni.Symbols))
	for _, snap := range snapshots {
		if _, ok := eligible[snap.Security.Symbol]; ok {
			out = append(out, snap)
		}
	}
	return out
}

// priceHistories maps each held symbol to its bar series for the risk
// overlay. Held symbols without a snapshot get no entry and are treated
// as maximum risk downstream.
func priceHistories(book contracts.Portfolio, snapshots []contracts.SecuritySnapshot) map[string][]contracts.Price {
	bySymbol := make(map[string][]contracts.Price, len(snapshots))
	for _, snap := range snapshots {
		bySymbol[snap.Security.Symbol] = snap.Prices
	}
	out := make(map[string][]contracts.Price, book.Count())
	for symbol := range book.Positions {
		if prices, ok := bySymbol[symbol]; ok {
			out[symbol] = prices
		}
	}
	return out
}

func sortedPositions(book contracts.Portfolio) []contracts.Position {
	out := make([]contracts.Position, 0, book.Count())
	for _, symbol := range book.Symbols() {
		out = append(out, book.Positions[symbol])
	}
	return out
}
