// Package engine coordinates the decision pipeline: snapshot loading,
// eligibility screening, factor scoring, ranking, target selection, the
// risk overlay, and the apply step that moves the book. Every run is
// recorded in the audit trail under a run ID so its decision artifacts
// can be reconstructed later.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiltlab/tilt/internal/audit"
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/factors"
	"github.com/tiltlab/tilt/internal/marketdata"
	"github.com/tiltlab/tilt/internal/metrics"
	"github.com/tiltlab/tilt/internal/portfolio"
	"github.com/tiltlab/tilt/internal/ranking"
	"github.com/tiltlab/tilt/internal/risk"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/internal/universe"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Run kinds recorded in the audit trail.
const (
	KindCollect   = "collect"
	KindRank      = "rank"
	KindRebalance = "rebalance"
)

const (
	// Calendar days of price history loaded per security. Sized so a full
	// 252 trading-day window survives weekends and market holidays.
	historyCalendarDays = 420

	// Fundamental records loaded per security, enough quarters for the
	// earnings stability minimum with room for reporting gaps.
	fundamentalsDepth = 12

	// Calendar days re-fetched by a scheduled collection run. A window
	// wider than one day heals gaps left by vendor outages.
	collectLookbackDays = 7

	defaultCollectWorkers = 8
)

// SnapshotLoader assembles per-security snapshots for an evaluation date.
type SnapshotLoader interface {
	Load(ctx context.Context, asOf time.Time, historyDays, fundamentalsDepth int) ([]contracts.SecuritySnapshot, error)
}

// DailyCollector refreshes constituents, prices, and fundamentals.
type DailyCollector interface {
	CollectDaily(ctx context.Context, from, to time.Time, cfg marketdata.Config) error
}

// AuditStore persists run records, risk events, and config snapshots.
type AuditStore interface {
	SaveRun(ctx context.Context, run *audit.Run) error
	SaveRiskEvents(ctx context.Context, runID string, events []contracts.RiskEvent) error
	SaveConfigSnapshot(ctx context.Context, runID string, snapshot strategy.DecisionSnapshot) error
}

// Engine wires the pipeline components together and runs them as audited
// cycles.
type Engine struct {
	cfg        *strategy.Config
	configYAML []byte

	loader       SnapshotLoader
	collector    DailyCollector
	screener     *universe.Screener
	calculator   *factors.Calculator
	ranker       *ranking.Ranker
	portfolioMgr *portfolio.Manager
	riskMgr      *risk.Manager

	universeRepo  contracts.UniverseRepository
	scoreRepo     contracts.ScoreRepository
	rankingRepo   contracts.RankingRepository
	portfolioRepo contracts.PortfolioRepository
	planRepo      contracts.PlanRepository
	audits        AuditStore

	metrics   *metrics.Registry
	publisher Publisher
	logger    *logger.Logger
}

// New creates an engine. metrics and publisher may be nil; collector may
// be nil when the engine only ranks and rebalances.
func New(
	cfg *strategy.Config,
	configYAML []byte,
	loader SnapshotLoader,
	collector DailyCollector,
	screener *universe.Screener,
	calculator *factors.Calculator,
	ranker *ranking.Ranker,
	portfolioMgr *portfolio.Manager,
	riskMgr *risk.Manager,
	universeRepo contracts.UniverseRepository,
	scoreRepo contracts.ScoreRepository,
	rankingRepo contracts.RankingRepository,
	portfolioRepo contracts.PortfolioRepository,
	planRepo contracts.PlanRepository,
	audits AuditStore,
	reg *metrics.Registry,
	publisher Publisher,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:           cfg,
		configYAML:    configYAML,
		loader:        loader,
		collector:     collector,
		screener:      screener,
		calculator:    calculator,
		ranker:        ranker,
		portfolioMgr:  portfolioMgr,
		riskMgr:       riskMgr,
		universeRepo:  universeRepo,
		scoreRepo:     scoreRepo,
		rankingRepo:   rankingRepo,
		portfolioRepo: portfolioRepo,
		planRepo:      planRepo,
		audits:        audits,
		metrics:       reg,
		publisher:     publisher,
		logger:        log.WithField("module", "engine"),
	}
}

// Options selects the date and recording details of one run.
type Options struct {
	// Date is the evaluation date; zero means today in UTC.
	Date time.Time

	// GitCommit is stamped into the decision snapshot when known.
	GitCommit string

	// DryRun computes and reports the full cycle but leaves the plan
	// unsaved and the book untouched.
	DryRun bool
}

// Result carries every artifact one run produced. Fields past the stage
// the run reached are nil.
type Result struct {
	Run       *audit.Run                `json:"run"`
	Universe  *contracts.Universe       `json:"universe,omitempty"`
	Scores    *contracts.ScoreSet       `json:"scores,omitempty"`
	Ranked    *contracts.RankedUniverse `json:"ranked,omitempty"`
	Plan      *contracts.TradePlan      `json:"plan,omitempty"`
	Risk      *contracts.RiskReport     `json:"risk,omitempty"`
	Portfolio *contracts.Portfolio      `json:"portfolio,omitempty"`
}

// RunCollect refreshes index constituents, daily bars, and fundamentals
// over a short trailing window ending at the evaluation date.
func (e *Engine) RunCollect(ctx context.Context, opts Options) (*Result, error) {
	date := normalizeDate(opts.Date)
	run, err := e.startRun(ctx, KindCollect, date, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Run: run}

	err = e.collect(ctx, date)
	return res, e.finishRun(ctx, run, err)
}

// RunRank executes the scoring half of the pipeline: load, screen, score,
// rank. The book is not touched.
func (e *Engine) RunRank(ctx context.Context, opts Options) (*Result, error) {
	date := normalizeDate(opts.Date)
	run, err := e.startRun(ctx, KindRank, date, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Run: run}

	_, err = e.rankCycle(ctx, run, res, date)
	return res, e.finishRun(ctx, run, err)
}

// RunRebalance executes the full cycle: rank the universe, select targets
// against the current book, apply the risk overlay, merge, and move the
// book onto the surviving plan.
func (e *Engine) RunRebalance(ctx context.Context, opts Options) (*Result, error) {
	date := normalizeDate(opts.Date)
	run, err := e.startRun(ctx, KindRebalance, date, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Run: run}

	err = e.rebalance(ctx, run, res, date, opts)
	return res, e.finishRun(ctx, run, err)
}

func (e *Engine) collect(ctx context.Context, date time.Time) error {
	if e.collector == nil {
		return errors.New("no collector configured")
	}

	timer := e.metrics.StartStage("collect")
	from := date.AddDate(0, 0, -collectLookbackDays)
	err := e.collector.CollectDaily(ctx, from, date, marketdata.Config{Workers: defaultCollectWorkers})
	if err != nil {
		timer.Stop(metrics.ResultError)
		return fmt.Errorf("collect daily: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)
	return nil
}

// rankCycle runs load → screen → factors → rank, filling res as stages
// complete, and returns the loaded snapshots for downstream stages.
func (e *Engine) rankCycle(ctx context.Context, run *audit.Run, res *Result, date time.Time) ([]contracts.SecuritySnapshot, error) {
	snapshots, err := e.loadSnapshots(ctx, run, date)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	uni, err := e.screen(ctx, run, date, snapshots)
	if err != nil {
		return nil, fmt.Errorf("screen universe: %w", err)
	}
	res.Universe = uni

	set, err := e.computeFactors(ctx, run, date, snapshots, uni)
	if err != nil {
		return nil, fmt.Errorf("compute factors: %w", err)
	}
	res.Scores = set

	ranked, err := e.rank(ctx, run, set)
	if err != nil {
		return nil, fmt.Errorf("rank universe: %w", err)
	}
	res.Ranked = ranked

	return snapshots, nil
}

func (e *Engine) rebalance(ctx context.Context, run *audit.Run, res *Result, date time.Time, opts Options) error {
	snapshots, err := e.rankCycle(ctx, run, res, date)
	if err != nil {
		return err
	}

	current, err := e.currentBook(ctx, date)
	if err != nil {
		return fmt.Errorf("load current portfolio: %w", err)
	}

	plan, err := e.selectTargets(ctx, run, res.Ranked, current)
	if err != nil {
		return fmt.Errorf("select targets: %w", err)
	}

	report, err := e.evaluateRisk(ctx, run, current, snapshots)
	if err != nil {
		return fmt.Errorf("evaluate risk: %w", err)
	}
	res.Risk = report

	// Risk overrides win over rebalance instructions; the merged list is
	// the plan of record.
	plan.Instructions = contracts.MergeInstructions(plan.Instructions, report.Overrides)
	res.Plan = plan

	next, err := e.apply(ctx, run, current, plan, snapshots, date, opts)
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	res.Portfolio = next

	return nil
}

func (e *Engine) loadSnapshots(ctx context.Context, run *audit.Run, date time.Time) ([]contracts.SecuritySnapshot, error) {
	e.logger.WithField("date", date.Format("2006-01-02")).Info("Loading security snapshots")

	timer := e.metrics.StartStage("load")
	snapshots, err := e.loader.Load(ctx, date, historyCalendarDays, fundamentalsDepth)
	if err != nil {
		timer.Stop(metrics.ResultError)
		return nil, err
	}
	timer.Stop(metrics.ResultSuccess)

	e.publishStage(run, "load", map[string]interface{}{"securities": len(snapshots)})
	return snapshots, nil
}

func (e *Engine) screen(ctx context.Context, run *audit.Run, date time.Time, snapshots []contracts.SecuritySnapshot) (*contracts.Universe, error) {
	e.logger.Info("Screening universe")

	timer := e.metrics.StartStage("screen")
	uni := e.screener.Screen(date, snapshots)

	if err := e.universeRepo.Save(ctx, *uni); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save universe: %w", err)
	}
	if uni.Size() == 0 {
		timer.Stop(metrics.ResultError)
		return nil, contracts.ErrEmptyUniverse
	}
	timer.Stop(metrics.ResultSuccess)

	run.UniverseSize = uni.Size()
	e.metrics.SetUniverseSize(uni.Size())
	e.publishStage(run, "screen", map[string]interface{}{
		"eligible": uni.Size(),
		"excluded": len(uni.Excluded),
	})
	return uni, nil
}

func (e *Engine) computeFactors(ctx context.Context, run *audit.Run, date time.Time, snapshots []contracts.SecuritySnapshot, uni *contracts.Universe) (*contracts.ScoreSet, error) {
	e.logger.Info("Computing factor scores")

	timer := e.metrics.StartStage("factors")
	set, err := e.calculator.Compute(ctx, date, filterEligible(snapshots, uni))
	if err != nil {
		timer.Stop(metrics.ResultError)
		return nil, err
	}

	set = e.screener.ApplyQualityFloors(set)

	if err := e.scoreRepo.SaveSet(ctx, *set); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save scores: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)

	e.publishStage(run, "factors", map[string]interface{}{
		"scored":  len(set.Scores),
		"skipped": len(set.Skipped),
	})
	return set, nil
}

func (e *Engine) rank(ctx context.Context, run *audit.Run, set *contracts.ScoreSet) (*contracts.RankedUniverse, error) {
	e.logger.Info("Ranking universe")

	timer := e.metrics.StartStage("rank")
	ranked, err := e.ranker.Rank(set)
	if err != nil {
		timer.Stop(metrics.ResultError)
		return nil, err
	}

	if err := e.rankingRepo.Save(ctx, *ranked); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save ranking: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)

	run.RankedCount = ranked.Size()
	e.publishStage(run, "rank", map[string]interface{}{
		"ranked": ranked.Size(),
		"top":    ranked.Entries[0].Symbol,
	})
	return ranked, nil
}

// currentBook loads the latest persisted portfolio, or an empty book when
// none exists yet.
func (e *Engine) currentBook(ctx context.Context, date time.Time) (contracts.Portfolio, error) {
	current, err := e.portfolioRepo.Current(ctx)
	if errors.Is(err, contracts.ErrNotFound) {
		e.logger.Info("No portfolio on record, starting from an empty book")
		return contracts.NewPortfolio(date), nil
	}
	if err != nil {
		return contracts.Portfolio{}, err
	}
	return *current, nil
}

func (e *Engine) selectTargets(ctx context.Context, run *audit.Run, ranked *contracts.RankedUniverse, current contracts.Portfolio) (*contracts.TradePlan, error) {
	e.logger.Info("Selecting targets")

	timer := e.metrics.StartStage("select")
	plan, err := e.portfolioMgr.SelectTargets(ranked, current)
	if err != nil {
		timer.Stop(metrics.ResultError)
		return nil, err
	}
	timer.Stop(metrics.ResultSuccess)

	e.publishStage(run, "select", map[string]interface{}{
		"targets":      plan.Target.Count(),
		"instructions": len(plan.Instructions),
	})
	return plan, nil
}

func (e *Engine) evaluateRisk(ctx context.Context, run *audit.Run, current contracts.Portfolio, snapshots []contracts.SecuritySnapshot) (*contracts.RiskReport, error) {
	e.logger.Info("Evaluating risk")

	timer := e.metrics.StartStage("risk")
	report := e.riskMgr.Evaluate(current, priceHistories(current, snapshots))

	if err := e.audits.SaveRiskEvents(ctx, run.ID, report.Events); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save risk events: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)

	run.RiskEvents = len(report.Events)
	for _, event := range report.Events {
		e.metrics.RecordRiskEvent(string(event.Kind))
		e.publish(run, EventRiskTriggered, map[string]interface{}{
			"symbol":    event.Symbol,
			"rule":      string(event.Kind),
			"observed":  event.Observed,
			"threshold": event.Threshold,
		})
	}
	e.publishStage(run, "risk", map[string]interface{}{
		"events":    len(report.Events),
		"overrides": len(report.Overrides),
	})
	return report, nil
}

func (e *Engine) apply(ctx context.Context, run *audit.Run, current contracts.Portfolio, plan *contracts.TradePlan, snapshots []contracts.SecuritySnapshot, date time.Time, opts Options) (*contracts.Portfolio, error) {
	run.Instructions = len(plan.Instructions)
	for _, in := range plan.Instructions {
		e.metrics.RecordInstruction(string(in.Action), in.Source)
	}

	if opts.DryRun {
		e.logger.WithField("instructions", len(plan.Instructions)).Info("Dry run, plan not persisted and book unchanged")
		e.publishStage(run, "apply", map[string]interface{}{"dry_run": true})
		return nil, nil
	}

	e.logger.Info("Applying trade plan")

	timer := e.metrics.StartStage("apply")
	if err := e.planRepo.Save(ctx, *plan); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save plan: %w", err)
	}

	next := e.portfolioMgr.Apply(current, plan, plan.Instructions, latestCloses(snapshots), date)
	if err := e.portfolioRepo.Save(ctx, next); err != nil {
		timer.Stop(metrics.ResultError)
		return nil, fmt.Errorf("save portfolio: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)

	run.Positions = next.Count()
	e.metrics.SetPositions(next.Count())
	e.publishStage(run, "apply", map[string]interface{}{
		"positions": next.Count(),
		"turnover":  contracts.Turnover(current, next),
	})
	return &next, nil
}

// startRun opens the audit record and freezes the strategy config for it.
func (e *Engine) startRun(ctx context.Context, kind string, date time.Time, opts Options) (*audit.Run, error) {
	snapshot, err := strategy.NewDecisionSnapshot(e.cfg, e.configYAML, opts.GitCommit, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("build decision snapshot: %w", err)
	}

	run := audit.NewRun(kind, date, snapshot.ConfigHash)

	e.logger.WithFields(map[string]interface{}{
		"run_id":      run.ID,
		"kind":        kind,
		"date":        date.Format("2006-01-02"),
		"config_hash": snapshot.ConfigHash,
		"dry_run":     opts.DryRun,
	}).Info("Starting pipeline run")

	if err := e.audits.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	if err := e.audits.SaveConfigSnapshot(ctx, run.ID, *snapshot); err != nil {
		return nil, fmt.Errorf("save config snapshot: %w", err)
	}

	e.publish(run, EventRunStarted, map[string]interface{}{"date": date.Format("2006-01-02")})
	return run, nil
}

// finishRun closes the audit record and reports the outcome. The original
// run error, when any, is what callers get back.
func (e *Engine) finishRun(ctx context.Context, run *audit.Run, runErr error) error {
	if runErr != nil {
		run.Fail(runErr)
	} else {
		run.Complete()
	}

	e.metrics.RecordRun(run.Kind, string(run.Status), run.Duration())

	if runErr != nil {
		e.logger.WithError(runErr).WithFields(map[string]interface{}{
			"run_id":   run.ID,
			"duration": run.Duration().Seconds(),
		}).Error("Pipeline run failed")
		e.publish(run, EventRunFailed, map[string]interface{}{"error": runErr.Error()})
	} else {
		e.logger.WithFields(map[string]interface{}{
			"run_id":   run.ID,
			"duration": run.Duration().Seconds(),
		}).Info("Pipeline run completed")
		e.publish(run, EventRunCompleted, nil)
	}

	if err := e.audits.SaveRun(ctx, run); err != nil {
		e.logger.WithError(err).Error("Failed to persist run record")
		if runErr == nil {
			return fmt.Errorf("save run: %w", err)
		}
	}
	return runErr
}

func (e *Engine) publishStage(run *audit.Run, stage string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["stage"] = stage
	e.publish(run, EventStageCompleted, fields)
}

func (e *Engine) publish(run *audit.Run, eventType string, fields map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(Event{
		Type:   eventType,
		RunID:  run.ID,
		Kind:   run.Kind,
		At:     time.Now().UTC(),
		Fields: fields,
	})
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

// priceHistories maps each held symbol to its bar series. A held symbol
// with no snapshot gets no entry; the risk manager treats it as having
// insufficient history and flags it at maximum risk.
func priceHistories(current contracts.Portfolio, snapshots []contracts.SecuritySnapshot) map[string][]contracts.Price {
	bySymbol := make(map[string][]contracts.Price, len(snapshots))
	for _, snap := range snapshots {
		bySymbol[snap.Security.Symbol] = snap.Prices
	}
	out := make(map[string][]contracts.Price, current.Count())
	for symbol := range current.Positions {
		if prices, ok := bySymbol[symbol]; ok {
			out[symbol] = prices
		}
	}
	return out
}

// latestCloses maps each symbol to its most recent adjusted close, the
// same series every return in the pipeline is computed on.
func latestCloses(snapshots []contracts.SecuritySnapshot) map[string]float64 {
	out := make(map[string]float64, len(snapshots))
	for _, snap := range snapshots {
		if bar, ok := snap.LatestPrice(); ok {
			out[snap.Security.Symbol] = bar.AdjClose
		}
	}
	return out
}

func normalizeDate(d time.Time) time.Time {
	if d.IsZero() {
		d = time.Now().UTC()
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
