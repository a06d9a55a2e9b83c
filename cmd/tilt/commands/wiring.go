package commands

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tiltlab/tilt/internal/api/events"
	"github.com/tiltlab/tilt/internal/audit"
	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/internal/factors"
	"github.com/tiltlab/tilt/internal/marketdata"
	"github.com/tiltlab/tilt/internal/metrics"
	"github.com/tiltlab/tilt/internal/portfolio"
	"github.com/tiltlab/tilt/internal/providers/finviz"
	"github.com/tiltlab/tilt/internal/providers/wikipedia"
	"github.com/tiltlab/tilt/internal/providers/yahoo"
	"github.com/tiltlab/tilt/internal/ranking"
	"github.com/tiltlab/tilt/internal/risk"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/internal/universe"
	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/database"
	"github.com/tiltlab/tilt/pkg/httputil"
	"github.com/tiltlab/tilt/pkg/logger"
	"github.com/tiltlab/tilt/pkg/redis"
)

// stack holds the wired dependencies shared by the pipeline commands.
type stack struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	rdb      *redis.Client
	strategy *strategy.Config
	registry *metrics.Registry

	loader   *marketdata.SnapshotLoader
	rankings *ranking.Repository
	books    *portfolio.Repository
	plans    *portfolio.PlanRepository
	audits   *audit.Repository

	hub    *events.Hub
	engine *engine.Engine
}

// buildStack wires configuration, storage, providers, and the engine the
// same way for every command. withEvents attaches a WebSocket hub so runs
// publish stage events; only the API server wants one.
func buildStack(withEvents bool) (*stack, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strategyPath != "" {
		cfg.StrategyPath = strategyPath
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load strategy config
	strat, strategyYAML, err := strategy.Load(cfg.StrategyPath)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}

	// 4. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("Connected to database")

	// 5. Connect to Redis (no-op client when disabled)
	rdb, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 6. Create HTTP client and data providers
	httpClient := httputil.New(cfg, log)
	yahooClient := yahoo.NewClient(cfg.Yahoo, httpClient, log)
	finvizClient := finviz.NewClient(cfg.Finviz, httpClient, log)
	wikiClient := wikipedia.NewClient(cfg.Wikipedia, httpClient, log)

	// 7. Create market data repositories
	securities := marketdata.NewSecurityRepository(db.Pool)
	prices := marketdata.NewPriceRepository(db.Pool)
	fundamentals := marketdata.NewFundamentalRepository(db.Pool)

	// 8. Create collector and snapshot loader
	collector := marketdata.NewCollector(
		yahooClient, yahooClient, finvizClient, wikiClient,
		securities, prices, fundamentals,
		redis.NewCache(rdb, "tilt"), log,
	)
	loader := marketdata.NewSnapshotLoader(securities, prices, fundamentals, log)

	// 9. Create decision repositories
	universeRepo := universe.NewRepository(db.Pool)
	scoreRepo := factors.NewRepository(db.Pool)
	rankings := ranking.NewRepository(db.Pool)
	books := portfolio.NewRepository(db.Pool)
	plans := portfolio.NewPlanRepository(db.Pool)
	audits := audit.NewRepository(db.Pool)

	// 10. Create pipeline components
	screener := universe.NewScreener(strat.Universe, log)
	calculator := factors.NewCalculator(strat, 0, log)
	ranker := ranking.NewRanker(log)
	portfolioMgr := portfolio.NewManager(strat, log)
	riskMgr := risk.NewManager(strat, log)

	// 11. Create metrics registry and event hub
	registry := metrics.NewRegistry()
	var hub *events.Hub
	var publisher engine.Publisher
	if withEvents {
		hub = events.NewHub(log)
		publisher = hub
	}

	// 12. Create engine
	eng := engine.New(
		strat, strategyYAML,
		loader, collector,
		screener, calculator, ranker, portfolioMgr, riskMgr,
		universeRepo, scoreRepo, rankings, books, plans, audits,
		registry, publisher, log,
	)

	return &stack{
		cfg:      cfg,
		log:      log,
		db:       db,
		rdb:      rdb,
		strategy: strat,
		registry: registry,
		loader:   loader,
		rankings: rankings,
		books:    books,
		plans:    plans,
		audits:   audits,
		hub:      hub,
		engine:   eng,
	}, nil
}

// Close releases the stack's connections.
func (s *stack) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// parseDateFlag parses a YYYY-MM-DD flag value. Empty means the zero
// time, which runs resolve to today.
func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", value)
	}
	return t, nil
}

// gitCommit returns the short git SHA stamped into decision snapshots.
func gitCommit() string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}
