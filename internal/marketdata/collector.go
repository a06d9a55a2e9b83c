package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
	"github.com/tiltlab/tilt/pkg/redis"
)

// Collector orchestrates data collection from the external sources into
// the repositories. All collection entry points live here.
type Collector struct {
	prices       PriceSource
	fundamentals FundamentalsSource
	snapshots    SnapshotSource
	constituents ConstituentsSource

	securityRepo    contracts.SecurityRepository
	priceRepo       contracts.PriceRepository
	fundamentalRepo contracts.FundamentalRepository

	cache  *redis.Cache
	logger *logger.Logger
}

// Config holds collector configuration.
type Config struct {
	Workers int
}

// NewCollector creates a collector. cache may be nil, in which case every
// fetch goes to the vendor. snapshots may be nil to skip backfilling.
func NewCollector(
	prices PriceSource,
	fundamentals FundamentalsSource,
	snapshots SnapshotSource,
	constituents ConstituentsSource,
	securityRepo contracts.SecurityRepository,
	priceRepo contracts.PriceRepository,
	fundamentalRepo contracts.FundamentalRepository,
	cache *redis.Cache,
	log *logger.Logger,
) *Collector {
	return &Collector{
		prices:          prices,
		fundamentals:    fundamentals,
		snapshots:       snapshots,
		constituents:    constituents,
		securityRepo:    securityRepo,
		priceRepo:       priceRepo,
		fundamentalRepo: fundamentalRepo,
		cache:           cache,
		logger:          log.WithField("module", "collector"),
	}
}

// FetchResult is the per-symbol outcome of one collection pass.
type FetchResult struct {
	Symbol       string
	PriceCount   int
	Fundamentals bool
	Error        error
}

// RefreshConstituents replaces the security master with current index
// membership. Symbols that fell out of the index are marked inactive, not
// deleted, so their history stays queryable.
func (c *Collector) RefreshConstituents(ctx context.Context) (int, error) {
	var securities []contracts.Security

	fetch := func() (interface{}, error) {
		return c.constituents.FetchConstituents(ctx)
	}
	if c.cache != nil {
		if err := c.cache.GetOrSet(ctx, redis.ConstituentsKey("sp500"), &securities, redis.TTLDaily, fetch); err != nil {
			return 0, fmt.Errorf("fetch constituents: %w", err)
		}
	} else {
		fetched, err := c.constituents.FetchConstituents(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch constituents: %w", err)
		}
		securities = fetched
	}

	if err := c.securityRepo.Upsert(ctx, securities); err != nil {
		return 0, fmt.Errorf("upsert securities: %w", err)
	}

	symbols := make([]string, len(securities))
	for i, s := range securities {
		symbols[i] = s.Symbol
	}
	if err := c.securityRepo.DeactivateExcept(ctx, symbols); err != nil {
		return 0, fmt.Errorf("deactivate departed securities: %w", err)
	}

	c.logger.WithField("count", len(securities)).Info("Refreshed constituents")
	return len(securities), nil
}

// CollectPrices fetches daily bars for every active security over
// [from, to] and persists them. Failures are isolated per symbol.
func (c *Collector) CollectPrices(ctx context.Context, from, to time.Time, cfg Config) ([]FetchResult, error) {
	securities, err := c.securityRepo.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active securities: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"securities": len(securities),
		"from":       from.Format("2006-01-02"),
		"to":         to.Format("2006-01-02"),
		"workers":    cfg.Workers,
	}).Info("Starting price collection")

	results := c.runPool(ctx, securities, cfg, func(ctx context.Context, sec contracts.Security) FetchResult {
		return c.collectPricesFor(ctx, sec.Symbol, from, to)
	})

	c.logSummary("Price collection completed", results)
	return results, nil
}

func (c *Collector) collectPricesFor(ctx context.Context, symbol string, from, to time.Time) FetchResult {
	var bars []contracts.Price

	fetch := func() (interface{}, error) {
		return c.prices.FetchDailyBars(ctx, symbol, from, to)
	}

	var err error
	if c.cache != nil {
		lookback := int(to.Sub(from).Hours() / 24)
		err = c.cache.GetOrSet(ctx, redis.ChartKey(symbol, lookback), &bars, redis.TTLDaily, fetch)
	} else {
		bars, err = c.prices.FetchDailyBars(ctx, symbol, from, to)
	}
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Error("Failed to fetch prices")
		return FetchResult{Symbol: symbol, Error: err}
	}

	if err := c.priceRepo.SaveBatch(ctx, bars); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Error("Failed to save prices")
		return FetchResult{Symbol: symbol, PriceCount: len(bars), Error: err}
	}

	return FetchResult{Symbol: symbol, PriceCount: len(bars)}
}

// CollectFundamentals fetches a fundamentals snapshot for every active
// security, backfilling missing fields from the secondary source, and
// persists the merged records.
func (c *Collector) CollectFundamentals(ctx context.Context, asOf time.Time, cfg Config) ([]FetchResult, error) {
	securities, err := c.securityRepo.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active securities: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"securities": len(securities),
		"as_of":      asOf.Format("2006-01-02"),
		"workers":    cfg.Workers,
	}).Info("Starting fundamentals collection")

	results := c.runPool(ctx, securities, cfg, func(ctx context.Context, sec contracts.Security) FetchResult {
		return c.collectFundamentalsFor(ctx, sec.Symbol, asOf)
	})

	c.logSummary("Fundamentals collection completed", results)
	return results, nil
}

func (c *Collector) collectFundamentalsFor(ctx context.Context, symbol string, asOf time.Time) FetchResult {
	var record *contracts.FundamentalRecord

	fetch := func() (interface{}, error) {
		return c.fetchMergedFundamentals(ctx, symbol, asOf)
	}

	var err error
	if c.cache != nil {
		err = c.cache.GetOrSet(ctx, redis.FundamentalsKey(symbol), &record, redis.TTLDaily, fetch)
	} else {
		record, err = c.fetchMergedFundamentals(ctx, symbol, asOf)
	}
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Error("Failed to fetch fundamentals")
		return FetchResult{Symbol: symbol, Error: err}
	}

	if err := c.fundamentalRepo.SaveBatch(ctx, []contracts.FundamentalRecord{*record}); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Error("Failed to save fundamentals")
		return FetchResult{Symbol: symbol, Error: err}
	}

	return FetchResult{Symbol: symbol, Fundamentals: true}
}

// fetchMergedFundamentals pulls the primary record and fills its gaps
// from the secondary scrape. A secondary failure only costs the backfill.
func (c *Collector) fetchMergedFundamentals(ctx context.Context, symbol string, asOf time.Time) (*contracts.FundamentalRecord, error) {
	record, err := c.fundamentals.FetchFundamentals(ctx, symbol, asOf)
	if err != nil {
		return nil, err
	}

	if c.snapshots != nil && !record.Complete() {
		backup, backupErr := c.snapshots.FetchSnapshot(ctx, symbol, asOf)
		if backupErr != nil {
			c.logger.WithError(backupErr).WithField("symbol", symbol).Warn("Secondary fundamentals fetch failed")
		} else {
			mergeFundamentals(record, backup)
		}
	}

	return record, nil
}

// mergeFundamentals fills missing fields of dst from src in place.
func mergeFundamentals(dst, src *contracts.FundamentalRecord) {
	fill := func(d *contracts.Metric, s contracts.Metric) {
		if !d.Valid() && s.Valid() {
			*d = s
		}
	}
	fill(&dst.ROE, src.ROE)
	fill(&dst.EPS, src.EPS)
	fill(&dst.NetIncome, src.NetIncome)
	fill(&dst.OperatingCashFlow, src.OperatingCashFlow)
	fill(&dst.PERatio, src.PERatio)
	fill(&dst.EnterpriseValue, src.EnterpriseValue)
	fill(&dst.EBITDA, src.EBITDA)
	fill(&dst.ProfitMargin, src.ProfitMargin)
	fill(&dst.MarketCap, src.MarketCap)
	fill(&dst.SharesOutstanding, src.SharesOutstanding)
}

// CollectDaily runs the full daily cycle: constituents, then prices and
// fundamentals.
func (c *Collector) CollectDaily(ctx context.Context, from, to time.Time, cfg Config) error {
	if _, err := c.RefreshConstituents(ctx); err != nil {
		return fmt.Errorf("refresh constituents: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.CollectPrices(ctx, from, to, cfg); err != nil {
			errCh <- fmt.Errorf("collect prices: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.CollectFundamentals(ctx, to, cfg); err != nil {
			errCh <- fmt.Errorf("collect fundamentals: %w", err)
		}
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("collection errors: %v", errs)
	}
	return nil
}

// runPool fans securities out over cfg.Workers goroutines.
func (c *Collector) runPool(ctx context.Context, securities []contracts.Security, cfg Config, work func(context.Context, contracts.Security) FetchResult) []FetchResult {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	secCh := make(chan contracts.Security, len(securities))
	resultCh := make(chan FetchResult, len(securities))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sec := range secCh {
				select {
				case <-ctx.Done():
					resultCh <- FetchResult{Symbol: sec.Symbol, Error: ctx.Err()}
					continue
				default:
				}
				resultCh <- work(ctx, sec)
			}
		}()
	}

	for _, sec := range securities {
		secCh <- sec
	}
	close(secCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]FetchResult, 0, len(securities))
	for result := range resultCh {
		results = append(results, result)
	}
	return results
}

func (c *Collector) logSummary(msg string, results []FetchResult) {
	success, failed := 0, 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		} else {
			success++
		}
	}
	c.logger.WithFields(map[string]interface{}{
		"success": success,
		"failed":  failed,
		"total":   len(results),
	}).Info(msg)
}
