package factors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

// defaultWorkers bounds the per-security computations running at once.
const defaultWorkers = 8

// Calculator runs the per-security factor computations in parallel and
// normalizes the results cross-sectionally into a scored universe. It
// holds no portfolio state; a pass is a pure function of the snapshots
// and the strategy configuration.
type Calculator struct {
	momentum *MomentumCalculator
	quality  *QualityCalculator
	value    *ValueCalculator
	cfg      *strategy.Config
	workers  int
	logger   *logger.Logger
}

// NewCalculator creates a factor calculator. workers < 1 selects the
// default pool size.
func NewCalculator(cfg *strategy.Config, workers int, log *logger.Logger) *Calculator {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Calculator{
		momentum: NewMomentumCalculator(cfg.Factors.Momentum, log),
		quality:  NewQualityCalculator(log),
		value:    NewValueCalculator(log),
		cfg:      cfg,
		workers:  workers,
		logger:   log.WithField("module", "factors"),
	}
}

// rawResult pairs one security with its raw factor inputs.
type rawResult struct {
	symbol string
	sector string
	raw    contracts.RawFactors
}

// Compute scores every snapshot as of date. Securities with incomplete
// raw factors are excluded and reported in ScoreSet.Skipped with the
// first missing field as the reason; they never abort the batch.
func (c *Calculator) Compute(ctx context.Context, date time.Time, snapshots []contracts.SecuritySnapshot) (*contracts.ScoreSet, error) {
	if len(snapshots) == 0 {
		return nil, contracts.ErrEmptyUniverse
	}

	c.logger.WithFields(map[string]interface{}{
		"date":       date.Format("2006-01-02"),
		"securities": len(snapshots),
		"workers":    c.workers,
	}).Info("Starting factor computation")

	taskCh := make(chan contracts.SecuritySnapshot, len(snapshots))
	resultCh := make(chan rawResult, len(snapshots))

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				resultCh <- rawResult{
					symbol: snap.Security.Symbol,
					sector: snap.Security.Sector,
					raw:    c.computeRaw(snap),
				}
			}
		}()
	}

	for _, snap := range snapshots {
		taskCh <- snap
	}
	close(taskCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]rawResult, 0, len(snapshots))
	for r := range resultCh {
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Worker scheduling must not leak into the output order.
	sort.Slice(results, func(i, j int) bool { return results[i].symbol < results[j].symbol })

	set := &contracts.ScoreSet{
		Date:    date,
		Skipped: make(map[string]string),
	}

	included := make([]rawResult, 0, len(results))
	for _, r := range results {
		if missing := r.raw.MissingFields(); len(missing) > 0 {
			set.Skipped[r.symbol] = "missing_" + missing[0]
			continue
		}
		included = append(included, r)
	}

	if len(included) == 0 {
		c.logger.WithField("skipped", len(set.Skipped)).Warn("No security has complete factors")
		return set, nil
	}

	set.Scores = c.score(included)

	c.logger.WithFields(map[string]interface{}{
		"scored":  len(set.Scores),
		"skipped": len(set.Skipped),
	}).Info("Factor computation completed")

	return set, nil
}

func (c *Calculator) computeRaw(snap contracts.SecuritySnapshot) contracts.RawFactors {
	mom := c.momentum.Calculate(snap.Security.Symbol, snap.Prices)
	qual := c.quality.Calculate(snap.Security.Symbol, snap.Fundamentals)
	val := c.value.Calculate(snap.Security.Symbol, snap.Fundamentals)

	return contracts.RawFactors{
		Momentum12M:       mom.Long,
		Momentum6M:        mom.Short,
		High52WProximity:  mom.High52W,
		ROE:               qual.ROE,
		EarningsQuality:   qual.EarningsQuality,
		EarningsStability: qual.EarningsStability,
		PERatio:           val.PERatio,
		EVEBITDA:          val.EVEBITDA,
	}
}

// score winsorizes and normalizes each sub-factor across the included
// securities, then blends the normalized columns into group scores and
// the weighted composite.
func (c *Calculator) score(included []rawResult) []contracts.FactorScore {
	mom12 := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.Momentum12M }, false)
	mom6 := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.Momentum6M }, false)
	high52 := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.High52WProximity }, false)
	roe := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.ROE }, false)
	eq := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.EarningsQuality }, false)
	stab := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.EarningsStability }, false)
	pe := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.PERatio }, true)
	ev := c.normalizeColumn(included, func(r contracts.RawFactors) contracts.Metric { return r.EVEBITDA }, true)

	mw := c.cfg.Factors.Momentum.Weights
	qw := c.cfg.Factors.Quality.Weights
	vw := c.cfg.Factors.Value.Weights
	gw := c.cfg.Ranking.WeightsPct

	scores := make([]contracts.FactorScore, len(included))
	for i, r := range included {
		momentum := mw.Long*mom12[i] + mw.Short*mom6[i] + mw.High52W*high52[i]
		quality := qw.ROE*roe[i] + qw.EarningsQuality*eq[i] + qw.EarningsStability*stab[i]
		value := vw.PE*pe[i] + vw.EVEBITDA*ev[i]
		composite := (float64(gw.Momentum)*momentum + float64(gw.Quality)*quality + float64(gw.Value)*value) / 100

		scores[i] = contracts.FactorScore{
			Symbol:    r.symbol,
			Sector:    r.sector,
			Momentum:  contracts.MetricOf(momentum),
			Quality:   contracts.MetricOf(quality),
			Value:     contracts.MetricOf(value),
			Composite: contracts.MetricOf(composite),
			Raw:       r.raw,
		}
	}
	return scores
}

// normalizeColumn extracts one sub-factor across the included securities
// and normalizes it. invert flips the scale for lower-is-better inputs
// such as valuation multiples.
func (c *Calculator) normalizeColumn(included []rawResult, get func(contracts.RawFactors) contracts.Metric, invert bool) []float64 {
	vals := make([]float64, len(included))
	for i, r := range included {
		v, _ := get(r.raw).Value() // complete by construction
		vals[i] = v
	}

	norm := c.cfg.Factors.Normalization
	vals = Winsorize(vals, norm.WinsorizePct, 1-norm.WinsorizePct)

	if norm.Method == "zscore" {
		out := ZScore(vals)
		if invert {
			for i := range out {
				out[i] = -out[i]
			}
		}
		return out
	}

	out := PercentileRank(vals)
	if invert {
		for i := range out {
			out[i] = 100 - out[i]
		}
	}
	return out
}
