// Package jobs defines the scheduled pipeline jobs.
package jobs

import (
	"context"
	"fmt"

	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Runner triggers pipeline runs.
type Runner interface {
	RunCollect(ctx context.Context, opts engine.Options) (*engine.Result, error)
	RunRank(ctx context.Context, opts engine.Options) (*engine.Result, error)
	RunRebalance(ctx context.Context, opts engine.Options) (*engine.Result, error)
}

// CollectionJob collects daily prices and fundamentals after the close.
type CollectionJob struct {
	runner Runner
	logger *logger.Logger
}

// NewCollectionJob creates the daily collection job.
func NewCollectionJob(runner Runner, log *logger.Logger) *CollectionJob {
	return &CollectionJob{
		runner: runner,
		logger: log,
	}
}

// Name returns the job name.
func (j *CollectionJob) Name() string {
	return "daily_collection"
}

// Schedule runs weekdays at 17:30, after the US close settles.
func (j *CollectionJob) Schedule() string {
	return "0 30 17 * * MON-FRI"
}

// Run executes the collection run.
func (j *CollectionJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled collection")

	result, err := j.runner.RunCollect(ctx, engine.Options{})
	if err != nil {
		return fmt.Errorf("collect run: %w", err)
	}

	j.logger.WithField("run_id", result.Run.ID).Info("Scheduled collection completed")
	return nil
}

// RankJob refreshes the ranking daily once collection has landed.
type RankJob struct {
	runner Runner
	logger *logger.Logger
}

// NewRankJob creates the daily ranking job.
func NewRankJob(runner Runner, log *logger.Logger) *RankJob {
	return &RankJob{
		runner: runner,
		logger: log,
	}
}

// Name returns the job name.
func (j *RankJob) Name() string {
	return "daily_ranking"
}

// Schedule runs weekdays at 19:00, after the collection job.
func (j *RankJob) Schedule() string {
	return "0 0 19 * * MON-FRI"
}

// Run executes the ranking run.
func (j *RankJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled ranking")

	result, err := j.runner.RunRank(ctx, engine.Options{})
	if err != nil {
		return fmt.Errorf("rank run: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id": result.Run.ID,
		"ranked": result.Run.RankedCount,
	}).Info("Scheduled ranking completed")
	return nil
}

// RebalanceJob rebuilds the book at the configured frequency. On a date
// that falls outside trading days the run evaluates against the latest
// available data.
type RebalanceJob struct {
	runner    Runner
	frequency string
	logger    *logger.Logger
}

// NewRebalanceJob creates the rebalance job for frequency, one of
// weekly, monthly or quarterly.
func NewRebalanceJob(runner Runner, frequency string, log *logger.Logger) *RebalanceJob {
	return &RebalanceJob{
		runner:    runner,
		frequency: frequency,
		logger:    log,
	}
}

// Name returns the job name.
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Schedule maps the configured frequency onto a cron expression. Runs at
// 20:00, after the same-day ranking.
func (j *RebalanceJob) Schedule() string {
	switch j.frequency {
	case "weekly":
		return "0 0 20 * * MON"
	case "quarterly":
		return "0 0 20 1 1,4,7,10 *"
	default: // monthly
		return "0 0 20 1 * *"
	}
}

// Run executes the rebalance run.
func (j *RebalanceJob) Run(ctx context.Context) error {
	j.logger.WithField("frequency", j.frequency).Info("Starting scheduled rebalance")

	result, err := j.runner.RunRebalance(ctx, engine.Options{})
	if err != nil {
		return fmt.Errorf("rebalance run: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id":       result.Run.ID,
		"instructions": result.Run.Instructions,
		"positions":    result.Run.Positions,
	}).Info("Scheduled rebalance completed")
	return nil
}
