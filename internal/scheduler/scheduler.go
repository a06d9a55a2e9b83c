// Package scheduler runs pipeline jobs on cron schedules with retry and
// execution history.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tiltlab/tilt/pkg/logger"
)

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	jobs    map[string]Job
	history map[string]*JobHistory
	mu      sync.RWMutex

	maxRetries int
	retryDelay time.Duration
}

// New creates a scheduler. Schedule expressions include a seconds field.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		logger:     log,
		jobs:       make(map[string]Job),
		history:    make(map[string]*JobHistory),
		maxRetries: 3,
		retryDelay: 1 * time.Minute,
	}
}

// AddJob registers a job under its name. Job names are unique.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	_, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = job
	s.history[name] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")

	return nil
}

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops the cron runner and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// RunJob runs a registered job immediately, outside its schedule.
func (s *Scheduler) RunJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	go s.runJob(job)
	return nil
}

// runJob executes one job, retrying on failure, and records the outcome.
func (s *Scheduler) runJob(job Job) {
	name := job.Name()
	start := time.Now()

	s.logger.WithField("job", name).Info("Job started")

	var lastErr error
	var success bool

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := job.Run(context.Background())
		if err == nil {
			success = true
			break
		}

		lastErr = err
		s.logger.WithFields(map[string]interface{}{
			"job":     name,
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Job execution failed, retrying")

		if attempt < s.maxRetries {
			time.Sleep(s.retryDelay)
		}
	}

	end := time.Now()
	result := JobResult{
		JobName:   name,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Success:   success,
	}
	if !success && lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[name]; exists {
		history.Add(result)
	}
	s.mu.Unlock()

	if success {
		s.logger.WithFields(map[string]interface{}{
			"job":      name,
			"duration": result.Duration,
		}).Info("Job completed successfully")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"job":      name,
			"duration": result.Duration,
			"error":    lastErr.Error(),
		}).Error("Job failed after all retries")
	}
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobStats summarizes one job's execution history.
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
}

// Stats returns per-job execution statistics.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]JobStats, len(s.history))
	for name, history := range s.history {
		st := JobStats{
			JobName:     name,
			Schedule:    s.jobs[name].Schedule(),
			TotalRuns:   len(history.Results),
			SuccessRate: history.SuccessRate(),
		}

		for i := range history.Results {
			result := &history.Results[i]
			if result.Success {
				st.SuccessCount++
				st.LastSuccess = &result.StartTime
			} else {
				st.FailureCount++
				st.LastFailure = &result.StartTime
			}
			st.LastRun = &result.StartTime
		}

		stats[name] = st
	}

	return stats
}
