package scheduler

import (
	"context"
	"time"
)

// historyCap bounds how many results each job retains.
const historyCap = 100

// Job is one schedulable unit of work.
type Job interface {
	// Name returns the unique job name.
	Name() string

	// Run executes the job.
	Run(ctx context.Context) error

	// Schedule returns the cron expression, seconds field included.
	// Example: "0 30 17 * * MON-FRI".
	Schedule() string
}

// JobResult is the outcome of one job execution.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobHistory keeps the most recent results of one job.
type JobHistory struct {
	Results []JobResult
}

// Add appends a result, discarding the oldest beyond the cap.
func (h *JobHistory) Add(result JobResult) {
	h.Results = append(h.Results, result)
	if len(h.Results) > historyCap {
		h.Results = h.Results[len(h.Results)-historyCap:]
	}
}

// Latest returns the most recent n results, oldest first.
func (h *JobHistory) Latest(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n == 0 {
		return []JobResult{}
	}
	return h.Results[len(h.Results)-n:]
}

// SuccessRate returns the fraction of successful runs, 0 when none ran.
func (h *JobHistory) SuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0.0
	}

	succeeded := 0
	for _, result := range h.Results {
		if result.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(h.Results))
}
