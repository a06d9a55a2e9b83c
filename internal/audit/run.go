package audit

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the audit record of one pipeline execution. Every decision
// artifact (universe, scores, ranking, plan, risk report) is keyed by the
// run ID so a decision can be reconstructed later.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"` // rank | rebalance | collect
	Date       time.Time  `json:"date"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	ConfigHash string     `json:"config_hash"`

	// Stage counters, zero until the stage ran.
	UniverseSize int `json:"universe_size"`
	RankedCount  int `json:"ranked_count"`
	Positions    int `json:"positions"`
	Instructions int `json:"instructions"`
	RiskEvents   int `json:"risk_events"`
}

// NewRun starts a run record for date.
func NewRun(kind string, date time.Time, configHash string) *Run {
	return &Run{
		ID:         uuid.New().String(),
		Kind:       kind,
		Date:       date,
		Status:     RunRunning,
		StartedAt:  time.Now().UTC(),
		ConfigHash: configHash,
	}
}

// Complete marks the run finished successfully.
func (r *Run) Complete() {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = RunCompleted
}

// Fail marks the run failed with err.
func (r *Run) Fail(err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = RunFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns how long the run took, or the time elapsed so far for
// a run still in flight.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
