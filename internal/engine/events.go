package engine

import "time"

// Event types pushed to stream subscribers while a run progresses.
const (
	EventRunStarted     = "run_started"
	EventStageCompleted = "stage_completed"
	EventRiskTriggered  = "risk_event"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
)

// Event is one progress notification from a pipeline run.
type Event struct {
	Type   string                 `json:"type"`
	RunID  string                 `json:"run_id"`
	Kind   string                 `json:"kind"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Publisher pushes run events to subscribers. Publish must not block;
// the engine calls it inline between stages.
type Publisher interface {
	Publish(event Event)
}
