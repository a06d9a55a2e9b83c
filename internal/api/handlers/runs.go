package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiltlab/tilt/internal/audit"
	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/internal/engine"
	"github.com/tiltlab/tilt/internal/strategy"
	"github.com/tiltlab/tilt/pkg/logger"
)

const defaultRunListLimit = 20

// RunReader reads the persisted audit trail of pipeline runs.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]audit.Run, error)
	GetRun(ctx context.Context, id string) (*audit.Run, error)
	RiskEventsByRun(ctx context.Context, runID string) ([]contracts.RiskEvent, error)
	GetConfigSnapshot(ctx context.Context, runID string) (*strategy.DecisionSnapshot, error)
}

// PipelineRunner triggers pipeline runs.
type PipelineRunner interface {
	RunCollect(ctx context.Context, opts engine.Options) (*engine.Result, error)
	RunRank(ctx context.Context, opts engine.Options) (*engine.Result, error)
	RunRebalance(ctx context.Context, opts engine.Options) (*engine.Result, error)
}

// RunHandler serves the audit trail and manual run triggers.
type RunHandler struct {
	audits RunReader
	runner PipelineRunner
	logger *logger.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(audits RunReader, runner PipelineRunner, log *logger.Logger) *RunHandler {
	return &RunHandler{
		audits: audits,
		runner: runner,
		logger: log,
	}
}

// List returns the most recent runs, newest first.
// GET /api/v1/runs?limit=20
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := h.audits.ListRuns(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, statusFor(err), "Failed to retrieve runs")
		return
	}

	respondData(w, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// Get returns one run by ID.
// GET /api/v1/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	run, err := h.audits.GetRun(ctx, vars["id"])
	if err != nil {
		h.logger.WithError(err).WithField("run_id", vars["id"]).Error("Failed to get run")
		respondError(w, statusFor(err), "Failed to retrieve run")
		return
	}

	respondData(w, run)
}

// GetRiskEvents returns the risk events recorded during one run.
// GET /api/v1/runs/{id}/events
func (h *RunHandler) GetRiskEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	events, err := h.audits.RiskEventsByRun(ctx, vars["id"])
	if err != nil {
		h.logger.WithError(err).WithField("run_id", vars["id"]).Error("Failed to get run risk events")
		respondError(w, statusFor(err), "Failed to retrieve risk events")
		return
	}

	respondData(w, map[string]interface{}{
		"run_id": vars["id"],
		"count":  len(events),
		"events": events,
	})
}

// GetConfig returns the frozen strategy configuration of one run.
// GET /api/v1/runs/{id}/config
func (h *RunHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	snapshot, err := h.audits.GetConfigSnapshot(ctx, vars["id"])
	if err != nil {
		h.logger.WithError(err).WithField("run_id", vars["id"]).Error("Failed to get config snapshot")
		respondError(w, statusFor(err), "Failed to retrieve config snapshot")
		return
	}

	respondData(w, snapshot)
}

// TriggerRequest is the body of a manual run trigger.
type TriggerRequest struct {
	Date   string `json:"date"`    // optional, YYYY-MM-DD; empty means today
	DryRun bool   `json:"dry_run"` // rebalance only: plan without applying
}

// Trigger starts a pipeline run of the requested kind and blocks until it
// finishes.
// POST /api/v1/trigger/{kind}
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	kind := vars["kind"]

	var req TriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	opts := engine.Options{DryRun: req.DryRun}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'date' format (expected YYYY-MM-DD)")
			return
		}
		opts.Date = date
	}

	h.logger.WithFields(map[string]interface{}{
		"kind":    kind,
		"date":    req.Date,
		"dry_run": req.DryRun,
	}).Info("Run triggered via API")

	var (
		result *engine.Result
		err    error
	)
	switch kind {
	case engine.KindCollect:
		result, err = h.runner.RunCollect(ctx, opts)
	case engine.KindRank:
		result, err = h.runner.RunRank(ctx, opts)
	case engine.KindRebalance:
		result, err = h.runner.RunRebalance(ctx, opts)
	default:
		respondError(w, http.StatusBadRequest, "Invalid run kind (valid: collect, rank, rebalance)")
		return
	}

	if err != nil {
		h.logger.WithError(err).WithField("kind", kind).Error("Triggered run failed")
		// The failed run record still identifies what went wrong.
		payload := map[string]interface{}{
			"error": err.Error(),
		}
		if result != nil && result.Run != nil {
			payload["run"] = result.Run
		}
		respondJSON(w, http.StatusInternalServerError, payload)
		return
	}

	respondData(w, result)
}
