package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

const defaultRiskEventDays = 30

// RiskEventReader reads persisted risk overlay events.
type RiskEventReader interface {
	RecentRiskEvents(ctx context.Context, since time.Time) ([]contracts.RiskEvent, error)
}

// RiskHandler serves risk overlay events from the audit trail.
type RiskHandler struct {
	events RiskEventReader
	logger *logger.Logger
}

// NewRiskHandler creates a new risk handler.
func NewRiskHandler(events RiskEventReader, log *logger.Logger) *RiskHandler {
	return &RiskHandler{
		events: events,
		logger: log,
	}
}

// GetRecentEvents returns risk events recorded over the trailing window.
// GET /api/v1/risk/events?days=30
func (h *RiskHandler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := defaultRiskEventDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsed
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	events, err := h.events.RecentRiskEvents(ctx, since)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get risk events")
		respondError(w, statusFor(err), "Failed to retrieve risk events")
		return
	}

	respondData(w, map[string]interface{}{
		"since":  since.Format("2006-01-02"),
		"count":  len(events),
		"events": events,
	})
}
