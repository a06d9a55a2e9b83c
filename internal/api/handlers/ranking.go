package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// RankingHandler serves persisted ranking outcomes.
type RankingHandler struct {
	rankings contracts.RankingRepository
	logger   *logger.Logger
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(rankings contracts.RankingRepository, log *logger.Logger) *RankingHandler {
	return &RankingHandler{
		rankings: rankings,
		logger:   log,
	}
}

// GetLatest returns the most recent ranking.
// GET /api/v1/ranking
func (h *RankingHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ranked, err := h.rankings.Latest(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get latest ranking")
		respondError(w, statusFor(err), "Failed to retrieve ranking")
		return
	}

	respondData(w, map[string]interface{}{
		"date":    ranked.Date.Format("2006-01-02"),
		"count":   ranked.Size(),
		"entries": ranked.Entries,
	})
}

// GetByDate returns the ranking for one evaluation date.
// GET /api/v1/ranking/{date}
func (h *RankingHandler) GetByDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	date, err := time.Parse("2006-01-02", vars["date"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return
	}

	ranked, err := h.rankings.Load(ctx, date)
	if err != nil {
		h.logger.WithError(err).WithField("date", vars["date"]).Error("Failed to get ranking")
		respondError(w, statusFor(err), "Failed to retrieve ranking")
		return
	}

	respondData(w, map[string]interface{}{
		"date":    ranked.Date.Format("2006-01-02"),
		"count":   ranked.Size(),
		"entries": ranked.Entries,
	})
}
