package handlers

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/tiltlab/tilt/internal/contracts"
	"github.com/tiltlab/tilt/pkg/logger"
)

// PortfolioHandler serves the current book and trade plans.
type PortfolioHandler struct {
	books  contracts.PortfolioRepository
	plans  contracts.PlanRepository
	logger *logger.Logger
}

// NewPortfolioHandler creates a new portfolio handler.
func NewPortfolioHandler(books contracts.PortfolioRepository, plans contracts.PlanRepository, log *logger.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		books:  books,
		plans:  plans,
		logger: log,
	}
}

// GetCurrent returns the most recent portfolio snapshot.
// GET /api/v1/portfolio
func (h *PortfolioHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	book, err := h.books.Current(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get current portfolio")
		respondError(w, statusFor(err), "Failed to retrieve portfolio")
		return
	}

	positions := make([]contracts.Position, 0, len(book.Positions))
	for _, pos := range book.Positions {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Weight != positions[j].Weight {
			return positions[i].Weight > positions[j].Weight
		}
		return positions[i].Symbol < positions[j].Symbol
	})

	respondData(w, map[string]interface{}{
		"date":      book.Date.Format("2006-01-02"),
		"count":     book.Count(),
		"positions": positions,
	})
}

// GetLatestPlan returns the most recent trade plan.
// GET /api/v1/plans/latest
func (h *PortfolioHandler) GetLatestPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plan, err := h.plans.Latest(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get latest plan")
		respondError(w, statusFor(err), "Failed to retrieve plan")
		return
	}

	respondData(w, plan)
}

// GetPlan returns one trade plan by ID.
// GET /api/v1/plans/{id}
func (h *PortfolioHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	plan, err := h.plans.Get(ctx, vars["id"])
	if err != nil {
		h.logger.WithError(err).WithField("plan_id", vars["id"]).Error("Failed to get plan")
		respondError(w, statusFor(err), "Failed to retrieve plan")
		return
	}

	respondData(w, plan)
}
