package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiltlab/tilt/internal/api/handlers"
	"github.com/tiltlab/tilt/pkg/logger"
)

// NewRouter wires every endpoint onto the mux router. Routing lives in this
// function only.
func NewRouter(
	rankingHandler *handlers.RankingHandler,
	portfolioHandler *handlers.PortfolioHandler,
	riskHandler *handlers.RiskHandler,
	runHandler *handlers.RunHandler,
	events http.Handler,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Ranking endpoints
	api.HandleFunc("/ranking", rankingHandler.GetLatest).Methods("GET")
	api.HandleFunc("/ranking/{date}", rankingHandler.GetByDate).Methods("GET")

	// Portfolio endpoints
	api.HandleFunc("/portfolio", portfolioHandler.GetCurrent).Methods("GET")
	api.HandleFunc("/plans/latest", portfolioHandler.GetLatestPlan).Methods("GET")
	api.HandleFunc("/plans/{id}", portfolioHandler.GetPlan).Methods("GET")

	// Risk endpoints
	api.HandleFunc("/risk/events", riskHandler.GetRecentEvents).Methods("GET")

	// Run endpoints
	api.HandleFunc("/runs", runHandler.List).Methods("GET")
	api.HandleFunc("/runs/{id}", runHandler.Get).Methods("GET")
	api.HandleFunc("/runs/{id}/events", runHandler.GetRiskEvents).Methods("GET")
	api.HandleFunc("/runs/{id}/config", runHandler.GetConfig).Methods("GET")
	api.HandleFunc("/trigger/{kind}", runHandler.Trigger).Methods("POST")

	// Event stream
	if events != nil {
		r.Handle("/events", events).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "tilt-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
