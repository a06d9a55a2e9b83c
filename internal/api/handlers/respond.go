package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tiltlab/tilt/internal/contracts"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondData wraps payloads in the standard success envelope.
func respondData(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// statusFor maps repository errors onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, contracts.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
