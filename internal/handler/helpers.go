package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/crm-leads-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleServiceError maps domain errors to HTTP responses.
// CRM API client errors (4xx) keep their status; server and transport
// failures become 502.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var validation *domain.ErrValidation
	var authErr *domain.ErrAuth
	var httpErr *domain.ErrHTTP
	var network *domain.ErrNetwork
	var circuitOpen *domain.ErrCircuitOpen

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &authErr):
		logger.Warn("login rejected", zap.Int("status", authErr.HTTP.Status))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &httpErr) && httpErr.Status < 500:
		logger.Debug("crm api rejected request", zap.Int("status", httpErr.Status), zap.String("error", err.Error()))
		writeError(w, httpErr.Status, err.Error())
	case errors.As(err, &httpErr):
		logger.Error("crm api failure", zap.Int("status", httpErr.Status), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &network):
		logger.Error("crm api unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
