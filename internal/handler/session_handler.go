package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Session: /v1/session
// ============================================================

func sessionStatusHandler(session *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Status(r.Context()))
	}
}

func sessionLoginHandler(session *service.Session, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/login")
		defer span.End()

		var req domain.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "credentials", Message: "email and password are required"}, logger)
			return
		}
		span.SetAttributes(attribute.String("username", req.Email))

		if _, err := session.Login(ctx, req.Email, req.Password); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// sessionLogoutHandler always signs the session out; a failure to forget
// the stored token is still reported.
func sessionLogoutHandler(session *service.Session, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/logout")
		defer span.End()

		if err := session.Logout(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
