package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type leadListResponse struct {
	Leads   []domain.Lead `json:"leads"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
}

func newLeadListResponse(leads *service.LeadCache, list []domain.Lead) leadListResponse {
	resp := leadListResponse{Leads: list, Loading: leads.IsLoading()}
	if err := leads.LastError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// ============================================================
// Leads: /v1/leads
// ============================================================

// listLeadsHandler serves the cached list, optionally filtered by ?status=.
func listLeadsHandler(leads *service.LeadCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := leads.Leads()
		if v := r.URL.Query().Get("status"); v != "" {
			status, err := domain.ParseStatus(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			list = leads.Filter(status)
		}
		writeJSON(w, http.StatusOK, newLeadListResponse(leads, list))
	}
}

func reloadLeadsHandler(leads *service.LeadCache, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/reload")
		defer span.End()

		if err := leads.Reload(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, newLeadListResponse(leads, leads.Leads()))
	}
}

func getLeadHandler(leads *service.LeadCache, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/leads/{id}")
		defer span.End()

		id := domain.LeadID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("lead.id", id.String()))

		lead, err := leads.Lookup(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func updateLeadStatusHandler(leads *service.LeadCache, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/leads/{id}")
		defer span.End()

		id := domain.LeadID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("lead.id", id.String()))

		var req domain.StatusUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := leads.UpdateStatus(ctx, id, status); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if lead, ok := leads.GetByID(id); ok {
			writeJSON(w, http.StatusOK, lead)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteLeadHandler(leads *service.LeadCache, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/leads/{id}")
		defer span.End()

		id := domain.LeadID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("lead.id", id.String()))

		if err := leads.Delete(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Tasks: /v1/tasks
// ============================================================

func tasksHandler(leads *service.LeadCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, leads.Tasks(time.Now()))
	}
}
