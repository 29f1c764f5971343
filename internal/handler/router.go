package handler

import (
	"net/http"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"
	"github.com/boddenberg/crm-leads-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// CircuitReporter exposes the CRM API circuit breaker state.
type CircuitReporter interface {
	CircuitState() string
}

// NewRouter creates the local HTTP facade over the session and lead cache.
func NewRouter(
	session *service.Session,
	leads *service.LeadCache,
	circuit CircuitReporter,
	metrics *observability.Metrics,
	corsOrigins []string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(circuit))
	r.Get("/readyz", readyzHandler(session))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Session
		// =============================================
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionStatusHandler(session))
			r.Post("/login", sessionLoginHandler(session, logger))
			r.Post("/logout", sessionLogoutHandler(session, logger))
		})

		// =============================================
		// Leads (signed-in only)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(RequireSession(session, logger))

			r.Get("/leads", listLeadsHandler(leads))
			r.Post("/leads/reload", reloadLeadsHandler(leads, logger))
			r.Get("/leads/{id}", getLeadHandler(leads, logger))
			r.Patch("/leads/{id}", updateLeadStatusHandler(leads, logger))
			r.Delete("/leads/{id}", deleteLeadHandler(leads, logger))

			r.Get("/tasks", tasksHandler(leads))
		})

		r.Get("/stats", statsHandler(metrics, circuit))
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler(circuit CircuitReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := domain.HealthStatus{Status: "healthy", Circuit: "closed"}
		if circuit != nil {
			status.Circuit = circuit.CircuitState()
		}
		if status.Circuit == "open" {
			status.Status = "degraded"
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// readyzHandler reports ready once the startup token check has finished.
func readyzHandler(session *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session.IsLoading() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func statsHandler(metrics *observability.Metrics, circuit CircuitReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := metrics.Snapshot()
		if circuit != nil {
			stats.CircuitState = circuit.CircuitState()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
