package observability

import (
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync layer.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	apiDuration     *prometheus.HistogramVec
	apiRequests     *prometheus.CounterVec
	apiErrors       *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	lookups         *prometheus.CounterVec
	cachedLeads     prometheus.Gauge
	authTransitions *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// metrics in it. A private registry lets tests call NewMetrics repeatedly.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_api_request_duration_seconds",
				Help:    "Duration of CRM API calls by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_api_requests_total",
				Help: "Total CRM API calls by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		apiErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_api_errors_total",
				Help: "Total CRM API errors by kind.",
			},
			[]string{"kind"},
		),
		reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_lead_reloads_total",
				Help: "Lead cache reloads by outcome (ok, error, skipped, stale).",
			},
			[]string{"outcome"},
		),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_lead_lookups_total",
				Help: "Lead lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		cachedLeads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crm_cached_leads",
				Help: "Number of leads currently held in memory.",
			},
		),
		authTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_auth_transitions_total",
				Help: "Session authentication transitions by new state.",
			},
			[]string{"state"},
		),
	}
}

// RecordAPICall records the duration and outcome of one CRM API operation.
func (m *Metrics) RecordAPICall(operation string, d time.Duration, err error) {
	m.apiDuration.WithLabelValues(operation).Observe(d.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.apiRequests.WithLabelValues(operation, outcome).Inc()
}

// IncrAPIError increments the error counter for an error kind.
func (m *Metrics) IncrAPIError(kind string) {
	m.apiErrors.WithLabelValues(kind).Inc()
}

// IncrReload counts a reload outcome.
func (m *Metrics) IncrReload(outcome string) {
	m.reloads.WithLabelValues(outcome).Inc()
}

// IncrLookup counts a lookup hit or miss.
func (m *Metrics) IncrLookup(hit bool) {
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
		return
	}
	m.lookups.WithLabelValues("miss").Inc()
}

// SetCachedLeads sets the in-memory lead gauge.
func (m *Metrics) SetCachedLeads(n int) {
	m.cachedLeads.Set(float64(n))
}

// IncrAuthTransition counts a session transition.
func (m *Metrics) IncrAuthTransition(authenticated bool) {
	if authenticated {
		m.authTransitions.WithLabelValues("authenticated").Inc()
		return
	}
	m.authTransitions.WithLabelValues("unauthenticated").Inc()
}

// Snapshot returns the current counters for GET /v1/stats and `crmctl stats`.
func (m *Metrics) Snapshot() *domain.SyncStats {
	var requests, errors float64
	for _, op := range apiOperations {
		requests += counterValue(m.apiRequests.WithLabelValues(op, "ok"))
		errs := counterValue(m.apiRequests.WithLabelValues(op, "error"))
		requests += errs
		errors += errs
	}

	ok := counterValue(m.reloads.WithLabelValues("ok"))
	failed := counterValue(m.reloads.WithLabelValues("error"))
	skipped := counterValue(m.reloads.WithLabelValues("skipped"))
	stale := counterValue(m.reloads.WithLabelValues("stale"))

	hits := counterValue(m.lookups.WithLabelValues("hit"))
	misses := counterValue(m.lookups.WithLabelValues("miss"))

	stats := &domain.SyncStats{
		APIRequests:   int64(requests),
		APIErrors:     int64(errors),
		Reloads:       int64(ok + failed + skipped + stale),
		StaleReloads:  int64(stale),
		FailedReloads: int64(failed),
		CachedLeads:   int64(gaugeValue(m.cachedLeads)),
	}
	if requests > 0 {
		stats.ErrorRate = errors / requests
	}
	if hits+misses > 0 {
		stats.LookupHitRate = hits / (hits + misses)
	}
	return stats
}

// CRM API operation labels.
const (
	OpLogin            = "login"
	OpListLeads        = "list_leads"
	OpGetLead          = "get_lead"
	OpUpdateLeadStatus = "update_lead_status"
	OpDeleteLead       = "delete_lead"
)

var apiOperations = []string{OpLogin, OpListLeads, OpGetLead, OpUpdateLeadStatus, OpDeleteLead}

// counterValue extracts the current value from a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
