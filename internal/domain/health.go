package domain

// ============================================================
// Facade responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status  string `json:"status"` // healthy, degraded
	Circuit string `json:"circuit"`
}

// SessionStatus is returned by GET /v1/session.
type SessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	Loading       bool       `json:"loading"`
	Token         *TokenInfo `json:"token,omitempty"`
}

// SyncStats is a snapshot of the client's sync counters.
type SyncStats struct {
	APIRequests   int64   `json:"apiRequests"`
	APIErrors     int64   `json:"apiErrors"`
	ErrorRate     float64 `json:"errorRate"`
	Reloads       int64   `json:"reloads"`
	StaleReloads  int64   `json:"staleReloads"`
	FailedReloads int64   `json:"failedReloads"`
	CachedLeads   int64   `json:"cachedLeads"`
	LookupHitRate float64 `json:"lookupHitRate"`
	CircuitState  string  `json:"circuitState,omitempty"`
}

// StatusUpdateRequest is the body for PATCH /v1/leads/{id}.
type StatusUpdateRequest struct {
	Status string `json:"status"`
}
