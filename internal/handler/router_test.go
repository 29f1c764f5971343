package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/app"
	"github.com/boddenberg/crm-leads-go/internal/config"
	"github.com/boddenberg/crm-leads-go/internal/crmtest"
	"github.com/boddenberg/crm-leads-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Helpers ---

func newApp(t *testing.T, crm *crmtest.Server) *app.App {
	t.Helper()
	cfg := &config.Config{
		APIURL:         crm.URL,
		HTTPTimeout:    2 * time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxConcurrency: 4,
		DetailCacheTTL: time.Minute,
		UrgentAfter:    24 * time.Hour,
		TokenStore:     config.TokenStoreMemory,
		TokenOrigin:    t.Name(),
		CORSOrigins:    []string{"*"},
	}
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	a.Start(context.Background())
	return a
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/session/login", domain.LoginRequest{Email: crmtest.Email, Password: crmtest.Password})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

type leadList struct {
	Leads   []domain.Lead `json:"leads"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seeded() *crmtest.Server {
	crm := crmtest.NewServer()
	crm.SetLeads(
		map[string]any{"id": 1, "name": "A", "phone": "+1", "city": "X", "request": "desc", "status": "new", "created_at": "2020-01-01T00:00:00"},
		map[string]any{"id": "2", "name": "B", "phone": "+2", "city": "Y", "summary": "paint", "status": "success"},
	)
	return crm
}

// --- Operational ---

func TestHealthz(t *testing.T) {
	crm := crmtest.NewServer()
	defer crm.Close()
	router := newApp(t, crm).Router()

	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	health := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "closed", health.Circuit)
}

func TestReadyz(t *testing.T) {
	crm := crmtest.NewServer()
	defer crm.Close()
	router := newApp(t, crm).Router()

	rec := do(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	crm := crmtest.NewServer()
	defer crm.Close()
	router := newApp(t, crm).Router()

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crm_cached_leads")
}

// --- Session ---

func TestSession_LoginLogout(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()

	st := decode[domain.SessionStatus](t, do(t, router, http.MethodGet, "/v1/session", nil))
	assert.False(t, st.Authenticated)

	login(t, router)
	st = decode[domain.SessionStatus](t, do(t, router, http.MethodGet, "/v1/session", nil))
	assert.True(t, st.Authenticated)

	rec := do(t, router, http.MethodPost, "/v1/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/leads", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_LoginRejected(t *testing.T) {
	crm := crmtest.NewServer()
	defer crm.Close()
	router := newApp(t, crm).Router()

	rec := do(t, router, http.MethodPost, "/v1/session/login", domain.LoginRequest{Email: crmtest.Email, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Incorrect email or password")

	rec = do(t, router, http.MethodPost, "/v1/session/login", domain.LoginRequest{Email: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Leads ---

func TestLeads_ListAfterLogin(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	list := decode[leadList](t, do(t, router, http.MethodGet, "/v1/leads", nil))
	require.Len(t, list.Leads, 2)
	assert.Equal(t, "desc", list.Leads[0].Summary)
	assert.Equal(t, domain.LeadID("1"), list.Leads[0].ID)

	filtered := decode[leadList](t, do(t, router, http.MethodGet, "/v1/leads?status=success", nil))
	require.Len(t, filtered.Leads, 1)
	assert.Equal(t, "B", filtered.Leads[0].Name)

	rec := do(t, router, http.MethodGet, "/v1/leads?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeads_UpdateStatus(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	rec := do(t, router, http.MethodPatch, "/v1/leads/1", domain.StatusUpdateRequest{Status: "success"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusSuccess, decode[domain.Lead](t, rec).Status)

	status, _ := crm.Status("1")
	assert.Equal(t, "success", status)

	rec = do(t, router, http.MethodPatch, "/v1/leads/1", domain.StatusUpdateRequest{Status: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeads_UpdateStatusServerFailureKeepsLocalState(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	crm.FailNext("PATCH /api/leads/1", http.StatusInternalServerError, http.StatusInternalServerError)

	rec := do(t, router, http.MethodPatch, "/v1/leads/1", domain.StatusUpdateRequest{Status: "failed"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	lead := decode[domain.Lead](t, do(t, router, http.MethodGet, "/v1/leads/1", nil))
	assert.Equal(t, domain.StatusNew, lead.Status)
}

func TestLeads_Delete(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	rec := do(t, router, http.MethodDelete, "/v1/leads/2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, crm.Count())

	list := decode[leadList](t, do(t, router, http.MethodGet, "/v1/leads", nil))
	assert.Len(t, list.Leads, 1)

	rec = do(t, router, http.MethodDelete, "/v1/leads/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lead not found")
}

func TestLeads_LookupFallsBackToFetch(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	// Created on the server after the list was loaded.
	crm.SetLeads(
		map[string]any{"id": 1, "name": "A", "status": "new"},
		map[string]any{"id": 3, "name": "Late", "description": "roof", "status": "new"},
	)

	rec := do(t, router, http.MethodGet, "/v1/leads/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lead := decode[domain.Lead](t, rec)
	assert.Equal(t, "Late", lead.Name)
	assert.Equal(t, "roof", lead.Summary)

	rec = do(t, router, http.MethodGet, "/v1/leads/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeads_ReloadAndTasks(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	crm.ServeBareArray(true)
	rec := do(t, router, http.MethodPost, "/v1/leads/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[leadList](t, rec).Leads, 2)

	tasks := decode[domain.Tasks](t, do(t, router, http.MethodGet, "/v1/tasks", nil))
	require.Len(t, tasks.Urgent, 1)
	assert.Equal(t, domain.LeadID("1"), tasks.Urgent[0].ID)
	require.Len(t, tasks.InProgress, 1)
	assert.Equal(t, domain.LeadID("2"), tasks.InProgress[0].ID)
}

func TestLeads_ReloadFailureSurfaces(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	crm.FailNext("GET /api/leads", http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	rec := do(t, router, http.MethodPost, "/v1/leads/reload", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	list := decode[leadList](t, do(t, router, http.MethodGet, "/v1/leads", nil))
	assert.Empty(t, list.Leads)
	assert.Contains(t, list.Error, "injected failure 503")
}

func TestStats(t *testing.T) {
	crm := seeded()
	defer crm.Close()
	router := newApp(t, crm).Router()
	login(t, router)

	stats := decode[domain.SyncStats](t, do(t, router, http.MethodGet, "/v1/stats", nil))
	assert.EqualValues(t, 2, stats.APIRequests, "login + list")
	assert.EqualValues(t, 2, stats.CachedLeads)
	assert.Equal(t, "closed", stats.CircuitState)
}
