// Package crmtest provides an in-memory fake of the CRM REST API for tests.
package crmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Default credentials accepted by the fake.
const (
	Email    = "owner@example.com"
	Password = "secret"
	Token    = "test-token"
)

// Server is a fake CRM API. Leads are kept as raw records so tests can
// exercise every wire shape the client accepts.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	leads    []map[string]any
	bare     bool
	calls    map[string]int
	failures map[string][]int
}

// NewServer starts a fake CRM API. Close it when done.
func NewServer() *Server {
	s := &Server{
		calls:    map[string]int{},
		failures: map[string][]int{},
	}

	r := chi.NewRouter()
	r.Use(s.count, s.injectFailures)
	r.Post("/api/auth/login", s.login)
	r.Group(func(r chi.Router) {
		r.Use(requireBearer)
		r.Get("/api/leads", s.listLeads)
		r.Get("/api/leads/{id}", s.getLead)
		r.Patch("/api/leads/{id}", s.updateLead)
		r.Delete("/api/leads/{id}", s.deleteLead)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// SetLeads replaces the stored records.
func (s *Server) SetLeads(records ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = make([]map[string]any, 0, len(records))
	for _, rec := range records {
		cp := make(map[string]any, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		s.leads = append(s.leads, cp)
	}
}

// ServeBareArray makes GET /api/leads answer with a bare array instead of
// the {"leads": [...]} envelope.
func (s *Server) ServeBareArray(bare bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bare = bare
}

// FailNext makes the next len(statuses) requests to "METHOD /path" answer
// with the given statuses, in order.
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// Calls reports how many requests reached "METHOD /path".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Count reports the number of stored records.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

// Status returns the stored status of a record.
func (s *Server) Status(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		v, _ := s.leads[i]["status"].(string)
		return v, true
	}
	return "", false
}

// ============================================================
// Middleware
// ============================================================

func routeKey(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[routeKey(r)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r)
		s.mu.Lock()
		pending := s.failures[key]
		var status int
		if len(pending) > 0 {
			status = pending[0]
			s.failures[key] = pending[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{"detail": fmt.Sprintf("injected failure %d", status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Routes
// ============================================================

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid form"})
		return
	}
	if r.PostForm.Get("username") != Email || r.PostForm.Get("password") != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Incorrect email or password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": Token,
		"token_type":   "bearer",
		"user":         map[string]any{"email": Email},
	})
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	records := append([]map[string]any{}, s.leads...)
	bare := s.bare
	s.mu.Unlock()

	if bare {
		writeJSON(w, http.StatusOK, records)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": records})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Lead not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.leads[i])
}

func (s *Server) updateLead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "status is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Lead not found"})
		return
	}
	s.leads[i]["status"] = body.Status
	writeJSON(w, http.StatusOK, s.leads[i])
}

func (s *Server) deleteLead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Lead not found"})
		return
	}
	s.leads = append(s.leads[:i], s.leads[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// indexOf matches ids by their string form, so 42 and "42" are equal.
func (s *Server) indexOf(id string) int {
	for i, l := range s.leads {
		if fmt.Sprint(l["id"]) == id {
			return i
		}
	}
	return -1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
