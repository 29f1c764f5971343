package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Leads
// ============================================================

// LeadID is the canonical string form of a lead identifier.
// The server sends ids either as numbers or strings; both are folded
// into this type once, at the normalization boundary (see CanonicalID).
type LeadID string

func (id LeadID) String() string {
	return string(id)
}

// Status is the lifecycle state of a lead.
type Status string

const (
	StatusNew     Status = "new"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusNew, StatusSuccess, StatusFailed}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// ParseStatus validates a user-supplied status string.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("must be one of new, success, failed (got %q)", v)}
	}
	return s, nil
}

// Lead is one customer inquiry in its normalized client shape.
type Lead struct {
	ID        LeadID `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"createdAt"` // ISO-8601, as sent by the server
	Status    Status `json:"status"`
}

// Created parses CreatedAt. Timestamps without a zone are read as UTC.
func (l Lead) Created() (time.Time, bool) {
	t, err := ParseTimestamp(l.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Brief renders the hand-off text sent to the foreman for a lead.
func (l Lead) Brief() string {
	task := l.Summary
	if task == "" {
		task = "not specified"
	}
	var b strings.Builder
	b.WriteString("New job!\n")
	fmt.Fprintf(&b, "Name: %s\n", l.Name)
	fmt.Fprintf(&b, "Phone: %s\n", l.Phone)
	fmt.Fprintf(&b, "City: %s\n", l.City)
	fmt.Fprintf(&b, "Task: %s", task)
	return b.String()
}

// zonelessLayout matches server timestamps such as "2024-01-29T14:30:00".
const zonelessLayout = "2006-01-02T15:04:05.999999999"

// ParseTimestamp parses an ISO-8601 timestamp. A missing zone means UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(zonelessLayout, s, time.UTC)
}
