// Package port defines the interfaces (ports) between the sync layer and
// its collaborators. Services depend on these, never on concrete adapters.
package port

import (
	"context"
	"encoding/json"

	"github.com/boddenberg/crm-leads-go/internal/domain"
)

// TokenReader reads the persisted bearer token.
// Absence and backing-store failures both report ok == false.
type TokenReader interface {
	Get(ctx context.Context) (token string, ok bool)
}

// TokenStore persists a single bearer token across restarts.
type TokenStore interface {
	TokenReader

	// Save stores the token. Failures are returned so a login is never
	// reported as successful without a persisted credential.
	Save(ctx context.Context, token string) error

	// Delete forgets the token. Deleting an absent token is not an error.
	Delete(ctx context.Context) error
}

// AuthAPI is the login/logout half of the CRM API client.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)
	Logout(ctx context.Context) error
}

// LeadsAPI is the lead half of the CRM API client.
type LeadsAPI interface {
	ListLeads(ctx context.Context) ([]domain.Lead, error)
	GetLead(ctx context.Context, id domain.LeadID) (domain.Lead, error)
	UpdateLeadStatus(ctx context.Context, id domain.LeadID, status domain.Status) (json.RawMessage, error)
	DeleteLead(ctx context.Context, id domain.LeadID) error
}

// Cache provides generic caching with TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Update(key K, fn func(V) V) bool
	Delete(key K)
	Purge()
}
