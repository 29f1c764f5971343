package tokenstore

import (
	"context"
	"sync"

	"github.com/boddenberg/crm-leads-go/internal/domain"
)

// MemoryStore keeps tokens in process memory, one slot per origin.
// Stores obtained through ForOrigin share the same backing map but never
// see each other's token.
type MemoryStore struct {
	origin  string
	backing *memoryBacking
}

type memoryBacking struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryStore creates an empty in-memory store scoped to origin.
func NewMemoryStore(origin string) *MemoryStore {
	return &MemoryStore{
		origin:  origin,
		backing: &memoryBacking{tokens: make(map[string]string)},
	}
}

// ForOrigin returns a store over the same backing map, scoped to origin.
func (s *MemoryStore) ForOrigin(origin string) *MemoryStore {
	return &MemoryStore{origin: origin, backing: s.backing}
}

func (s *MemoryStore) key() string {
	return s.origin + "/" + TokenKey
}

// Save stores the token for this origin.
func (s *MemoryStore) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return &domain.ErrTokenStore{Op: "save", Err: err}
	}

	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()
	s.backing.tokens[s.key()] = token
	return nil
}

// Get returns this origin's token.
func (s *MemoryStore) Get(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}

	s.backing.mu.RLock()
	defer s.backing.mu.RUnlock()
	token, ok := s.backing.tokens[s.key()]
	return token, ok && token != ""
}

// Delete forgets this origin's token.
func (s *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &domain.ErrTokenStore{Op: "delete", Err: err}
	}

	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()
	delete(s.backing.tokens, s.key())
	return nil
}
