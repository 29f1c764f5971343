// Package service holds the client's stateful core: the auth Session and
// the LeadCache. Both are constructed once at startup and injected into the
// CLI and the local HTTP facade.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"
	"github.com/boddenberg/crm-leads-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var sessionTracer = otel.Tracer("service/session")

// AuthListener is called after every change of the authenticated flag.
type AuthListener func(ctx context.Context, authenticated bool)

// Session is the process-wide authentication state. The persisted token is
// the source of truth; authenticated is a projection of "token present"
// computed once by CheckAuth and afterwards changed only by Login/Logout.
type Session struct {
	api     port.AuthAPI
	tokens  port.TokenReader
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu            sync.RWMutex
	authenticated bool
	loading       bool
	listeners     []AuthListener
}

// NewSession creates a session in the loading state. Call CheckAuth once
// after wiring listeners.
func NewSession(api port.AuthAPI, tokens port.TokenReader, metrics *observability.Metrics, logger *zap.Logger) *Session {
	return &Session{
		api:     api,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		loading: true,
	}
}

// OnChange registers fn to run whenever the authenticated flag flips.
func (s *Session) OnChange(fn AuthListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// CheckAuth derives the authenticated flag from the token store. It never
// fails: an unreadable store counts as "no token".
func (s *Session) CheckAuth(ctx context.Context) {
	ctx, span := sessionTracer.Start(ctx, "Session.CheckAuth")
	defer span.End()

	_, ok := s.tokens.Get(ctx)
	span.SetAttributes(attribute.Bool("token.present", ok))

	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()

	s.logger.Debug("session: token check finished", zap.Bool("authenticated", ok))
	s.set(ctx, ok)
}

// Login authenticates against the CRM API. On failure the error is
// returned and the session is left as it was.
func (s *Session) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	ctx, span := sessionTracer.Start(ctx, "Session.Login")
	defer span.End()

	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("session: login failed", zap.String("username", email), zap.Error(err))
		return nil, err
	}

	s.set(ctx, true)
	return res, nil
}

// Logout forgets the token. The session becomes unauthenticated even when
// the delegate fails; that failure is still returned.
func (s *Session) Logout(ctx context.Context) error {
	ctx, span := sessionTracer.Start(ctx, "Session.Logout")
	defer span.End()

	err := s.api.Logout(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("session: logout delegate failed", zap.Error(err))
	}

	s.set(ctx, false)
	return err
}

// IsAuthenticated reports the cached authenticated flag.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// IsLoading reports whether the startup token check is still pending.
func (s *Session) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Status describes the session for display. Token details are included
// when the stored token is a readable JWT.
func (s *Session) Status(ctx context.Context) domain.SessionStatus {
	s.mu.RLock()
	st := domain.SessionStatus{Authenticated: s.authenticated, Loading: s.loading}
	s.mu.RUnlock()

	if !st.Authenticated {
		return st
	}
	if token, ok := s.tokens.Get(ctx); ok {
		if info, ok := domain.InspectToken(token, s.now()); ok {
			st.Token = &info
		}
	}
	return st
}

// set updates the flag and notifies listeners outside the lock when it
// actually changed.
func (s *Session) set(ctx context.Context, authenticated bool) {
	s.mu.Lock()
	if s.authenticated == authenticated {
		s.mu.Unlock()
		return
	}
	s.authenticated = authenticated
	listeners := append([]AuthListener(nil), s.listeners...)
	s.mu.Unlock()

	s.metrics.IncrAuthTransition(authenticated)
	s.logger.Info("session: authentication changed", zap.Bool("authenticated", authenticated))

	for _, fn := range listeners {
		fn(ctx, authenticated)
	}
}
