package handler

import (
	"net/http"

	"github.com/boddenberg/crm-leads-go/internal/service"
	"go.uber.org/zap"
)

// RequireSession rejects requests while the session is unauthenticated.
// While the startup token check is pending the request gets 503.
func RequireSession(session *service.Session, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session.IsLoading() {
				writeError(w, http.StatusServiceUnavailable, "session is starting")
				return
			}
			if !session.IsAuthenticated() {
				logger.Warn("session: request while signed out",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "not signed in")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
