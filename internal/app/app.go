// Package app wires the client together: token store, CRM API client,
// session and lead cache. The CLI and the local facade both start here.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/crm-leads-go/internal/config"
	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/handler"
	"github.com/boddenberg/crm-leads-go/internal/infra/cache"
	"github.com/boddenberg/crm-leads-go/internal/infra/client"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"
	"github.com/boddenberg/crm-leads-go/internal/infra/resilience"
	"github.com/boddenberg/crm-leads-go/internal/infra/tokenstore"
	"github.com/boddenberg/crm-leads-go/internal/port"
	"github.com/boddenberg/crm-leads-go/internal/service"

	"go.uber.org/zap"
)

// App holds the process-wide components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tokens  port.TokenStore
	Client  *client.CRMClient
	Session *service.Session
	Leads   *service.LeadCache

	detail *cache.InMemory[domain.LeadID, domain.Lead]
}

// New builds the components from cfg. The session is still loading; call
// Start to run the startup token check.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	tokens, err := newTokenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("crm-api", client.IsBreakerSuccess)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	crm := client.NewCRMClient(httpClient, cfg.APIURL, tokens, cb, resilienceCfg, metrics, logger)

	detail := cache.New[domain.LeadID, domain.Lead](cfg.DetailCacheTTL)
	leads := service.NewLeadCache(crm, tokens, detail, cfg.UrgentAfter, metrics, logger)
	session := service.NewSession(crm, tokens, metrics, logger)
	session.OnChange(leads.HandleAuthChange)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Tokens:  tokens,
		Client:  crm,
		Session: session,
		Leads:   leads,
		detail:  detail,
	}, nil
}

// Start runs the startup token check, which reloads the lead cache when a
// token is present.
func (a *App) Start(ctx context.Context) {
	a.Session.CheckAuth(ctx)
}

// Router returns the local HTTP facade.
func (a *App) Router() http.Handler {
	return handler.NewRouter(a.Session, a.Leads, a.Client, a.Metrics, a.Config.CORSOrigins, a.Logger)
}

// Close releases background resources.
func (a *App) Close() {
	a.detail.Close()
}

func newTokenStore(cfg *config.Config, logger *zap.Logger) (port.TokenStore, error) {
	switch cfg.TokenStore {
	case config.TokenStoreFile, "":
		return tokenstore.NewFileStore(cfg.TokenDir, logger), nil
	case config.TokenStoreMemory:
		return tokenstore.NewMemoryStore(cfg.TokenOrigin), nil
	default:
		return nil, &domain.ErrValidation{
			Field:   "TOKEN_STORE",
			Message: fmt.Sprintf("unknown token store %q (want %s or %s)", cfg.TokenStore, config.TokenStoreFile, config.TokenStoreMemory),
		}
	}
}
