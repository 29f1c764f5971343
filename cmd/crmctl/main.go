package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/boddenberg/crm-leads-go/internal/config"
	"github.com/boddenberg/crm-leads-go/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Debug("configuration loaded",
		zap.String("api_url", cfg.APIURL),
		zap.String("log_level", cfg.LogLevel),
		zap.String("token_store", cfg.TokenStore),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("detail_cache_ttl", cfg.DetailCacheTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, observability.AppName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, logger, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if code != 0 {
		stop()
		shutdown(context.Background())
		logger.Sync()
		os.Exit(code)
	}
}

const usage = `usage: crmctl <command> [flags] [args]

commands:
  login -email E -password P   sign in and store the token
  logout                       forget the stored token
  whoami                       show the session
  leads [-status S]            list leads (new, success, failed)
  lead <id>                    show one lead
  brief <id>                   print the hand-off text for a lead
  set-status <id> <status>     change a lead's status
  delete [-yes] <id>           delete a lead
  tasks                        urgent and in-progress leads
  stats                        client counters
  serve                        run the local HTTP facade on LISTEN_ADDR
`
