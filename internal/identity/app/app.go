// Package app wires configuration, storage, cache and services into a
// runnable HTTP application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxgate/tenancy/internal/identity/api"
	"github.com/fluxgate/tenancy/internal/identity/cache"
	"github.com/fluxgate/tenancy/internal/identity/metrics"
	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/internal/identity/store/drivers/sqlite"
	"github.com/fluxgate/tenancy/pkg/jwtx"
	"github.com/fluxgate/tenancy/pkg/slogx"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Application owns every long-lived component and their shutdown order.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store        store.Store
	redisClient  *redis.Client
	audit        *service.AuditDispatcher
	housekeeping *service.HousekeepingService
	server       *http.Server
}

// New builds the full dependency graph. Nothing is serving yet; call Run.
func New(cfg Config) (*Application, error) {
	logger := slogx.New(slogx.Config{
		Service: "identity",
		Version: Version,
		Level:   cfg.LogLevel,
	})

	metrics.Init()

	st, err := sqlite.NewStore(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	var (
		redisClient  *redis.Client
		sessionCache cache.Sessions
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sessionCache = cache.NewRedis(redisClient)
		logger.Info("session cache enabled", "addr", cfg.RedisAddr)
	}

	keypair, err := jwtx.NewEdDSAKeypair(cfg.Issuer)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	audit := service.NewAuditDispatcher(st, logger, cfg.AuditBufferSize)

	sessions := &service.SessionService{
		Store:      st,
		Cache:      sessionCache,
		Signer:     keypair,
		Audit:      audit,
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}

	handlers := &api.Handlers{
		Auth: &service.AuthService{
			Store:             st,
			Audit:             audit,
			MaxFailedAttempts: cfg.MaxFailedAttempts,
		},
		MFA: &service.MFAService{
			Store:        st,
			Notifier:     service.LogNotifier{},
			Audit:        audit,
			ChallengeTTL: cfg.ChallengeTTL,
		},
		Sessions: sessions,
		Licenses: &service.LicenseService{Store: st, Audit: audit},
		Store:    st,
		Verifier: keypair,
		Logger:   logger,
	}

	return &Application{
		cfg:    cfg,
		logger: logger,

		store:       st,
		redisClient: redisClient,
		audit:       audit,
		housekeeping: service.NewHousekeepingService(
			st, logger, cfg.HousekeepingInterval, cfg.SessionRetention,
		),
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handlers.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the background workers and serves HTTP until the listener
// closes.
func (a *Application) Run() error {
	a.housekeeping.Start()

	a.logger.Info("http server listening", "addr", a.cfg.Addr)
	if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully, then the workers, then releases
// storage.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	a.housekeeping.Stop()
	a.audit.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
