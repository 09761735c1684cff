// Package app wires the user-service runtime: config, logging, storage
// backends, the session service, the ops HTTP surface and the cleanup janitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/plap9/saas/cmd/identity"
	"github.com/plap9/saas/cmd/internal/auth/session"
	"github.com/plap9/saas/cmd/security/password"
)

// backend bundles the stores of one persistence mode and owns their lifecycle.
type backend struct {
	tokens  session.Store
	users   identity.Store
	auditor session.Auditor
	ready   readinessProbe
	close   func()
}

// App is the user-service runtime.
type App struct {
	cfg Config
	log Logger

	be       backend
	registry *prometheus.Registry
	sessions *session.Service
	janitor  *Janitor
}

// New constructs a fully wired App. The caller must Close it unless Run is used.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	verifier := identity.NewVerifier(be.users, pwCfg, identity.WithVerifierLogger(log))
	svc, err := session.NewService(sessCfg, session.Deps{
		Store:       be.tokens,
		Tokens:      hasher,
		Users:       be.users,
		Credentials: verifier,
		Passwords:   pwCfg,
	},
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(registry)),
		session.WithAuditor(be.auditor),
	)
	if err != nil {
		be.close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		be:       be,
		registry: registry,
		sessions: svc,
	}

	if cfg.CleanupSchedule != "" {
		j, err := NewJanitor(cfg.CleanupSchedule, svc, log, sessCfg.CleanupTimeout)
		if err != nil {
			be.close()
			return nil, err
		}
		a.janitor = j
	}

	log.Info("app.ready",
		"store", string(cfg.Store),
		"token_format", string(sessCfg.TokenFormat),
		"token_hmac", hasher.HMACEnabled(),
		"cleanup_schedule", cfg.CleanupSchedule,
	)
	return a, nil
}

// Sessions exposes the wired session service.
func (a *App) Sessions() *session.Service { return a.sessions }

// Handler returns the ops HTTP surface wrapped in request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.be.ready, a.registry)
	return WithRequestLogging(mux, a.log)
}

// Run starts the ops HTTP server and the janitor, and blocks until context
// cancellation or a fatal server error. Resources are released on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	if a.janitor != nil {
		a.janitor.Start()
	}
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", string(a.cfg.Store))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if a.janitor != nil {
		a.janitor.Stop(shutdownCtx)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the storage backend. It is safe to call more than once.
func (a *App) Close() {
	if a.be.close != nil {
		a.be.close()
		a.be.close = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newBackend opens the stores selected by cfg.Store.
func newBackend(ctx context.Context, cfg Config, log Logger) (backend, error) {
	switch cfg.Store {
	case StorePostgres:
		return newPostgresBackend(ctx, cfg, log)
	case StoreGorm:
		return newGormBackend(ctx, cfg, log)
	case StoreMemory, "":
		log.Info("db.disabled.inmemory_store")
		return backend{
			tokens:  session.NewMemoryStore(),
			users:   identity.NewMemoryStore(),
			auditor: session.NopAuditor{},
			close:   func() {},
		}, nil
	default:
		return backend{}, fmt.Errorf("%w: unknown store %q", ErrConfig, cfg.Store)
	}
}

func newPostgresBackend(ctx context.Context, cfg Config, log Logger) (backend, error) {
	if cfg.AutoMigrate {
		if err := Migrate(ctx, cfg.DatabaseURL, log); err != nil {
			return backend{}, err
		}
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backend{}, err
	}

	tokens, err := session.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return backend{}, err
	}
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return backend{}, err
	}
	auditor, err := session.NewPostgresAuditor(pool, "")
	if err != nil {
		pool.Close()
		return backend{}, err
	}

	log.Info("db.enabled.postgres_store")
	return backend{
		tokens:  tokens,
		users:   users,
		auditor: auditor,
		ready:   func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) },
		close:   pool.Close,
	}, nil
}

func newGormBackend(ctx context.Context, cfg Config, log Logger) (backend, error) {
	db, err := OpenGorm(cfg)
	if err != nil {
		return backend{}, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	users := identity.NewGormStore(db)
	tokens := session.NewGormStore(db)
	if cfg.AutoMigrate {
		if err := migrateGorm(ctx, users, tokens); err != nil {
			closeDB()
			return backend{}, err
		}
	}

	log.Info("db.enabled.gorm_store", "dialect", cfg.GormDialect)
	return backend{
		tokens:  tokens,
		users:   users,
		auditor: session.NopAuditor{},
		ready:   func(ctx context.Context) error { return pingGorm(ctx, db, 2*time.Second) },
		close:   closeDB,
	}, nil
}

type autoMigrator interface {
	AutoMigrate(ctx context.Context) error
}

// migrateGorm creates users before refresh_tokens.
func migrateGorm(ctx context.Context, stores ...autoMigrator) error {
	for _, st := range stores {
		if err := st.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("gorm automigrate: %w", err)
		}
	}
	return nil
}
