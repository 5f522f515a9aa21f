package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/litcal/internal/web/http"
	"github.com/aussiebroadwan/litcal/internal/web/metrics"
	"github.com/aussiebroadwan/litcal/internal/web/service"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/aussiebroadwan/litcal/internal/web/store/drivers/memory"
	"github.com/aussiebroadwan/litcal/internal/web/store/drivers/redis"
	"github.com/aussiebroadwan/litcal/internal/web/store/drivers/sqlite"
	"github.com/aussiebroadwan/litcal/pkg/gate"
	"github.com/aussiebroadwan/litcal/pkg/httpx"
	"github.com/aussiebroadwan/litcal/pkg/oidcx"
	"github.com/aussiebroadwan/litcal/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the web auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	metrics *metrics.Metrics
	engine  *oidcx.Engine
	policy  *gate.Policy

	// Services
	loginService        *service.LoginService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router

	// httpClient reaches the identity provider. Nil uses the engine default.
	httpClient *http.Client
}

// Option adjusts an Application before it is wired.
type Option func(*Application)

// WithHTTPClient sets the client used to reach the identity provider.
func WithHTTPClient(c *http.Client) Option {
	return func(app *Application) { app.httpClient = c }
}

// New creates a new Application instance with all dependencies initialized.
// Nothing contacts the identity provider until the first request.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "litcal-web",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initStore(context.Background()); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler is the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("web service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"issuer", app.cfg.Issuer,
		"store", app.cfg.StoreDriver,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down web service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close the pending-login store
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("web service stopped")
	return nil
}

// initStore opens the pending-login store and applies migrations
func (app *Application) initStore(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)

	switch app.cfg.StoreDriver {
	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err = sqlite.NewStore(dsn)
	case StoreRedis:
		db, err = redis.NewStore(ctx, redis.Config{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
	case StoreMemory:
		app.logger.Warn("memory store selected, pending logins are lost on restart and not shared between instances")
		db = memory.NewStore()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", app.cfg.StoreDriver, err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.logger.Info("pending-login store ready", "driver", app.cfg.StoreDriver)
	return nil
}

// initServices builds the flow engine and the services on top of it
func (app *Application) initServices() error {
	pending, err := service.NewPendingStore(app.db, []byte(app.cfg.TokenSecret), app.cfg.PendingTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize pending-login sealing: %w", err)
	}

	engine, err := oidcx.NewEngine(oidcx.Config{
		Issuer:             app.cfg.Issuer,
		ClientID:           app.cfg.ClientID,
		ClientSecret:       app.cfg.ClientSecret,
		RedirectURL:        app.cfg.RedirectURI,
		Scopes:             app.cfg.Scopes,
		RoleClaim:          app.cfg.RoleClaim,
		PendingTTL:         app.cfg.PendingTTL,
		KeyTTL:             app.cfg.KeyTTL,
		MinRefetchInterval: app.cfg.KeyMinRefetch,
		HTTPClient:         app.httpClient,
		Logger:             app.logger,
	}, pending)
	if err != nil {
		return fmt.Errorf("failed to initialize login flow: %w", err)
	}
	app.engine = engine

	app.policy = gate.NewPolicy(gate.Config{
		Secret:    []byte(app.cfg.TokenSecret),
		Algorithm: app.cfg.TokenAlgorithm,
		Issuer:    app.cfg.TokenIssuer,
		Audience:  app.cfg.TokenAudience,
		RoleClaim: app.cfg.TokenRoleClaim,
		Logger:    app.logger,
		Observe:   app.metrics.RecordGateRejection,
	})

	app.loginService = service.NewLoginService(app.engine, app.metrics, app.cfg.PostLogoutRedirect)
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.engine.Keys(),
		app.metrics,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.loginService,
		app.policy,
		httpx.CookiePolicy{Env: app.cfg.Env, Domain: app.cfg.CookieDomain},
		app.db,
		app.metrics,
		BuildVersion,
		app.logger,
	)
	router.MetricsHandler = app.metrics.Handler()
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
