package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpapi "github.com/latchwork/latch/internal/auth/http"
	"github.com/latchwork/latch/internal/auth/service"
	"github.com/latchwork/latch/internal/auth/session"
	"github.com/latchwork/latch/internal/auth/store"
	"github.com/latchwork/latch/internal/auth/store/drivers/sqlite"
	"github.com/latchwork/latch/pkg/cryptox"
	"github.com/latchwork/latch/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the stores, services and HTTP server together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	sessions session.Store

	loginService    *service.LoginService
	settingsService *service.SettingsService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "latch",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initStores(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

func (app *Application) initStores() error {
	db, err := sqlite.NewStore(app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	app.db = db

	if empty, err := db.Users().IsEmpty(context.Background()); err == nil && empty {
		app.logger.Info("no users registered yet; POST /v1/register creates the first account")
	}

	sessions, err := session.NewRedisStore(
		context.Background(),
		app.cfg.RedisAddr,
		app.cfg.RedisPassword,
		app.cfg.RedisDB,
	)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	app.sessions = sessions

	return nil
}

func (app *Application) initServices() error {
	verifiers, err := service.NewVerifiers(app.db, app.sessions, service.VerifierConfig{
		TOTPIssuer:    app.cfg.TOTPIssuer,
		RPID:          app.cfg.RPID,
		RPDisplayName: app.cfg.RPDisplayName,
		RPOrigins:     app.cfg.RPOrigins,
	})
	if err != nil {
		return fmt.Errorf("building verifiers: %w", err)
	}

	app.loginService = &service.LoginService{
		Store:      app.db,
		Sessions:   app.sessions,
		Verifiers:  verifiers,
		SessionTTL: app.cfg.SessionTTL,
	}
	app.settingsService = &service.SettingsService{
		Store:     app.db,
		Verifiers: verifiers,
	}
	return nil
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(
		BuildVersion,
		app.db,
		app.sessions,
		app.cfg.SecureCookies,
		app.logger,
	)
	app.router.LoginService = app.loginService
	app.router.SettingsService = app.settingsService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("latch starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests and closes both stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down latch...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.sessions.Close(); err != nil {
		app.logger.Error("error closing session store", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
	}

	app.logger.Info("shutdown complete")
	return nil
}
