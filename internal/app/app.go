package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"greenmarket/internal/apperr"
	"greenmarket/internal/auth"
	"greenmarket/internal/backup"
	"greenmarket/internal/config"
	"greenmarket/internal/credential"
	"greenmarket/internal/db"
	"greenmarket/internal/events"
	"greenmarket/internal/health"
	"greenmarket/internal/httputil"
	"greenmarket/internal/ledger"
	"greenmarket/internal/market"
	"greenmarket/internal/metrics"
	"greenmarket/internal/middleware"
	"greenmarket/internal/points"
	"greenmarket/internal/session"
	"greenmarket/internal/storage"
	"greenmarket/internal/storage/document"
	"greenmarket/internal/storage/memory"
	"greenmarket/internal/storage/relational"
	"greenmarket/internal/student"
	"greenmarket/internal/telemetry"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
)

type App struct {
	config    *config.Config
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	store     storage.Storage
	sessions  *session.Manager
	bus       *events.Bus
}

// New wires every component from cfg. On error, whatever was already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	logger.Info("initializing application", "env", cfg.Env, "storage", cfg.Storage.Driver)

	app := &App{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, ServiceName, Version, cfg.Env, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	m := app.telemetry.Metrics

	app.store, err = openStorage(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	app.sessions = session.NewManager(openSessionStore(cfg), cfg.Session.TTL)

	app.bus, err = events.New(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	validate, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}
	verifier := credential.NewVerifier(cfg.Auth.BcryptCost, cfg.Auth.LegacyPlaintext)
	accumulator := points.NewAccumulator()

	if err := seed(ctx, app.store, verifier, cfg, logger); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	locale := cfg.Locale
	guard := middleware.NewAuthenticator(app.sessions, cfg.Session.Header, logger, locale)

	var loginRate func(http.Handler) http.Handler
	if cfg.Auth.LoginRatePerMinute > 0 {
		loginRate = middleware.RateLimit(cfg.Auth.LoginRatePerMinute, logger, locale)
	}
	reseed := func(ctx context.Context, tx storage.Tx) error {
		return seed(ctx, tx, verifier, cfg, logger)
	}

	studentService := student.NewService(app.store, verifier, accumulator, app.bus, m, logger)
	authService := auth.NewService(app.store, studentService, verifier, app.sessions, m, logger)
	ledgerService := ledger.NewService(app.store, accumulator, app.bus, m, logger)
	marketService := market.NewService(app.store, app.bus, logger)
	backupService := backup.NewService(app.store, app.sessions, reseed, app.bus, logger)

	studentHandler := student.NewHandler(studentService, validate, logger, locale)
	authHandler := auth.NewHandler(authService, validate, guard, loginRate, logger, locale)
	ledgerHandler := ledger.NewHandler(ledgerService, validate, logger, locale)
	marketHandler := market.NewHandler(marketService, validate, logger, locale)
	backupHandler := backup.NewHandler(backupService, logger, locale)
	healthHandler := health.NewHandler(map[string]health.Pinger{
		"storage":  app.store,
		"sessions": app.sessions,
	}, m, logger)

	r := app.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins, cfg.Session.Header))

	// Health endpoints (no auth required)
	healthHandler.RegisterRoutes(r)
	if app.telemetry.Handler != nil {
		r.Handle("/metrics", app.telemetry.Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(guard.Authenticate)

		authHandler.RegisterRoutes(r)
		marketHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(guard.RequireStudent)
			studentHandler.RegisterStudentRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.RequireAdmin)
			studentHandler.RegisterAdminRoutes(r)
			ledgerHandler.RegisterRoutes(r)
			marketHandler.RegisterAdminRoutes(r)
			backupHandler.RegisterRoutes(r)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			httputil.RespondWithAppError(w, r, logger, locale, apperr.New(apperr.KindNotFound, apperr.CodeRouteNotFound))
		})
	})

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("application initialized successfully")
	return app, nil
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil

	case config.DriverPostgres, config.DriverSQLite:
		var (
			bdb *bun.DB
			err error
		)
		if cfg.Storage.Driver == config.DriverPostgres {
			bdb, err = db.NewPostgres(cfg.Database)
		} else {
			bdb, err = db.NewSQLite(cfg.SQLite.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Storage.Driver, err)
		}
		if err := relational.Migrate(ctx, bdb); err != nil {
			bdb.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		if err := m.Database.RegisterDB(bdb.DB, otel.Meter(ServiceName)); err != nil {
			logger.Warn("failed to register database pool metrics", "error", err)
		}
		return relational.New(bdb, m), nil

	case config.DriverBadger:
		store, err := document.Open(cfg.Badger, logger, m)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func openSessionStore(cfg *config.Config) session.Store {
	if cfg.Session.Store == "redis" {
		return session.NewRedisStore(cfg.Redis)
	}
	return session.NewMemoryStore()
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

func (a *App) Run() error {
	a.logger.Info("server starting",
		"port", a.config.Server.Port,
		"version", Version,
		"commit", GitCommit,
		"built", BuildTime,
	)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every backend.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")

	return errors.Join(a.server.Shutdown(ctx), a.close(ctx))
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, telemetry.Shutdown(ctx, a.telemetry.MeterProvider, a.logger))
	}
	return errors.Join(errs...)
}
