package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"stockseason/internal/config"
	apierrors "stockseason/internal/errors"
	"stockseason/internal/infrastructure"
	custommw "stockseason/internal/middleware"
	"stockseason/internal/reconcile"
	"stockseason/internal/services"
	"stockseason/internal/source"
	"stockseason/internal/stats"
	"stockseason/internal/store"
	handlers "stockseason/internal/transport/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Application is the composed service container.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	Store         *store.Store
	Adapter       source.Adapter
	Coordinator   *reconcile.Coordinator
	OTelProviders *infrastructure.OTelProviders

	updateService *services.UpdateService
	statsService  *services.StatsService
	healthService *services.HealthService
}

// NewApplication loads configuration and builds the full dependency
// graph. Nothing is listening yet; call Run or Start.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the container from an already-loaded
// configuration. Tests use this to inject temp paths.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", Version),
		slog.String("provider", cfg.Source.ActiveProvider),
		slog.Int("port", cfg.Server.Port))

	adapter, err := source.New(cfg.Source.ActiveProvider, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build source adapter: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize observability: %w", err)
	}

	metrics, err := infrastructure.NewReconcileMetrics(providers.Meter)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create reconcile metrics: %w", err)
	}

	coordinator := reconcile.NewCoordinator(adapter, st, cfg, metrics, logger)

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Store:         st,
		Adapter:       adapter,
		Coordinator:   coordinator,
		OTelProviders: providers,
	}

	app.updateService = services.NewUpdateService(coordinator, logger)
	app.statsService = services.NewStatsService(stats.NewEngine(st, logger), st, logger)
	app.healthService = services.NewHealthService(Version, st, app.updateService, logger)

	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID and RealIP stay outside the group so the websocket
	// route gets them without the response-wrapping middleware.
	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	// Websocket upgrade breaks through wrapped ResponseWriters, so the
	// stream route is registered before the full middleware group.
	r.Method(http.MethodGet, "/api/update/stream",
		handlers.NewStreamHandler(a.updateService, a.Logger, errorHandler))

	r.Group(func(r chi.Router) {
		if otelMW, err := custommw.NewOTelMiddleware(a.OTelProviders); err != nil {
			a.Logger.Error("otel middleware unavailable", slog.String("error", err.Error()))
		} else {
			r.Use(otelMW.Handler)
		}
		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.SecurityHeaders)
		r.Use(custommw.CORS(custommw.CORSConfig{AllowedOrigins: []string{"*"}}))
		r.Use(custommw.Compress(5))

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(custommw.NewRateLimiter(a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst, a.Logger).Handler)
			r.Use(custommw.Timeout(a.Config.Server.RequestTimeout, a.Logger))
			r.Use(apierrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)

			r.Mount("/health", handlers.NewHealthHandler(a.healthService, a.Logger).Routes())
			r.Mount("/update", handlers.NewUpdateHandler(a.updateService, a.Logger, errorHandler).Routes())
			r.Mount("/stats", handlers.NewStatsHandler(a.statsService, a.Logger, errorHandler).Routes())

			catalog := handlers.NewCatalogHandler(a.statsService, a.Logger, errorHandler)
			r.Mount("/stocks", catalog.Routes())
			r.Get("/providers", catalog.Providers)
		})

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)
	})

	// Prometheus scrape endpoint, outside the instrumented group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	// Bare liveness probe for load balancers that expect /healthz.
	r.Get("/healthz", handlers.NewHealthHandler(a.healthService, a.Logger).LivenessCheck)

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start begins serving. Server errors cancel the passed context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop drains the server and closes the store and telemetry providers.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if snap := a.Coordinator.Snapshot(); snap.IsRunning {
		a.Logger.InfoContext(ctx, "waiting for active reconciliation run",
			slog.String("run_id", snap.RunID))
		a.waitForCoordinator(shutdownCtx)
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "store close failed", slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

func (a *Application) waitForCoordinator(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.Coordinator.Snapshot().IsRunning {
				return
			}
		}
	}
}

// Run serves until an interrupt arrives, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
