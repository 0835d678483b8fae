package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"keymint/internal/config"
	"keymint/internal/infrastructure"
	customMiddleware "keymint/internal/middleware"
	"keymint/internal/notify"
	"keymint/internal/services"
	"keymint/internal/store"
	handlers "keymint/internal/transport/http"
	"keymint/internal/webhook"
)

// VERSION is the server version reported by the health endpoint.
const VERSION = "1.2.0"

// Application is the dependency container for the license server.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Store          store.Store
	LicenseService services.LicenseService
	HealthService  *services.HealthService
	Dispatcher     notify.Dispatcher
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Metrics        *infrastructure.RequestMetrics
}

// NewApplication builds the application from environment configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig builds the application from an explicit
// configuration, which tests use to avoid touching the environment.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", VERSION),
		slog.Int("port", cfg.Server.Port))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(VERSION), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewRequestMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create request metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) initializeServices() error {
	st, err := store.NewSQLiteStore(a.Config.Store.Path, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open license store: %w", err)
	}
	a.Store = st

	a.LicenseService = services.NewLicenseService(st, a.Logger,
		services.LicensePolicy{
			DeviceLimit:    a.Config.License.DeviceLimit,
			ValidityPeriod: a.Config.License.ValidityPeriod,
			DefaultProduct: a.Config.License.DefaultProduct,
		},
		services.WithMetrics(a.Metrics),
		services.WithStoreTimeout(a.Config.Store.RequestTimeout),
	)

	a.HealthService = services.NewHealthService(VERSION, st, a.Logger)

	if a.Config.Email.SendGridAPIKey != "" {
		a.Dispatcher = notify.NewSendGridDispatcher(
			a.Config.Email.SendGridAPIKey,
			a.Config.Email.FromAddress,
			a.Config.Email.Subject,
			a.Config.Email.SupportAddress,
			a.Logger,
		)
	} else {
		a.Logger.Warn("no SendGrid API key configured, license emails will be logged only")
		a.Dispatcher = notify.NewLogDispatcher(a.Logger)
	}

	return nil
}

// setupRouter configures the HTTP router. Middleware order is
// RequestID, RealIP, logger, recoverer, then the policy layers.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.Metrics(a.Metrics))

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
		}))
	}

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))

		licenseHandler := handlers.NewLicenseHandler(a.LicenseService, a.Logger)
		r.Post("/validate", licenseHandler.Validate)
		r.Post("/activate", licenseHandler.Activate)
		r.Post("/deactivate", licenseHandler.Deactivate)

		webhookHandler := handlers.NewWebhookHandler(
			webhook.NewHMACVerifier(a.Config.Webhook.Secret),
			a.LicenseService,
			a.Dispatcher,
			a.Logger,
			handlers.WithSignatureHeader(a.Config.Webhook.SignatureHeader),
		)
		r.Mount("/webhook", webhookHandler.Routes())

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Mount("/healthz", healthHandler.Routes())
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.ListenAddr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start begins serving. It returns immediately; server errors cancel
// the passed context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "server listening",
		slog.String("addr", a.Server.Addr),
		slog.String("store_path", a.Config.Store.Path))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop gracefully shuts the server down and releases resources.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing license store", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("error closing log file: %w", err)
	}

	a.Logger.Info("shutdown complete")
	return nil
}

// Run serves until the process receives SIGINT or SIGTERM.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.Info("received signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
