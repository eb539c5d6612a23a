package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"obsidian/internal/auth"
	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/kv"
	"obsidian/internal/ledger"
	"obsidian/internal/lrm"
	"obsidian/internal/middleware"
	"obsidian/internal/notify"
	"obsidian/internal/ratelimit"
	"obsidian/internal/services"
	"obsidian/internal/storage"
	httphandlers "obsidian/internal/transport/http"
	ws "obsidian/internal/websocket"
)

// Build metadata, set with -ldflags at release time.
var (
	Version   = config.AppVersion
	BuildTime = "unknown"
)

const (
	telemetrySummaryTTL   = 30 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// Dependencies are the external systems the application talks to. DB and KV
// are required; the rest are optional and left nil when not configured.
type Dependencies struct {
	DB        *storage.DB
	KV        *kv.Client
	Licensing services.LicensingAPI
	Notifier  *notify.Notifier
	Ledger    *ledger.Ledger
}

// Services groups the business services behind the HTTP handlers
type Services struct {
	Keys       *services.KeyService
	Redemption *services.RedemptionService
	Accounts   *services.AccountService
	Telemetry  *services.TelemetryService
	Payments   *services.PaymentService
	Sync       *services.SyncService
	Overview   *services.OverviewService
	Changelog  *services.ChangelogService
	Sessions   *services.SessionService
	Health     *services.HealthService
}

// Application wires configuration, dependencies, services and the router
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	SystemMetrics *infrastructure.SystemMetrics
	Deps          Dependencies
	Services      *Services
	Limits        *ratelimit.Registry
	WebSocketHub  *ws.Hub
	ErrorHandler  *apierrors.ErrorHandler
	Router        *chi.Mux
	Server        *http.Server
}

// NewApplication loads configuration, connects to Postgres, Redis and the
// optional integrations, then builds the application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelCfg := infrastructure.NewOTelConfig(cfg.Observability)
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	deps, err := Connect(ctx, cfg, logger, metrics)
	if err != nil {
		providers.Shutdown(ctx)
		return nil, err
	}

	app, err := New(cfg, logger, providers, deps)
	if err != nil {
		deps.close(logger)
		providers.Shutdown(ctx)
		return nil, err
	}
	return app, nil
}

// Connect opens the external dependencies described by cfg. The database
// schema is migrated before returning.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) (Dependencies, error) {
	var deps Dependencies

	db, err := storage.NewConnection(ctx, cfg.Database)
	if err != nil {
		return deps, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return deps, fmt.Errorf("failed to migrate database: %w", err)
	}
	deps.DB = db

	store, err := kv.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		db.Close()
		return deps, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.KV = store

	deps.Licensing = lrm.NewClient(cfg.Licensing, logger, lrm.WithMetrics(metrics))

	notifier, err := notify.New(cfg.Notifications, logger, notify.WithMetrics(metrics))
	if err != nil {
		deps.close(logger)
		return Dependencies{}, fmt.Errorf("failed to create notifier: %w", err)
	}
	deps.Notifier = notifier

	if cfg.Ledger.Enabled() {
		l, err := ledger.New(ctx, cfg.Ledger, logger)
		if err != nil {
			// Keys are still issued without the spreadsheet copy.
			logger.WarnContext(ctx, "Key ledger unavailable", slog.String("error", err.Error()))
		} else {
			deps.Ledger = l
		}
	}

	return deps, nil
}

func (d Dependencies) close(logger *slog.Logger) {
	if d.Notifier != nil {
		d.Notifier.Wait()
	}
	if d.KV != nil {
		if err := d.KV.Close(); err != nil {
			logger.Error("Error closing redis", slog.String("error", err.Error()))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			logger.Error("Error closing database", slog.String("error", err.Error()))
		}
	}
}

// New builds the application from already connected dependencies.
// providers may be nil, in which case tracing and metrics export are off.
func New(cfg *config.Config, logger *slog.Logger, providers *infrastructure.OTelProviders, deps Dependencies) (*Application, error) {
	if deps.DB == nil || deps.KV == nil {
		return nil, errors.New("database and redis are required")
	}
	if deps.Licensing == nil {
		return nil, errors.New("licensing client is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Deps:          deps,
		Metrics:       infrastructure.NoopBusinessMetrics(),
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Level == "debug"),
		WebSocketHub:  ws.NewHub(logger),
	}

	if providers != nil && providers.Meter != nil {
		metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create business metrics: %w", err)
		}
		app.Metrics = metrics

		sys, err := infrastructure.NewSystemMetrics(providers.Meter, systemMetricsInterval, map[string]infrastructure.Gauge{
			"db_open_connections": func() int64 { return int64(deps.DB.Stats().OpenConnections) },
			"websocket_clients":   func() int64 { return int64(app.WebSocketHub.ClientCount()) },
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create system metrics: %w", err)
		}
		app.SystemMetrics = sys
	}

	limits, err := ratelimit.NewRegistry(deps.KV.Redis(), cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiters: %w", err)
	}
	app.Limits = limits

	if err := app.initializeServices(); err != nil {
		return nil, err
	}
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices creates the business services. Optional collaborators
// are only assigned when present so the services see a nil interface.
func (a *Application) initializeServices() error {
	cfg := a.Config
	deps := a.Deps

	var notifier services.Notifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	var keyLedger services.KeyLedger
	if deps.Ledger != nil {
		keyLedger = deps.Ledger
	}

	keyRepo := storage.NewKeyRepository(deps.DB)
	subRepo := storage.NewSubscriptionRepository(deps.DB)
	cronRepo := storage.NewCronStateRepository(deps.DB)

	sessions, err := auth.NewSessions(cfg.Security.SessionSecret, cfg.Security.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create session signer: %w", err)
	}

	s := &Services{}
	s.Keys = services.NewKeyService(keyRepo, keyLedger, a.WebSocketHub, a.Metrics, a.Logger)
	s.Redemption = services.NewRedemptionService(keyRepo, subRepo, deps.Licensing, notifier, services.RedemptionConfig{
		PromoTags:        cfg.Licensing.PromoTags,
		ResellerPrefixes: cfg.Notifications.ResellerPrefixes,
	}, a.Metrics, a.Logger)
	s.Accounts = services.NewAccountService(subRepo, deps.Licensing, a.Logger)
	s.Telemetry = services.NewTelemetryService(deps.KV, telemetrySummaryTTL, a.Metrics, a.Logger)
	s.Payments = services.NewPaymentService(s.Keys, notifier, cfg.Products, a.Logger)
	s.Sync = services.NewSyncService(deps.Licensing, subRepo, cronRepo, a.WebSocketHub, notifier, cfg.Sync, cfg.Licensing.PromoTags, a.Metrics, a.Logger)
	s.Overview = services.NewOverviewService(s.Keys, s.Telemetry, s.Sync, a.Logger)
	s.Changelog = services.NewChangelogService(notifier, a.Logger)
	s.Sessions = services.NewSessionService(sessions, cfg.Security.AdminPasswordHash, a.Logger)
	s.Health = services.NewHealthService(Version, BuildTime, map[string]services.HealthCheckFunc{
		"postgres": deps.DB.PingContext,
		"redis":    deps.KV.Ping,
	}, a.Logger)

	a.Services = s
	return nil
}

// setupRouter configures the HTTP router
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	eh := a.ErrorHandler

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.NotFound(eh.NotFound)
	r.MethodNotAllowed(eh.MethodNotAllowed)

	authn := middleware.NewAuthenticator(a.Services.Sessions, eh, a.Logger)

	// The dashboard socket skips the response-wrapping middleware
	wsHandler := httphandlers.NewWebSocketHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger)
	r.With(middleware.WebSocketTraceMiddleware(a.Logger), authn.RequireAdmin).Get(config.WebSocketEndpoint, wsHandler.Connect)

	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		if a.OTelProviders != nil && a.OTelProviders.Tracer != nil {
			r.Use(middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
		}
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(eh))
		r.Use(middleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(middleware.CORS(a.getCORSConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(a.Config.Security.RateLimit.RPS, a.Config.Security.RateLimit.Burst, a.Logger).Handler)
		}

		health := httphandlers.NewHealthHandler(a.Services.Health, a.Logger)
		r.Get(config.HealthEndpoint, health.HealthCheck)

		r.Route(config.APIBasePath, func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			a.setupAPIRoutes(r, authn, health)
		})
	})

	a.Router = r
}

// setupAPIRoutes mounts everything under /api. Sync runs are mounted
// outside the request timeout since they page through the whole user list.
func (a *Application) setupAPIRoutes(r chi.Router, authn *middleware.Authenticator, health *httphandlers.HealthHandler) {
	eh := a.ErrorHandler
	validator := middleware.NewValidator(a.Logger)
	windows := middleware.NewWindowLimits(eh, a.Metrics, a.Logger)
	timeout := middleware.Timeout(a.Config.Server.RequestTimeout, a.Logger)

	keys := httphandlers.NewKeysHandler(a.Services.Keys, a.Services.Redemption, validator, eh, a.Logger)
	accounts := httphandlers.NewAccountHandler(a.Services.Redemption, a.Services.Accounts, eh, a.Logger)
	telemetry := httphandlers.NewTelemetryHandler(a.Services.Telemetry, validator, eh, a.Logger)
	payments := httphandlers.NewPaymentHandler(a.Services.Payments, a.Config.Security.PaymentWebhookSecret, validator, eh, a.Logger)
	syncH := httphandlers.NewSyncHandler(a.Services.Sync, eh, a.Logger)
	admin := httphandlers.NewAdminHandler(a.Services.Sessions, a.Services.Overview, a.Services.Changelog, validator, eh, a.Logger)

	r.With(
		middleware.CronAuth(a.Config.Security.CronSecret, eh, a.Logger),
		windows.Limit(a.Limits.MustGet(ratelimit.Sync), middleware.Global),
	).Get("/cron/sync", syncH.Cron)

	r.Group(func(r chi.Router) {
		r.Use(timeout)

		r.Get("/health", health.HealthCheck)
		r.Get("/health/ready", health.ReadinessCheck)
		r.Get("/health/live", health.LivenessCheck)
		r.Get("/version", health.Version)

		r.With(middleware.ContentTypeValidator("application/json")).Post("/webhooks/payment", payments.Webhook)

		telemetryLimiter := a.Limits.MustGet(ratelimit.Telemetry)
		r.With(
			middleware.ContentTypeValidator("application/json"),
			windows.Limit(telemetryLimiter, middleware.ByIP),
			windows.Track(telemetryLimiter, middleware.Global),
		).Post("/telemetry", telemetry.Record)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireSession)

			r.With(windows.Limit(a.Limits.MustGet(ratelimit.Redeem), middleware.ByAccount)).Get("/redeem", accounts.Redeem)
			r.Get("/account/subscription", accounts.Subscription)
			r.With(windows.Limit(a.Limits.MustGet(ratelimit.HWIDReset), middleware.ByAccount)).Post("/account/hwid-reset", accounts.ResetHWID)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.With(timeout, middleware.ContentTypeValidator("application/json")).Post("/login", admin.Login)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireAdmin)
			r.Use(middleware.AuditLog(a.Logger))

			r.Post("/sync/run", syncH.Run)

			r.Group(func(r chi.Router) {
				r.Use(timeout)

				r.Mount("/keys", keys.Routes())
				r.Get("/subscriptions/{discordID}", accounts.SubscriptionByID)
				r.Post("/sessions", admin.UserSession)
				r.Post("/sync/batch", syncH.Batch)
				r.Get("/sync/state", syncH.State)
				r.Get("/telemetry/summary", telemetry.Summary)
				r.Get("/overview", admin.Overview)
				r.Post("/changelog", admin.Changelog)
			})
		})
	})
}

func (a *Application) getCORSConfig() middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			middleware.SignatureHeader,
		},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start runs the background loops and the HTTP server. A listen failure
// calls cancel so the caller can shut down.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	a.WebSocketHub.Start()
	if a.SystemMetrics != nil {
		a.SystemMetrics.Start(ctx)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", a.Server.Addr),
		slog.Bool("notifications", a.Deps.Notifier != nil),
		slog.Bool("ledger", a.Deps.Ledger != nil))
	return nil
}

// Stop drains the server, waits for pending webhooks and closes every
// dependency. The first error is returned after everything is closed.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("server shutdown error: %w", err)
	}

	a.WebSocketHub.Stop()
	if a.SystemMetrics != nil {
		a.SystemMetrics.Stop()
	}

	a.Deps.close(a.Logger)

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application stopped")
	if err := infrastructure.CloseLogFile(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
