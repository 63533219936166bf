// Package main is the entry point for the postforge-api server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jmylchreest/postforge-api/internal/auth"
	"github.com/jmylchreest/postforge-api/internal/config"
	"github.com/jmylchreest/postforge-api/internal/database"
	"github.com/jmylchreest/postforge-api/internal/http/handlers"
	"github.com/jmylchreest/postforge-api/internal/http/mw"
	"github.com/jmylchreest/postforge-api/internal/http/routes"
	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/metrics"
	"github.com/jmylchreest/postforge-api/internal/repository"
	"github.com/jmylchreest/postforge-api/internal/service"
	"github.com/jmylchreest/postforge-api/internal/tracing"
	"github.com/jmylchreest/postforge-api/internal/version"
	"github.com/jmylchreest/postforge-api/internal/worker"
)

const (
	defaultRequestTimeout = 30 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	logger.Info("starting "+version.ServiceName, version.Get().LogAttrs()...)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    version.ServiceName,
		ServiceVersion: version.Get().Short(),
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if schemaVersion, err := database.GetLatestSchemaVersion(db); err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion)
	}

	repos := repository.NewRepositories(db)

	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer func() { _ = services.Close() }()

	// Background dispatch of due scheduled items
	dispatchWorker := worker.New(repos.ScheduledItem, services.Dispatch, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		Lease:        cfg.ItemLease(),
	}, logger)
	dispatchWorker.Start(ctx)

	go services.Cleanup.RunScheduled(ctx, service.CleanupOptions{
		StaleReservationAge: cfg.StaleReservationAge,
		MediaRetention:      cfg.MediaRetention,
	}, cfg.CleanupInterval)
	logger.Info("cleanup service started",
		"interval", cfg.CleanupInterval.String(),
		"stale_reservation_age", cfg.StaleReservationAge.String(),
		"media_retention", cfg.MediaRetention.String(),
	)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mw.Observe(logger))
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default: defaultRequestTimeout,
		// Generation waits on the provider; leave headroom to settle the ledger.
		Extended:         cfg.GenerationTimeout + 10*time.Second,
		ExtendedPrefixes: []string{"/api/v1/generate"},
	}))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "X-API-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB)
	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(mw.RateLimitByIP(300))
	router.Use(middleware.Throttle(100))
	router.Use(mw.OptionalAuth(verifier))
	router.Use(mw.RateLimitByPrincipal(mw.DefaultRateLimitConfig()))

	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{Verifier: verifier}))

	routes.Register(api, &routes.Handlers{
		HealthCheck: handlers.HealthCheck,
		Livez:       handlers.Livez,
		Readyz:      handlers.NewReadyzHandler(db).Readyz,
		Generation:  handlers.NewGenerationHandler(services.Generation, logger),
		Providers:   handlers.NewProvidersHandler(services.LLM),
		Schedule:    handlers.NewScheduleHandler(services.Schedule, logger),
		Accounts:    handlers.NewAccountsHandler(services.Accounts, logger),
		Usage:       handlers.NewUsageHandler(services.Usage, logger),
	})

	// Raw endpoints outside huma
	router.Handle("/metrics", metrics.Handler())
	if cfg.StripeWebhookSecret != "" {
		stripeWebhook := handlers.NewStripeWebhookHandler(cfg.StripeWebhookSecret, cfg.Quota, services.Ledger, logger)
		router.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
		logger.Info("stripe webhook endpoint enabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		// Let in-flight dispatches finish; anything left is reclaimed after its lease.
		graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.WorkerShutdownGracePeriod)
		defer graceCancel()
		if err := dispatchWorker.Stop(graceCtx); err != nil {
			logger.Warn("worker did not stop cleanly", "error", err)
		}
		cancel()

		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	// Wait for the shutdown goroutine to finish draining.
	<-ctx.Done()
	logger.Info("server stopped")
}
