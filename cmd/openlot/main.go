// Command openlot runs the marketplace API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/openlot/openlot/pkg/admin"
	"github.com/openlot/openlot/pkg/audit"
	"github.com/openlot/openlot/pkg/config"
	"github.com/openlot/openlot/pkg/credit"
	"github.com/openlot/openlot/pkg/database"
	"github.com/openlot/openlot/pkg/identity"
	"github.com/openlot/openlot/pkg/listings"
	"github.com/openlot/openlot/pkg/middleware"
	"github.com/openlot/openlot/pkg/observability"
	syncsvc "github.com/openlot/openlot/pkg/sync"
	"github.com/openlot/openlot/pkg/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "openlot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting openlot API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if tp != nil {
			observability.ShutdownTracing(context.Background(), tp, logger)
		}
	}()

	metrics := observability.NewMetrics(nil)

	// Database
	cm, err := database.NewConnectionManager(database.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: database.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer cm.Close()
	db := cm.Primary()

	for _, migrate := range []func(context.Context, *sql.DB) error{
		users.Migrate, syncsvc.Migrate, audit.Migrate, listings.Migrate, credit.Migrate,
	} {
		if err := migrate(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// Redis is optional; without it caching and rate limiting are off
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, continuing without it")
		}
		defer redisClient.Close()
	}

	// Identity provider
	provider := identity.NewClient(identity.ClientConfig{
		BaseURL:        cfg.Identity.BaseURL,
		APIKey:         cfg.Identity.APIKey,
		RequestTimeout: cfg.Identity.RequestTimeout,
		ClientID:       cfg.Identity.ClientID,
		ClientSecret:   cfg.Identity.ClientSecret,
		TokenURL:       cfg.Identity.TokenURL,
	}, logger, metrics)

	verifier, err := identity.NewSessionVerifier(ctx, cfg.Identity.IssuerURL, cfg.Identity.Audience)
	if err != nil {
		return fmt.Errorf("failed to initialize session verifier: %w", err)
	}

	// Stores and services
	userStore := users.NewStore(db)
	outbox := syncsvc.NewOutbox(db)
	syncService := syncsvc.NewService(userStore, provider, outbox,
		cfg.Sync.ProfileCacheSize, cfg.Sync.ProfileCacheTTL, logger, metrics)

	reconciler := syncsvc.NewReconciler(syncService, cfg.Sync.ReconcileSchedule,
		cfg.Sync.OutboxBatchSize, logger)
	if err := reconciler.Start(); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	defer reconciler.Stop()

	auditStore := audit.NewStore(db)

	listingStore := listings.NewStore(db)
	var listingStorage listings.Storage = listingStore
	if redisClient != nil {
		listingStorage = listings.NewCachedStore(listingStore, redisClient, metrics)
	}

	var media listings.Uploader
	if cfg.Media.S3Bucket != "" {
		mediaStore, err := listings.NewMediaStore(ctx, cfg.Media)
		if err != nil {
			return fmt.Errorf("failed to initialize media storage: %w", err)
		}
		media = mediaStore
	}

	creditStore := credit.NewStore(db)

	// Router
	auth := middleware.NewAuthenticator(verifier, syncService, "/login", logger)

	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(metrics.Middleware)
	r.Use(auth.LoadUser)
	if redisClient != nil {
		r.Use(middleware.NewRateLimit(redisClient, logger).Handler)
	}

	api := r.PathPrefix("/api").Subrouter()
	listings.NewHandlers(listingStorage, media, logger).
		RegisterRoutes(api.PathPrefix("/listings").Subrouter())
	credit.NewHandlers(creditStore, listingStorage, logger, metrics).
		RegisterRoutes(api.PathPrefix("/credit").Subrouter())

	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.Use(auth.RequireAdmin)
	admin.NewHandlers(syncService, userStore, auditStore, logger).
		RegisterRoutes(adminRouter)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, "openlot-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
