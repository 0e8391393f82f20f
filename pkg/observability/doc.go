// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing.
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("listing_id", id).Info("listing published")
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.RoleSyncsTotal.WithLabelValues("synced").Inc()
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/healthz", checker.Liveness)
//	mux.HandleFunc("/readyz", checker.Readiness)
package observability
