// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Create a JSON logger on top of log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", userID).Info("Permission updated")
//
// Request-scoped logging:
//
//	observability.FromContext(ctx).WithError(err).Error("Audit append failed")
//
// FromContext adds request_id and user_id from the context; the HTTP
// middleware in pkg/httputil stores the logger, with trace ids when the
// request is traced.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveResolution("document", "groups", time.Since(start))
//
// Every recording helper is safe on a nil *Metrics. MetricsHandler serves the
// registry and HTTPMetricsMiddleware labels requests by mux route template.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// The database is required for readiness; Redis only degrades it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers)
//
// RegisterDBPoolMetrics exports database pool statistics through the global
// meter provider.
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request context and logging middleware
package observability
