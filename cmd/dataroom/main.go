package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/dataroom/pkg/api"
	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/config"
	"github.com/platinummonkey/dataroom/pkg/database"
	"github.com/platinummonkey/dataroom/pkg/httputil"
	"github.com/platinummonkey/dataroom/pkg/monitoring"
	"github.com/platinummonkey/dataroom/pkg/observability"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Data room service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"port":    cfg.Server.Port,
	}).Info("Starting data room service")

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	poolMetrics, err := observability.RegisterDBPoolMetrics(db)
	if err != nil {
		return err
	}

	if err := permissions.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("permission migrations failed: %w", err)
	}
	if err := audit.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("audit migrations failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = database.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		logger.Info("Connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "dataroom"),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Permission resolution
	permStore := permissions.NewStore(db)
	resolverOpts := []permissions.ResolverOption{
		permissions.WithMetrics(metrics),
		permissions.WithLogger(logger),
	}
	if cfg.Cache.Enabled {
		cache := permissions.NewCache(redisClient, cfg.Cache.CacheConfig, metrics, logger)
		resolverOpts = append(resolverOpts, permissions.WithCache(cache))
	}
	resolver := permissions.NewResolver(permStore, resolverOpts...)

	// Audit trail and monitoring
	auditStore := audit.NewDBStore(db)

	monitor, err := newMonitor(ctx, cfg.Monitoring, auditStore, metrics, logger)
	if err != nil {
		return err
	}

	writer := audit.NewWriter(auditStore,
		audit.WithObserver(monitor),
		audit.WithMetrics(metrics),
		audit.WithLogger(logger),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithAppendTimeout(cfg.Audit.AppendTimeout),
	)
	verifier := audit.NewVerifier(auditStore, metrics, logger)

	scheduler, err := newScheduler(ctx, cfg.Audit, auditStore, writer, verifier, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	// HTTP API
	router := mux.NewRouter()
	// Route templates are only known inside the router
	router.Use(
		observability.HTTPMetricsMiddleware(metrics),
		httputil.RequireUser,
	)

	api.NewHandlers(resolver, permStore, writer).RegisterRoutes(router)
	audit.NewHandlers(auditStore, writer, verifier, api.NewAuditAuthorizer(resolver),
		audit.WithVerifyInterval(cfg.Audit.VerifyInterval),
	).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestContextMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(handler, "dataroom"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg.Server, db, redisClient, registry, writer)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("audit writer", writer.Close)
	shutdown.Register("monitor", func(ctx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			monitor.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("pool metrics", func(context.Context) error { return poolMetrics.Unregister() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders)
	})

	serverErrors := make(chan error, 2)
	go serve(server, "API", logger, serverErrors)
	go serve(healthServer, "health", logger, serverErrors)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForShutdown() }()

	select {
	case err := <-shutdownDone:
		return err
	case err := <-serverErrors:
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stop()
		return errors.Join(err, shutdown.Shutdown(shutdownCtx))
	}
}

func serve(server *http.Server, name string, logger *observability.Logger, errs chan<- error) {
	logger.WithField("addr", server.Addr).Infof("Starting %s server", name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("%s server: %w", name, err)
	}
}

// newMonitor builds the suspicious activity monitor, loading the rules file
// when one is configured and watching it for changes
func newMonitor(ctx context.Context, cfg config.MonitoringConfig, counter monitoring.Counter, metrics *observability.Metrics, logger *observability.Logger) (*monitoring.Monitor, error) {
	rules := monitoring.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := monitoring.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	monitor := monitoring.New(counter, monitoring.NewLogSink(logger),
		monitoring.WithRules(rules),
		monitoring.WithMetrics(metrics),
		monitoring.WithLogger(logger),
		monitoring.WithCheckTimeout(cfg.CheckTimeout),
	)

	if cfg.RulesFile != "" && cfg.WatchRules {
		go func() {
			defer observability.RecoverPanic(logger, "rules watcher")
			if err := monitoring.WatchRules(ctx, cfg.RulesFile, logger, monitor.SetRules); err != nil {
				logger.WithError(err).Error("Monitoring rules watcher stopped")
			}
		}()
	}

	return monitor, nil
}

// newScheduler registers the periodic chain verification and archival jobs
func newScheduler(ctx context.Context, cfg config.AuditConfig, store audit.Store, writer *audit.Writer, verifier *audit.Verifier, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if cfg.VerifySchedule != "" {
		_, err := c.AddFunc(cfg.VerifySchedule, func() {
			defer observability.RecoverPanic(logger, "chain verification")
			runVerification(ctx, writer, verifier, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule chain verification: %w", err)
		}
		logger.WithField("schedule", cfg.VerifySchedule).Info("Scheduled audit chain verification")
	}

	if cfg.ArchiveEnabled {
		archiver, err := audit.NewS3Archiver(ctx, store, cfg.Archive, logger)
		if err != nil {
			return nil, err
		}
		_, err = c.AddFunc(cfg.ArchiveSchedule, func() {
			defer observability.RecoverPanic(logger, "audit archival")
			runArchive(ctx, archiver, cfg.ArchiveWindow, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule audit archival: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"schedule": cfg.ArchiveSchedule,
			"bucket":   cfg.Archive.Bucket,
		}).Info("Scheduled audit archival")
	}

	return c, nil
}

func runVerification(ctx context.Context, writer *audit.Writer, verifier *audit.Verifier, logger *observability.Logger) {
	result, err := verifier.Verify(ctx)
	if err != nil {
		logger.WithError(err).Error("Scheduled audit chain verification failed")
		return
	}

	writer.Log(ctx, audit.Event{
		Action:       audit.ActionChainVerified,
		ResourceType: audit.ResourceAuditLog,
		Metadata: audit.Object(map[string]audit.Value{
			"valid":     audit.Bool(result.Valid),
			"checked":   audit.Number(float64(result.Checked)),
			"scheduled": audit.Bool(true),
		}),
	})
}

// runArchive copies the last complete window, aligned to the window size so
// repeated runs produce the same object key
func runArchive(ctx context.Context, archiver *audit.S3Archiver, window time.Duration, logger *observability.Logger) {
	until := time.Now().UTC().Truncate(window)
	since := until.Add(-window)

	result, err := archiver.Archive(ctx, since, until.Add(-time.Millisecond))
	if err != nil {
		logger.WithError(err).Error("Scheduled audit archival failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"key":     result.Key,
		"entries": result.Entries,
	}).Info("Audit window archived")
}

// newHealthServer serves probes and metrics on the separate health port
func newHealthServer(cfg config.ServerConfig, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry, writer *audit.Writer) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient, version)
	checker.AddCheck("audit_writer", func(context.Context) observability.DependencyStatus {
		queued, capacity := writer.Backlog()
		status := observability.DependencyStatus{Status: observability.StatusHealthy}
		if capacity > 0 && queued >= capacity {
			status.Status = observability.StatusDegraded
			status.Message = fmt.Sprintf("audit queue full (%d events)", queued)
		}
		return status
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
	mux.Handle("/metrics", observability.MetricsHandler(registry))

	return &http.Server{
		Addr:              cfg.Host + ":" + cfg.HealthPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
