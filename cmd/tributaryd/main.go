// tributaryd is the tributary pipeline server.
// It serves the REST API, schedules recurring pipeline runs, and streams
// per-pipeline run logs over SSE.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/tributary-data/tributary/internal/adapter"
	"github.com/tributary-data/tributary/internal/api"
	"github.com/tributary-data/tributary/internal/config"
	"github.com/tributary-data/tributary/internal/ingest"
	"github.com/tributary-data/tributary/internal/leader"
	"github.com/tributary-data/tributary/internal/logbus"
	"github.com/tributary-data/tributary/internal/postgres"
	"github.com/tributary-data/tributary/internal/scheduler"
	"github.com/tributary-data/tributary/internal/service"
	"github.com/tributary-data/tributary/internal/storage"
	"github.com/tributary-data/tributary/internal/store"
)

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /tributaryd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Log bus must exist before the logger: run logs reach SSE subscribers
	// through a slog handler that publishes tagged records to the bus.
	bus := logbus.New(cfg.LogQueueSize)
	logger := slog.New(logbus.NewHandler(api.NewContextHandler(baseHandler(cfg)), bus))
	slog.SetDefault(logger)

	var (
		pipelines store.PipelineStore
		results   store.ResultStore
		pool      *pgxpool.Pool
		dbHealth  api.HealthChecker
		s3Health  api.HealthChecker
	)

	ctx := context.Background()

	switch cfg.StoreType {
	case config.StorePostgres:
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		pipelines = postgres.NewPipelineStore(pool)
		results = postgres.NewResultStore(pool)
		dbHealth = api.HealthCheckFunc(pool.Ping)
		slog.Info("postgres stores initialized")
	default:
		pipelines = store.NewMemoryPipelineStore()
		results = store.NewMemoryResultStore()
		slog.Warn("using in-memory stores, pipelines do not survive restarts")
	}

	// S3 takes over result storage when configured. Pipeline documents
	// stay in the primary store either way.
	if cfg.S3Endpoint != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			slog.Error("failed to connect to S3", "error", err)
			os.Exit(1)
		}
		results = s3Store
		s3Health = api.HealthCheckFunc(s3Store.Check)
		slog.Info("s3 result storage initialized", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	}

	var crawler adapter.Crawler
	if cfg.CrawlerURL != "" {
		crawler = adapter.NewHTTPCrawler(cfg.CrawlerURL)
		slog.Info("crawler initialized", "url", cfg.CrawlerURL)
	} else {
		slog.Warn("CRAWLER_URL not set, scrape sources will fail")
	}

	ingestor := ingest.New(ingest.Defaults{
		APITimeout:         cfg.DefaultAPITimeout,
		ScraperPrompt:      cfg.ScraperPrompt,
		ScraperLLMProvider: cfg.ScraperLLMProvider,
		ScraperCacheMode:   cfg.ScraperCacheMode,
	}, crawler)

	svc := service.New(pipelines, results, ingestor)
	sched := scheduler.New(pipelines, cfg.SchedulerCheckInterval, cfg.MisfireGrace(), cfg.SchedulerMaxConcurrentRuns)
	sched.SetRunner(svc)
	svc.SetScheduler(sched)

	// With Postgres, replicas share one pipeline table, so only the
	// advisory-lock holder runs the scheduler. Without it each instance
	// owns its own in-memory state and schedules directly.
	var stopScheduler func()
	if pool != nil {
		tryLock := func(ctx context.Context) (bool, error) {
			var acquired bool
			err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.LockID).Scan(&acquired)
			return acquired, err
		}
		elector := leader.New(tryLock, leader.RetryInterval, func(ctx context.Context) func() {
			sched.Start(ctx)
			return sched.Stop
		})
		elector.Start(ctx)
		stopScheduler = elector.Stop
		slog.Info("leader election started")
	} else {
		sched.Start(ctx)
		stopScheduler = sched.Stop
	}

	router := api.NewRouter(&api.Server{
		Service:     svc,
		Bus:         bus,
		CORSOrigins: cfg.CORSOrigins,
		DBHealth:    dbHealth,
		S3Health:    s3Health,
	})

	// WriteTimeout stays 0: SSE streams outlive any fixed deadline, the
	// handler enforces MaxSSEDuration itself.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting tributaryd", "addr", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: drain HTTP connections, then stop the scheduler
	// (waits for in-flight runs), then close the log bus and the pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	stopScheduler()
	slog.Info("scheduler stopped")

	bus.Close()
	if pool != nil {
		pool.Close()
		slog.Info("database pool closed")
	}

	slog.Info("tributaryd shutdown complete")
}

func baseHandler(cfg *config.Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}
