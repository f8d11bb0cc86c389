package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/sigyn/internal"
	"github.com/dukerupert/sigyn/internal/locking"
	"github.com/dukerupert/sigyn/internal/postgres"
	"github.com/dukerupert/sigyn/internal/telemetry"
	"github.com/dukerupert/sigyn/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
		Debug:       cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for the application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize store and per-event lock
	store := postgres.NewCartStore(pool)
	locker := locking.NewAdvisoryLocker(pool, cfg.Lock.Timeout)

	// Connect to NATS
	logger.Info("Connecting to NATS...", "url", cfg.NatsUrl)
	nc, err := nats.Connect(cfg.NatsUrl,
		nats.Name("sigyn-cart-worker"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("NATS connection failed: %w", err)
	}
	defer nc.Drain()
	logger.Info("NATS connection established")

	// Initialize Prometheus metrics
	metrics := telemetry.NewCartMetrics(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)

	// Serve metrics and health endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		logger.Info("Starting metrics server", "address", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// Start the cart task worker; blocks until shutdown
	w := worker.New(nc, store, store, locker, logger, metrics, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		RetryDelay:  cfg.Worker.RetryDelay,
		TaskTimeout: cfg.Worker.TaskTimeout,
	})
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
