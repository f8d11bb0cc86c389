package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig holds configuration for Sentry error tracking.
type SentryConfig struct {
	// DSN is the Sentry Data Source Name (required if Enabled is true)
	DSN string

	// Enabled controls whether Sentry is active
	Enabled bool

	// Environment identifies the deployment environment (dev, staging, prod)
	Environment string

	// Release is the application version identifier
	Release string

	// SampleRate controls the percentage of errors to capture (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64

	// Debug enables Sentry SDK debug logging
	Debug bool
}

// SentryClient wraps Sentry functionality with enable/disable support.
type SentryClient struct {
	enabled bool
}

var sentryInstance *SentryClient

// InitSentry initializes the Sentry client. Returns a cleanup function
// that should be called on shutdown.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	sentryInstance = &SentryClient{enabled: cfg.Enabled}

	if !cfg.Enabled {
		logger.Info("Sentry disabled (SENTRY_ENABLED=false or DSN not configured)")
		return func() {}, nil
	}

	if cfg.DSN == "" {
		logger.Warn("Sentry DSN not configured, disabling error tracking")
		sentryInstance.enabled = false
		return func() {}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  sampleRate,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	logger.Info("Sentry initialized",
		"environment", cfg.Environment,
		"release", cfg.Release,
		"sample_rate", sampleRate,
	)

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// IsEnabled returns whether Sentry is currently enabled.
func IsEnabled() bool {
	return sentryInstance != nil && sentryInstance.enabled
}

// CaptureError captures an error with optional extra context.
// Safe to call even when Sentry is disabled.
func CaptureError(err error, extras map[string]any) {
	if !IsEnabled() || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}

// CaptureTaskError captures an error from queue task processing with the
// event and cart it concerned.
func CaptureTaskError(err error, task, eventSlug, cartID string) {
	if !IsEnabled() || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("task", task)
		scope.SetTag("event_slug", eventSlug)
		scope.SetExtra("cart_id", cartID)
		sentry.CaptureException(err)
	})
}

// AddBreadcrumb adds a breadcrumb for debugging.
func AddBreadcrumb(category, message string, data map[string]any) {
	if !IsEnabled() {
		return
	}

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	})
}

// RecoverWithSentry recovers from panics, reports them, and re-panics.
// Use: defer telemetry.RecoverWithSentry()
func RecoverWithSentry() {
	if r := recover(); r != nil {
		if IsEnabled() {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
		}
		panic(r)
	}
}
