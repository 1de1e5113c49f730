package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/reconciler/internal"
	"github.com/dukerupert/reconciler/internal/bootstrap"
	"github.com/dukerupert/reconciler/internal/handler"
	"github.com/dukerupert/reconciler/internal/handler/admin"
	"github.com/dukerupert/reconciler/internal/handler/webhook"
	"github.com/dukerupert/reconciler/internal/middleware"
	"github.com/dukerupert/reconciler/internal/router"
	"github.com/dukerupert/reconciler/internal/routes"
	"github.com/dukerupert/reconciler/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Prometheus metrics
	metrics := middleware.NewMetrics("reconciler")
	telemetry.InitBusinessMetrics("reconciler")

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close connections", "error", err)
		}
	}()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		telemetry.SentryMiddleware(),
		metrics.Middleware,
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		router.Logger(logger),
	)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Health: func(w http.ResponseWriter, req *http.Request) {
			if err := app.Pool.Ping(req.Context()); err != nil {
				handler.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
			handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		},
		Metrics: metrics.Handler(),
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(app.Provider, app.Router).HandleWebhook,
	})
	routes.RegisterAdminRoutes(r, routes.AdminDeps{
		Tokens:       cfg.Admin.Tokens,
		EventHandler: admin.NewEventHandler(app.Reprocessor, app.Ledger),
		OrderHandler: admin.NewOrderHandler(app.Orders, app.Provider),
	})

	logger.Debug("Routes registered", "routes", r.Routes())

	// ==========================================================================
	// Start recovery scheduler and server
	// ==========================================================================

	if cfg.Recovery.Enabled {
		go func() {
			if err := app.Scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("recovery scheduler stopped", "error", err)
			}
		}()
	} else {
		logger.Info("Recovery scheduler disabled (RECOVERY_ENABLED=false)")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
