// Command recovery runs a single recovery scan and exits. It is meant for
// cron-style schedulers when the server's in-process scheduler is disabled.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/reconciler/internal"
	"github.com/dukerupert/reconciler/internal/bootstrap"
	"github.com/dukerupert/reconciler/internal/telemetry"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

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

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Scheduler.Scan(ctx)
	logger.Info("recovery scan finished",
		"skipped", result.Skipped,
		"sessions", result.Sessions,
		"recovered", result.Recovered,
		"reaped", result.Reaped,
		"retried", result.Retried,
		"failed", result.Failed,
	)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
