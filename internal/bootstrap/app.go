// Package bootstrap assembles the reconciler's components from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/reconciler/internal"
	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/inventory"
	"github.com/dukerupert/reconciler/internal/ledger"
	"github.com/dukerupert/reconciler/internal/notify"
	"github.com/dukerupert/reconciler/internal/reconcile"
	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/dukerupert/reconciler/internal/service"
	"github.com/dukerupert/reconciler/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
)

// App holds the wired components shared by the server and the recovery job.
type App struct {
	Config      *internal.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Provider    *billing.StripeProvider
	Ledger      *ledger.Service
	Orders      domain.OrderService
	Router      *reconcile.Router
	Reprocessor *reconcile.Reprocessor
	Scheduler   *worker.Scheduler

	closers []func() error
}

// New connects to Postgres, applies migrations and wires every component.
// Redis and NATS are optional; without them the scan lock is process-local
// and notifications are dropped.
func New(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	if err := migrate(cfg.DatabaseUrl, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	app.Pool = pool
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       time.Duration(cfg.Stripe.TimeoutSeconds) * time.Second,
	}
	provider, err := billing.NewStripeProvider(stripeConfig, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	app.Provider = provider
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.NATSURL != "" {
		nats, err := notify.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		publisher = nats
		app.closers = append(app.closers, func() error { nats.Close(); return nil })
		logger.Info("Order notifications enabled")
	}

	var lock worker.Lock
	if cfg.RedisURL != "" {
		redisLock, closeRedis, err := worker.NewRedisLockFromURL(ctx, cfg.RedisURL, 0)
		if err != nil {
			app.Close()
			return nil, err
		}
		lock = redisLock
		app.closers = append(app.closers, closeRedis)
		logger.Info("Distributed recovery lock enabled")
	} else {
		logger.Warn("REDIS_URL not set, recovery scans are only serialized within this process")
	}

	store := repository.NewStore(pool)
	app.Ledger = ledger.NewService(store, logger)
	app.Orders = service.NewOrderService(store, inventory.NewManager(logger), publisher, logger)
	app.Router = reconcile.NewRouter(app.Ledger, app.Orders, provider, logger)
	app.Reprocessor = reconcile.NewReprocessor(app.Ledger, reconcile.NewResolver(provider), app.Router, logger)
	app.Scheduler = worker.NewScheduler(provider, app.Ledger, app.Router, app.Reprocessor, lock, worker.Config{
		Interval:        cfg.Recovery.Interval,
		Delay:           cfg.Recovery.Delay,
		BatchSize:       cfg.Recovery.BatchSize,
		RetryAfter:      cfg.Recovery.RetryAfter,
		MaxAttempts:     cfg.Recovery.MaxAttempts,
		ProcessingLease: cfg.Recovery.ProcessingLease,
	}, logger)

	if len(cfg.Admin.Tokens) == 0 {
		logger.Warn("ADMIN_API_TOKENS not set, every admin request will be rejected")
	}

	return app, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func migrate(databaseURL string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")
	return nil
}
