// Package worker runs the recovery scan: abandoned checkout sessions are
// routed as synthetic recovery events, stuck ledger entries are reaped and
// failed ones retried.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dukerupert/reconciler/internal/billing"
	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/dukerupert/reconciler/internal/ledger"
	"github.com/dukerupert/reconciler/internal/reconcile"
	"github.com/dukerupert/reconciler/internal/telemetry"
)

// Config holds scheduler configuration
type Config struct {
	// WorkerID identifies this scheduler instance in logs
	WorkerID string

	// Interval is how often to run a scan
	Interval time.Duration

	// Delay is the minimum age of an open session before it counts as abandoned
	Delay time.Duration

	// BatchSize bounds sessions and ledger entries handled per step
	BatchSize int

	// RetryAfter is how long a failed entry rests before it is retried
	RetryAfter time.Duration

	// MaxAttempts stops automatic retries of an entry
	MaxAttempts int

	// ProcessingLease is how long an entry may sit in processing
	ProcessingLease time.Duration
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Skipped   bool
	Sessions  int
	Recovered int
	Reaped    int
	Retried   int
	Failed    int
}

// Scheduler runs recovery scans
type Scheduler struct {
	config      Config
	provider    billing.Provider
	ledger      *ledger.Service
	router      *reconcile.Router
	reprocessor *reconcile.Reprocessor
	lock        Lock
	logger      *slog.Logger
	now         func() time.Time
}

// NewScheduler creates a recovery scheduler. A nil lock serializes scans
// within this process only.
func NewScheduler(
	provider billing.Provider,
	l *ledger.Service,
	router *reconcile.Router,
	reprocessor *reconcile.Reprocessor,
	lock Lock,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("recovery-%s", uuid.New().String()[:8])
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.Delay <= 0 {
		config.Delay = 60 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = 15 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.ProcessingLease <= 0 {
		config.ProcessingLease = 15 * time.Minute
	}
	if lock == nil {
		lock = &LocalLock{}
	}

	return &Scheduler{
		config:      config,
		provider:    provider,
		ledger:      l,
		router:      router,
		reprocessor: reprocessor,
		lock:        lock,
		logger:      logger.With("worker_id", config.WorkerID),
		now:         time.Now,
	}
}

// Start runs a scan immediately and then on every tick until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("recovery scheduler starting",
		"interval", s.config.Interval,
		"delay", s.config.Delay,
		"batch_size", s.config.BatchSize,
	)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery scan failed", "error", err)
	}
}

// Scan runs one recovery pass under the lock. Each item is transactional
// and idempotent, so cancellation between items leaves state consistent.
// Item errors are combined; the pass continues past them.
func (s *Scheduler) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.countScan("error")
		return result, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logger.Info("another recovery scan is running; skipping")
		s.countScan("skipped")
		result.Skipped = true
		return result, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Error("failed to release recovery lock", "error", relErr)
		}
	}()

	start := time.Now()
	now := s.now()

	err = multierr.Combine(
		s.recoverSessions(ctx, now, &result),
		s.reapStuck(ctx, now, &result),
		s.retryFailed(ctx, now, &result),
	)

	if telemetry.Business != nil {
		telemetry.Business.RecoveryDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.countScan("error")
	} else {
		s.countScan("ok")
	}

	s.logger.Info("recovery scan complete",
		"sessions", result.Sessions,
		"recovered", result.Recovered,
		"reaped", result.Reaped,
		"retried", result.Retried,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	return result, err
}

// recoverSessions routes each abandoned session as a synthetic recovery event.
func (s *Scheduler) recoverSessions(ctx context.Context, now time.Time, result *ScanResult) error {
	cutoff := now.Add(-s.config.Delay)
	sessions, err := s.provider.ListOpenCheckoutSessions(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list open checkout sessions: %w", err)
	}

	var errs error
	for _, session := range sessions {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if !session.Abandoned(cutoff) {
			continue
		}
		result.Sessions++

		err := s.router.Route(ctx, reconcile.RecoveryEvent(session.ID, now), domain.SourceRecovery)
		switch {
		case err == nil:
			result.Recovered++
			s.countSession("ok")
		case errors.Is(err, domain.ErrProcessingConflict):
			s.countSession("conflict")
		default:
			result.Failed++
			s.countSession("error")
			errs = multierr.Append(errs, fmt.Errorf("recover session %s: %w", session.ID, err))
		}
	}
	return errs
}

// reapStuck fails entries whose processing lease expired so they can be retried.
func (s *Scheduler) reapStuck(ctx context.Context, now time.Time, result *ScanResult) error {
	reaped, err := s.ledger.ReapStuck(ctx, now.Add(-s.config.ProcessingLease), s.config.BatchSize)
	result.Reaped += len(reaped)
	if telemetry.Business != nil && len(reaped) > 0 {
		telemetry.Business.RecoveryRetries.WithLabelValues("reaped").Add(float64(len(reaped)))
	}
	return err
}

// retryFailed replays retryable failed entries that have rested long enough.
// Entries failed as non-retryable, unsupported types among them, wait for an operator.
func (s *Scheduler) retryFailed(ctx context.Context, now time.Time, result *ScanResult) error {
	entries, err := s.ledger.ListRetryable(ctx, now.Add(-s.config.RetryAfter), s.config.MaxAttempts, s.config.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, entry := range entries {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}

		err := s.reprocessor.Replay(ctx, entry, domain.SourceRecovery)
		switch {
		case err == nil:
			result.Retried++
			s.countRetry("ok")
		case errors.Is(err, domain.ErrProcessingConflict):
		default:
			result.Failed++
			s.countRetry("error")
			errs = multierr.Append(errs, fmt.Errorf("retry event %s: %w", entry.EventID, err))
		}
	}
	return errs
}

func (s *Scheduler) countScan(result string) {
	if telemetry.Business != nil {
		telemetry.Business.RecoveryScans.WithLabelValues(result).Inc()
	}
}

func (s *Scheduler) countSession(result string) {
	if telemetry.Business != nil {
		telemetry.Business.RecoverySessions.WithLabelValues(result).Inc()
	}
}

func (s *Scheduler) countRetry(result string) {
	if telemetry.Business != nil {
		telemetry.Business.RecoveryRetries.WithLabelValues(result).Inc()
	}
}
