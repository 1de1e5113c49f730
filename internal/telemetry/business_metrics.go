package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the reconciliation pipeline.
type BusinessMetrics struct {
	// Webhooks and routing
	WebhookReceived *prometheus.CounterVec
	WebhookRejected *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	EventsDuplicate *prometheus.CounterVec
	EventLatency    *prometheus.HistogramVec

	// Orders
	OrdersCreated *prometheus.CounterVec
	OrderValue    *prometheus.HistogramVec
	PaymentFailed *prometheus.CounterVec

	// Inventory
	UnitsReleased *prometheus.CounterVec
	UnitsDeducted prometheus.Counter

	// Refunds
	RefundsRecorded *prometheus.CounterVec
	RefundAmount    prometheus.Counter

	// Recovery
	RecoveryScans    *prometheus.CounterVec
	RecoverySessions *prometheus.CounterVec
	RecoveryRetries  *prometheus.CounterVec
	RecoveryDuration prometheus.Histogram

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	return newBusinessMetrics(promauto.With(prometheus.DefaultRegisterer), namespace)
}

func newBusinessMetrics(factory promauto.Factory, namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "reconciler"
	}

	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Webhooks and routing
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total verified webhook deliveries",
			},
			[]string{"event_type"},
		),
		WebhookRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_rejected_total",
				Help:      "Webhook deliveries rejected before reaching the ledger",
			},
			[]string{"reason"}, // reason: signature, payload, read
		),
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_processed_total",
				Help:      "Events that reached the processed state",
			},
			[]string{"event_type", "source"},
		),
		EventsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_failed_total",
				Help:      "Events that ended in the failed state",
			},
			[]string{"event_type", "source", "retryable"},
		),
		EventsDuplicate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_duplicate_total",
				Help:      "Events skipped because they were processed or in flight",
			},
			[]string{"event_type", "reason"}, // reason: processed, conflict
		),
		EventLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "event_duration_seconds",
				Help:      "Time from routing start to ledger completion",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Orders
		// =======================================================================
		OrdersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Orders materialized from checkout sessions",
			},
			[]string{"payment_method"},
		),
		OrderValue: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_cents",
				Help:      "Order total in minor currency units",
				Buckets:   []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000},
			},
			[]string{"currency"},
		),
		PaymentFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Checkout payments reported as failed",
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Inventory
		// =======================================================================
		UnitsReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inventory_units_released_total",
				Help:      "Reserved units returned to available stock",
			},
			[]string{"reason"}, // reason: failed, expired
		),
		UnitsDeducted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inventory_units_deducted_total",
				Help:      "Units removed from stock after confirmed payment",
			},
		),

		// =======================================================================
		// Refunds
		// =======================================================================
		RefundsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_recorded_total",
				Help:      "Refund events applied to orders",
			},
			[]string{"status"}, // status: refunded, partially_refunded
		),
		RefundAmount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_amount_cents_total",
				Help:      "Newly refunded minor currency units",
			},
		),

		// =======================================================================
		// Recovery
		// =======================================================================
		RecoveryScans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recovery_scans_total",
				Help:      "Recovery scans by result",
			},
			[]string{"result"}, // result: ok, error, skipped
		),
		RecoverySessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recovery_sessions_total",
				Help:      "Abandoned checkout sessions routed by the recovery scan",
			},
			[]string{"result"}, // result: ok, conflict, error
		),
		RecoveryRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recovery_retries_total",
				Help:      "Failed ledger entries retried automatically",
			},
			[]string{"result"}, // result: ok, error, reaped
		),
		RecoveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recovery_scan_duration_seconds",
				Help:      "Duration of a recovery scan",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120},
			},
		),

		StripeAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration (helps differentiate app slowness from Stripe issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: retrieve_event, retrieve_session, list_sessions, expire_session, create_refund
		),
	}
}

// Global instance for easy access from handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
