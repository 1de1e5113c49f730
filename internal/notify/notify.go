// Package notify publishes domain notifications after a transaction commits.
// Publishing is best effort: failures are logged and never roll back state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the reconciler.
const (
	SubjectOrderPaid         = "orders.paid"
	SubjectOrderFailed       = "orders.failed"
	SubjectOrderRefunded     = "orders.refunded"
	SubjectOrderReturnStatus = "orders.return_status"
	SubjectInventoryReleased = "inventory.released"
)

// Message is the JSON body of every notification.
type Message struct {
	OrderID        string    `json:"order_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	PaymentStatus  string    `json:"payment_status,omitempty"`
	AmountTotal    int64     `json:"amount_total,omitempty"`
	AmountRefunded int64     `json:"amount_refunded,omitempty"`
	Units          int64     `json:"units,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, msg Message) error
	Close()
}

// NATSPublisher publishes to a NATS server.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to url. The connection reconnects on its own;
// publishes during an outage are buffered by the client.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("reconciler"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages before disconnecting.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.String("error", err.Error()))
	}
}

// NoopPublisher discards notifications. Used when NATS_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Message) error { return nil }
func (NoopPublisher) Close()                                         {}

// Send publishes msg and logs a failure instead of returning it.
func Send(ctx context.Context, p Publisher, logger *slog.Logger, subject string, msg Message) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, msg); err != nil {
		logger.Warn("notification not published",
			slog.String("subject", subject),
			slog.String("order_id", msg.OrderID),
			slog.String("session_id", msg.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
