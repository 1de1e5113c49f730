package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, Message) error {
	f.calls++
	return errors.New("nats: connection closed")
}
func (f *failingPublisher) Close() {}

func TestSend_LogsAndContinues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := &failingPublisher{}

	Send(context.Background(), p, logger, SubjectOrderPaid, Message{OrderID: "ord_1"})

	assert.Equal(t, 1, p.calls)
	assert.Contains(t, buf.String(), "notification not published")
	assert.Contains(t, buf.String(), "orders.paid")
}

func TestSend_NilPublisher(t *testing.T) {
	var buf bytes.Buffer
	Send(context.Background(), nil, slog.New(slog.NewTextHandler(&buf, nil)), SubjectOrderPaid, Message{})
	assert.Empty(t, buf.String())
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), SubjectInventoryReleased, Message{Units: 2}))
	p.Close()
}
