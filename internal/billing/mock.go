package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/reconciler/internal/domain"
	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Unset funcs fall back to the stored Events and Sessions.
type MockProvider struct {
	VerifyWebhookFunc              func(payload []byte, signature string) (domain.Event, error)
	GetEventFunc                   func(ctx context.Context, eventID string) (domain.Event, error)
	GetCheckoutSessionFunc         func(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	ListOpenCheckoutSessionsFunc   func(ctx context.Context, cutoff time.Time, limit int) ([]domain.CheckoutSession, error)
	ExpireCheckoutSessionFunc      func(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	FindSessionByPaymentIntentFunc func(ctx context.Context, paymentIntentID string) (domain.CheckoutSession, error)
	RefundPaymentFunc              func(ctx context.Context, params RefundParams) (*Refund, error)

	// Events and Sessions back the default behavior.
	Events   map[string]domain.Event
	Sessions map[string]domain.CheckoutSession

	mu sync.Mutex

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Events:   make(map[string]domain.Event),
		Sessions: make(map[string]domain.CheckoutSession),
		CallLog:  []string{},
	}
}

func (m *MockProvider) log(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

func (m *MockProvider) VerifyWebhook(payload []byte, signature string) (domain.Event, error) {
	m.log("VerifyWebhook")
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(payload, signature)
	}
	return domain.Event{}, ErrInvalidWebhookSignature
}

func (m *MockProvider) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	m.log("GetEvent(%s)", eventID)
	if m.GetEventFunc != nil {
		return m.GetEventFunc(ctx, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Events[eventID]
	if !ok {
		return domain.Event{}, &ProviderError{Op: "retrieve_event", Message: "No such event", Code: "resource_missing", StatusCode: 404}
	}
	return e, nil
}

func (m *MockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	m.log("GetCheckoutSession(%s)", sessionID)
	if m.GetCheckoutSessionFunc != nil {
		return m.GetCheckoutSessionFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, &ProviderError{Op: "retrieve_session", Message: "No such checkout session", Code: "resource_missing", StatusCode: 404}
	}
	return s, nil
}

func (m *MockProvider) ListOpenCheckoutSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.CheckoutSession, error) {
	m.log("ListOpenCheckoutSessions(%d)", limit)
	if m.ListOpenCheckoutSessionsFunc != nil {
		return m.ListOpenCheckoutSessionsFunc(ctx, cutoff, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []domain.CheckoutSession
	for _, s := range m.Sessions {
		if s.Status == domain.SessionStatusOpen && s.Created.Before(cutoff) && len(open) < limit {
			open = append(open, s)
		}
	}
	return open, nil
}

func (m *MockProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	m.log("ExpireCheckoutSession(%s)", sessionID)
	if m.ExpireCheckoutSessionFunc != nil {
		return m.ExpireCheckoutSessionFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, &ProviderError{Op: "expire_session", Message: "No such checkout session", Code: "resource_missing", StatusCode: 404}
	}
	s.Status = domain.SessionStatusExpired
	m.Sessions[sessionID] = s
	return s, nil
}

func (m *MockProvider) FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.CheckoutSession, error) {
	m.log("FindSessionByPaymentIntent(%s)", paymentIntentID)
	if m.FindSessionByPaymentIntentFunc != nil {
		return m.FindSessionByPaymentIntentFunc(ctx, paymentIntentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.PaymentIntentID == paymentIntentID {
			return s, nil
		}
	}
	return domain.CheckoutSession{}, domain.WrapError(domain.ErrSessionNotFound, domain.ENOTFOUND,
		"billing.FindSessionByPaymentIntent", "No checkout session for payment intent "+paymentIntentID)
}

func (m *MockProvider) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	m.log("RefundPayment(%s, %d)", params.PaymentIntentID, params.Amount)
	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, params)
	}
	return &Refund{
		ID:              "re_" + uuid.New().String(),
		PaymentIntentID: params.PaymentIntentID,
		Amount:          params.Amount,
		Status:          "succeeded",
		CreatedAt:       time.Now(),
	}, nil
}

var _ Provider = (*MockProvider)(nil)
var _ Provider = (*StripeProvider)(nil)
