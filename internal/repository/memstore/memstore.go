// Package memstore is an in-memory repository.Store. It mirrors the SQL
// semantics of the pgx queries (conditional updates, floors, pgx.ErrNoRows)
// and serializes every call, so transactions behave as SERIALIZABLE.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	state *state

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time

	// FailOn injects an error when the named Querier method is called.
	FailOn map[string]error
}

type state struct {
	ledger       map[string]repository.WebhookLedger
	variants     map[[16]byte]repository.Variant
	reservations []repository.CheckoutReservation
	orders       map[[16]byte]repository.Order
	orderItems   []repository.OrderItem
	timeline     []repository.OrderTimeline
	returns      map[[16]byte]repository.ReturnRequest
	timelineSeq  int64
}

func New() *Store {
	return &Store{
		state: &state{
			ledger:   make(map[string]repository.WebhookLedger),
			variants: make(map[[16]byte]repository.Variant),
			orders:   make(map[[16]byte]repository.Order),
			returns:  make(map[[16]byte]repository.ReturnRequest),
		},
		FailOn: make(map[string]error),
	}
}

func (s *state) clone() *state {
	c := &state{
		ledger:       make(map[string]repository.WebhookLedger, len(s.ledger)),
		variants:     make(map[[16]byte]repository.Variant, len(s.variants)),
		reservations: append([]repository.CheckoutReservation(nil), s.reservations...),
		orders:       make(map[[16]byte]repository.Order, len(s.orders)),
		orderItems:   append([]repository.OrderItem(nil), s.orderItems...),
		timeline:     append([]repository.OrderTimeline(nil), s.timeline...),
		returns:      make(map[[16]byte]repository.ReturnRequest, len(s.returns)),
		timelineSeq:  s.timelineSeq,
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.returns {
		c.returns[k] = v
	}
	return c
}

// ExecTx runs fn against a snapshot and keeps the changes only if fn returns
// nil. A panic in fn restores the snapshot before it propagates.
func (s *Store) ExecTx(ctx context.Context, fn func(q repository.Querier) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = snapshot
			panic(p)
		}
	}()
	if err = fn(&view{store: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) now() pgtype.Timestamptz {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	return pgtype.Timestamptz{Time: now, Valid: true}
}

func (s *Store) fail(method string) error {
	return s.FailOn[method]
}

func newID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

var errNoRows = pgx.ErrNoRows

var _ repository.Store = (*Store)(nil)
