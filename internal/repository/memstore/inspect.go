package memstore

import (
	"time"

	"github.com/dukerupert/reconciler/internal/repository"
	"github.com/jackc/pgx/v5/pgtype"
)

// Helpers below let tests inspect and age state without going through Querier.

// Orders returns every stored order.
func (s *Store) Orders() []repository.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]repository.Order, 0, len(s.state.orders))
	for _, o := range s.state.orders {
		orders = append(orders, o)
	}
	return orders
}

// Reservations returns the reservation rows of one session.
func (s *Store) Reservations(sessionID string) []repository.CheckoutReservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []repository.CheckoutReservation
	for _, r := range s.state.reservations {
		if r.SessionID == sessionID {
			rows = append(rows, r)
		}
	}
	return rows
}

// AgeLedgerEntry rewrites an entry's updated_at.
func (s *Store) AgeLedgerEntry(eventID string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.state.ledger[eventID]; ok {
		e.UpdatedAt = pgtype.Timestamptz{Time: updatedAt, Valid: true}
		s.state.ledger[eventID] = e
	}
}
