package domain

// LedgerStatus is the state of an inbound event in the idempotency ledger.
type LedgerStatus string

const (
	LedgerReceived   LedgerStatus = "received"
	LedgerProcessing LedgerStatus = "processing"
	LedgerProcessed  LedgerStatus = "processed"
	LedgerFailed     LedgerStatus = "failed"
)

// CanTransition reports whether the ledger permits moving from one status to another.
// failed → processing is the replay path.
func (s LedgerStatus) CanTransition(to LedgerStatus) bool {
	switch s {
	case LedgerReceived:
		return to == LedgerProcessing
	case LedgerFailed:
		return to == LedgerProcessing
	case LedgerProcessing:
		return to == LedgerProcessed || to == LedgerFailed
	}
	return false
}

// Outcome is the terminal result of processing an event.
type Outcome struct {
	Err error

	// Retryable is false for failures that automatic recovery must leave to an operator.
	Retryable bool
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{}
}

// FailedWith returns a failed outcome for err.
func FailedWith(err error, retryable bool) Outcome {
	return Outcome{Err: err, Retryable: retryable}
}

// Status is the ledger status the outcome resolves to.
func (o Outcome) Status() LedgerStatus {
	if o.Err != nil {
		return LedgerFailed
	}
	return LedgerProcessed
}

// ReservationStatus is the state of a checkout reservation row.
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationReleased ReservationStatus = "released"
	ReservationDeducted ReservationStatus = "deducted"
)
