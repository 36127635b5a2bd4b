package escrow

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// State represents escrow lifecycle state. Transitions are one-directional;
// released, refunded, partially refunded and auto-settled are terminal.
type State string

const (
	StateAuthorized        State = "authorized"
	StateCaptured          State = "captured"
	StateReleasedToPayee   State = "released_to_payee"
	StateRefunded          State = "refunded"
	StatePartiallyRefunded State = "partially_refunded"
	StateDisputed          State = "disputed"
	StateAutoSettled       State = "auto_settled"
	StateFailed            State = "failed"
)

var transitions = map[State][]State{
	StateAuthorized: {StateCaptured, StateRefunded, StateFailed},
	StateCaptured:   {StateReleasedToPayee, StateRefunded, StatePartiallyRefunded, StateDisputed, StateAutoSettled},
	StateDisputed:   {StateReleasedToPayee, StateRefunded, StatePartiallyRefunded},
}

// CanTransition reports whether from -> to is a legal state change
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Settled reports whether funds have left the escrow
func (s State) Settled() bool {
	switch s {
	case StateReleasedToPayee, StateRefunded, StatePartiallyRefunded, StateAutoSettled:
		return true
	}
	return false
}

// Transaction represents held funds for one booking
type Transaction struct {
	ID        uuid.UUID `db:"id"`
	BookingID uuid.UUID `db:"booking_id"`

	PayerID uuid.NullUUID `db:"payer_id"`

	Amount         int64  `db:"amount"` // minor units
	RefundedAmount int64  `db:"refunded_amount"`
	Currency       string `db:"currency"`

	State    State  `db:"state"`
	IntentID string `db:"intent_id"`

	CapturedAt     sql.NullTime `db:"captured_at"`
	SettleDeadline sql.NullTime `db:"settle_deadline"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EntryType categorizes ledger entries
type EntryType string

const (
	EntryAuthorize     EntryType = "authorize"
	EntryCapture       EntryType = "capture"
	EntryRelease       EntryType = "release"
	EntryRefund        EntryType = "refund"
	EntryPartialRefund EntryType = "partial_refund"
	EntryDisputeHold   EntryType = "dispute_hold"
	EntryAutoSettle    EntryType = "auto_settle"
	EntryReconcile     EntryType = "reconcile"
)

// LedgerEntry is one append-only movement record. Ledger rows are written
// in the same transaction as the state change they describe and are never
// updated or deleted.
type LedgerEntry struct {
	ID        uuid.UUID      `db:"id"`
	EscrowID  uuid.UUID      `db:"escrow_id"`
	Type      EntryType      `db:"type"`
	Amount    int64          `db:"amount"`
	Actor     string         `db:"actor"`
	Note      sql.NullString `db:"note"`
	CreatedAt time.Time      `db:"created_at"`
}
