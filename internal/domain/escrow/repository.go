package escrow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository persists escrow transactions and their ledger. Every state
// change appends its ledger entry in the same database transaction.
type Repository interface {
	Create(ctx context.Context, t *Transaction, entry *LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Transaction, error)

	// Transition moves the escrow from one of the expected states to the
	// target state and appends the ledger entry atomically. It returns
	// false without error when the row was not in an expected state, which
	// is how concurrent settlers lose gracefully.
	Transition(ctx context.Context, id uuid.UUID, from []State, to State, refundedAmount int64, capturedAt, settleDeadline sql.NullTime, entries ...*LedgerEntry) (bool, error)

	Ledger(ctx context.Context, escrowID uuid.UUID) ([]*LedgerEntry, error)

	// ListDueForSettlement returns captured escrows whose deadline has
	// passed. Disputed escrows left the captured state and never match.
	ListDueForSettlement(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)

	// ListStuckAuthorized returns escrows authorized before the cutoff
	// that never reached a capture or refund.
	ListStuckAuthorized(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates escrow repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const escrowColumns = `id, booking_id, payer_id, amount, refunded_amount,
	currency, state, intent_id, captured_at, settle_deadline, created_at, updated_at`

func (r *repository) Create(ctx context.Context, t *Transaction, entry *LedgerEntry) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_transactions (
			id, booking_id, payer_id, amount, refunded_amount, currency,
			state, intent_id, captured_at, settle_deadline, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		t.ID, t.BookingID, t.PayerID, t.Amount, t.RefundedAmount, t.Currency,
		t.State, t.IntentID, t.CapturedAt, t.SettleDeadline, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEscrowExists
		}
		return err
	}

	if err := appendLedger(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.db.GetContext(ctx, &t, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.db.GetContext(ctx, &t, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE booking_id = $1`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []State, to State, refundedAmount int64, capturedAt, settleDeadline sql.NullTime, entries ...*LedgerEntry) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	// The WHERE state = ANY(...) clause is the optimistic check: of two
	// concurrent settlers exactly one matches the row.
	res, err := tx.ExecContext(ctx, `
		UPDATE escrow_transactions
		SET state = $1,
		    refunded_amount = refunded_amount + $2,
		    captured_at = COALESCE($3, captured_at),
		    settle_deadline = COALESCE($4, settle_deadline),
		    updated_at = now()
		WHERE id = $5 AND state = ANY($6)
	`, to, refundedAmount, capturedAt, settleDeadline, id, pq.Array(states))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	for _, entry := range entries {
		if err := appendLedger(ctx, tx, entry); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func appendLedger(ctx context.Context, tx *sqlx.Tx, entry *LedgerEntry) error {
	if entry == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrow_ledger (id, escrow_id, type, amount, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.EscrowID, entry.Type, entry.Amount, entry.Actor, entry.Note, entry.CreatedAt)
	return err
}

func (r *repository) Ledger(ctx context.Context, escrowID uuid.UUID) ([]*LedgerEntry, error) {
	var out []*LedgerEntry
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, escrow_id, type, amount, actor, note, created_at
		FROM escrow_ledger
		WHERE escrow_id = $1
		ORDER BY created_at ASC, id ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListDueForSettlement(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	var out []*Transaction
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+escrowColumns+`
		FROM escrow_transactions
		WHERE state = $1 AND settle_deadline <= $2
		ORDER BY settle_deadline ASC
		LIMIT $3
	`, StateCaptured, now, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListStuckAuthorized(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	var out []*Transaction
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+escrowColumns+`
		FROM escrow_transactions
		WHERE state = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, StateAuthorized, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
