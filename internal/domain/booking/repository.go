package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Repository persists bookings and owns the slot seat counter
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBySlot(ctx context.Context, slotID uuid.UUID, statuses ...Status) ([]*Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Booking, error)

	// CreateConfirmed inserts a confirmed booking and increments the slot
	// counter in one transaction. The increment is a conditional
	// single-statement check; ErrSlotFull when the slot is at capacity.
	CreateConfirmed(ctx context.Context, b *Booking) error

	// CreateEntry inserts a non-seat-holding booking (lottery entry,
	// waitlist row) without touching the counter.
	CreateEntry(ctx context.Context, b *Booking) error

	// ConfirmWithSeat flips an existing booking to confirmed and takes a
	// seat, atomically. Used by draws, admin selection and offer acceptance.
	ConfirmWithSeat(ctx context.Context, id uuid.UUID, reason SelectionReason, note string) error

	// ConfirmOffered flips an offered booking to confirmed. The offer
	// already holds the seat, so the counter is left alone. Returns
	// ErrNoOffer when the booking is no longer in the offered state.
	ConfirmOffered(ctx context.Context, id uuid.UUID) error

	// ReleaseSeatToWaitlist flips a booking out of one of the `from`
	// statuses (any non-terminal status when `from` is empty) into the
	// terminal `to` status and hands its seat to the waitlist head in the
	// same transaction. The head is marked offered with the given deadline
	// and keeps the seat reserved; the counter is only decremented when the
	// waitlist is empty. Returns the promoted booking, nil when none.
	ReleaseSeatToWaitlist(ctx context.Context, id uuid.UUID, from []Status, to Status, now, offerExpiresAt time.Time) (*Booking, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// MarkDrawn stamps the slot's one-time draw record. Returns
	// ErrDrawAlreadyDone if a draw is already recorded.
	MarkDrawn(ctx context.Context, slotID uuid.UUID, seed int64, now time.Time) error
	GetDraw(ctx context.Context, slotID uuid.UUID) (drawnAt sql.NullTime, seed sql.NullInt64, err error)

	NextWaitlistPosition(ctx context.Context, slotID uuid.UUID) (int64, error)
	ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*Booking, error)

	HasActiveBooking(ctx context.Context, slotID, userID uuid.UUID) (bool, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates booking repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const bookingColumns = `id, slot_id, user_id, guest_name, guest_email, status,
	rank_snapshot, selection_reason, selection_note, instrument, entered_at,
	waitlist_position, offer_expires_at, cancelled_at, created_at, updated_at`

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repository) ListBySlot(ctx context.Context, slotID uuid.UUID, statuses ...Status) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE slot_id = $1`
	args := []interface{}{slotID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		args = append(args, pq.Array(values))
	}
	query += ` ORDER BY entered_at ASC, id ASC`

	var out []*Booking
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Booking, error) {
	var out []*Booking
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// occupySeat performs the check-and-increment in a single statement. The
// WHERE clause is the only capacity check; two racing requests for the last
// seat serialize on the row and exactly one of them matches.
func occupySeat(ctx context.Context, tx *sqlx.Tx, slotID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE slots
		SET booked_count = booked_count + 1, updated_at = now()
		WHERE id = $1 AND booked_count < max_participants
	`, slotID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM slots WHERE id = $1)`, slotID); err != nil {
			return err
		}
		if !exists {
			return ErrBookingNotFound
		}
		return ErrSlotFull
	}
	return nil
}

func releaseSeat(ctx context.Context, tx *sqlx.Tx, slotID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE slots
		SET booked_count = booked_count - 1, updated_at = now()
		WHERE id = $1 AND booked_count > 0
	`, slotID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// A release without a matching occupy means the counter is corrupt.
		// Log loudly and refuse to go negative.
		log.Error().Str("slot_id", slotID.String()).Msg("seat release found empty slot counter")
		return ErrCapacityExceeded
	}
	return nil
}

func insertBooking(ctx context.Context, tx *sqlx.Tx, b *Booking) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, slot_id, user_id, guest_name, guest_email, status,
			rank_snapshot, selection_reason, selection_note, instrument,
			entered_at, waitlist_position, offer_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		b.ID, b.SlotID, b.UserID, b.GuestName, b.GuestEmail, b.Status,
		b.RankSnapshot, b.SelectionReason, b.SelectionNote, b.Instrument,
		b.EnteredAt, b.WaitlistPosition, b.OfferExpiresAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyBooked
		}
		return err
	}
	return nil
}

func (r *repository) CreateConfirmed(ctx context.Context, b *Booking) error {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := occupySeat(ctx, tx, b.SlotID); err != nil {
		return err
	}
	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repository) CreateEntry(ctx context.Context, b *Booking) error {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repository) ConfirmWithSeat(ctx context.Context, id uuid.UUID, reason SelectionReason, note string) error {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var slotID uuid.UUID
	err = tx.GetContext(ctx, &slotID, `SELECT slot_id FROM bookings WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if err != nil {
		return err
	}

	if err := occupySeat(ctx, tx, slotID); err != nil {
		return err
	}

	var noteArg interface{}
	if note != "" {
		noteArg = note
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, selection_reason = $2, selection_note = $3,
		    waitlist_position = NULL, offer_expires_at = NULL, updated_at = now()
		WHERE id = $4 AND status NOT IN ('confirmed', 'cancelled')
	`, StatusConfirmed, string(reason), noteArg, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotCancellable
	}
	return tx.Commit()
}

func (r *repository) ConfirmOffered(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, selection_reason = $2,
		    waitlist_position = NULL, offer_expires_at = NULL, updated_at = now()
		WHERE id = $3 AND status = $4
	`, StatusConfirmed, string(ReasonWaitlistOffer), id, StatusOffered)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoOffer
	}
	return nil
}

func (r *repository) ReleaseSeatToWaitlist(ctx context.Context, id uuid.UUID, from []Status, to Status, now, offerExpiresAt time.Time) (*Booking, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var b Booking
	err = tx.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.Status == to {
		return nil, nil
	}
	if len(from) > 0 && !statusIn(b.Status, from) {
		return nil, ErrNotCancellable
	}
	heldSeat := b.HoldsSeat()

	var cancelledAt interface{}
	if to == StatusCancelled {
		cancelledAt = now
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, cancelled_at = COALESCE($2, cancelled_at), updated_at = now()
		WHERE id = $3
	`, to, cancelledAt, id); err != nil {
		return nil, err
	}

	if !heldSeat {
		return nil, tx.Commit()
	}

	// Seat transfer: the waitlist head takes over the reservation without
	// the counter ever dipping, so no outside request can steal the seat
	// between release and offer.
	var next Booking
	err = tx.GetContext(ctx, &next, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE slot_id = $1 AND status = $2
		ORDER BY waitlist_position ASC NULLS LAST, entered_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, b.SlotID, StatusWaitlisted)
	if errors.Is(err, sql.ErrNoRows) {
		if err := releaseSeat(ctx, tx, b.SlotID); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, offer_expires_at = $2, updated_at = now()
		WHERE id = $3
	`, StatusOffered, offerExpiresAt, next.ID); err != nil {
		return nil, err
	}
	next.Status = StatusOffered
	next.OfferExpiresAt = sql.NullTime{Time: offerExpiresAt, Valid: true}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *repository) MarkDrawn(ctx context.Context, slotID uuid.UUID, seed int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE slots
		SET drawn_at = $1, draw_seed = $2, updated_at = now()
		WHERE id = $3 AND drawn_at IS NULL
	`, now, seed, slotID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDrawAlreadyDone
	}
	return nil
}

func (r *repository) GetDraw(ctx context.Context, slotID uuid.UUID) (sql.NullTime, sql.NullInt64, error) {
	var row struct {
		DrawnAt  sql.NullTime  `db:"drawn_at"`
		DrawSeed sql.NullInt64 `db:"draw_seed"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT drawn_at, draw_seed FROM slots WHERE id = $1`, slotID)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullTime{}, sql.NullInt64{}, ErrBookingNotFound
	}
	if err != nil {
		return sql.NullTime{}, sql.NullInt64{}, err
	}
	return row.DrawnAt, row.DrawSeed, nil
}

func (r *repository) NextWaitlistPosition(ctx context.Context, slotID uuid.UUID) (int64, error) {
	var pos int64
	err := r.db.GetContext(ctx, &pos, `
		SELECT COALESCE(MAX(waitlist_position), 0) + 1
		FROM bookings
		WHERE slot_id = $1 AND status IN ($2, $3)
	`, slotID, StatusWaitlisted, StatusOffered)
	return pos, err
}

func (r *repository) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	var out []*Booking
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = $1 AND offer_expires_at <= $2
		ORDER BY offer_expires_at ASC
		LIMIT $3
	`, StatusOffered, now, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) HasActiveBooking(ctx context.Context, slotID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE slot_id = $1 AND user_id = $2
			  AND status NOT IN ($3, $4, $5)
		)
	`, slotID, userID, StatusCancelled, StatusRejected, StatusExpired)
	return exists, err
}
