package booking

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

// Status represents booking lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusOffered    Status = "offered"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// SelectionReason records how a booking got its seat
type SelectionReason string

const (
	ReasonFirstCome      SelectionReason = "first_come"
	ReasonLotteryWin     SelectionReason = "lottery_win"
	ReasonAdminSelection SelectionReason = "admin_selection"
	ReasonPriorityWindow SelectionReason = "priority_window"
	ReasonWaitlistOffer  SelectionReason = "waitlist_offer"
)

// Booking represents a seat request against a slot. Lottery entries and
// waitlist rows are bookings too, distinguished by status.
type Booking struct {
	ID     uuid.UUID `db:"id"`
	SlotID uuid.UUID `db:"slot_id"`

	// UserID is null for guest bookings, which carry contact info instead
	UserID     uuid.NullUUID  `db:"user_id"`
	GuestName  sql.NullString `db:"guest_name"`
	GuestEmail sql.NullString `db:"guest_email"`

	Status Status `db:"status"`

	// Rank at entry time. Promotions after entry do not retro-open windows.
	RankSnapshot user.Rank `db:"rank_snapshot"`

	SelectionReason sql.NullString `db:"selection_reason"`
	SelectionNote   sql.NullString `db:"selection_note"`

	// Instrument is the gateway payment token captured at entry time, so
	// bookings confirmed later (draws, offers) can still be authorized.
	Instrument sql.NullString `db:"instrument"`

	EnteredAt time.Time `db:"entered_at"`

	WaitlistPosition sql.NullInt64 `db:"waitlist_position"`
	OfferExpiresAt   sql.NullTime  `db:"offer_expires_at"`

	CancelledAt sql.NullTime `db:"cancelled_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// BelongsTo reports whether userID owns this booking
func (b *Booking) BelongsTo(userID uuid.UUID) bool {
	return b.UserID.Valid && b.UserID.UUID == userID
}

// HoldsSeat reports whether the booking currently occupies a seat in the
// slot counter. Offered bookings hold their seat too: a promoted waitlist
// entry keeps the freed seat reserved until the offer resolves.
func (b *Booking) HoldsSeat() bool {
	return b.Status == StatusConfirmed || b.Status == StatusOffered
}

// OfferOpen reports whether a waitlist offer is still acceptable at now
func (b *Booking) OfferOpen(now time.Time) bool {
	return b.Status == StatusOffered && b.OfferExpiresAt.Valid && now.Before(b.OfferExpiresAt.Time)
}
