package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

// CreateBookingRequest asks for a seat. Instrument is the gateway payment
// token; JoinWaitlist opts into queueing when the slot is full.
type CreateBookingRequest struct {
	Instrument   string `json:"instrument" validate:"omitempty,max=200"`
	JoinWaitlist bool   `json:"join_waitlist"`
}

// SelectRequest confirms one lottery entry by hand
type SelectRequest struct {
	Note string `json:"note" validate:"omitempty,max=1000"`
}

// BookingResponse is the public booking representation
type BookingResponse struct {
	ID               uuid.UUID  `json:"id"`
	SlotID           uuid.UUID  `json:"slot_id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	Status           Status     `json:"status"`
	RankSnapshot     user.Rank  `json:"rank_snapshot"`
	SelectionReason  string     `json:"selection_reason,omitempty"`
	SelectionNote    string     `json:"selection_note,omitempty"`
	EnteredAt        time.Time  `json:"entered_at"`
	WaitlistPosition *int64     `json:"waitlist_position,omitempty"`
	OfferExpiresAt   *time.Time `json:"offer_expires_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toBookingResponse(b *Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:           b.ID,
		SlotID:       b.SlotID,
		Status:       b.Status,
		RankSnapshot: b.RankSnapshot,
		EnteredAt:    b.EnteredAt,
		CreatedAt:    b.CreatedAt,
	}
	if b.UserID.Valid {
		resp.UserID = &b.UserID.UUID
	}
	if b.SelectionReason.Valid {
		resp.SelectionReason = b.SelectionReason.String
	}
	if b.SelectionNote.Valid {
		resp.SelectionNote = b.SelectionNote.String
	}
	if b.WaitlistPosition.Valid {
		resp.WaitlistPosition = &b.WaitlistPosition.Int64
	}
	if b.OfferExpiresAt.Valid {
		resp.OfferExpiresAt = &b.OfferExpiresAt.Time
	}
	if b.CancelledAt.Valid {
		resp.CancelledAt = &b.CancelledAt.Time
	}
	return resp
}

func toBookingResponses(bookings []*Booking) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}
