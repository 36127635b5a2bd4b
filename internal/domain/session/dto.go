package session

import (
	"time"

	"github.com/google/uuid"
)

// CreateSessionRequest creates a new photo session
type CreateSessionRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Location    string `json:"location" validate:"required,max=200"`
	Address     string `json:"address" validate:"max=500"`
	StartsAt    string `json:"starts_at" validate:"required"`
	EndsAt      string `json:"ends_at" validate:"required"`
	Policy      string `json:"policy" validate:"required,booking_policy"`
	BasePrice   int64  `json:"base_price" validate:"gte=0"`
	Currency    string `json:"currency" validate:"omitempty,currency"`
	CoverKey    string `json:"cover_key"`
}

// UpdateSessionRequest edits a session. Version carries the caller's last
// seen version for the optimistic concurrency check.
type UpdateSessionRequest struct {
	Version     int     `json:"version" validate:"required,gt=0"`
	Title       *string `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Location    *string `json:"location" validate:"omitempty,max=200"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
	StartsAt    *string `json:"starts_at"`
	EndsAt      *string `json:"ends_at"`
	BasePrice   *int64  `json:"base_price" validate:"omitempty,gte=0"`
	Currency    *string `json:"currency" validate:"omitempty,currency"`
	CoverKey    *string `json:"cover_key"`
}

// RestoreRequest replays a snapshot from the edit history
type RestoreRequest struct {
	EditID  string `json:"edit_id" validate:"required,uuid"`
	Version int    `json:"version" validate:"required,gt=0"`
}

// CreateSlotRequest adds a slot to a session
type CreateSlotRequest struct {
	StartsAt        string  `json:"starts_at" validate:"required"`
	EndsAt          string  `json:"ends_at" validate:"required"`
	MaxParticipants int     `json:"max_participants" validate:"required,gt=0"`
	Price           *int64  `json:"price" validate:"omitempty,gte=0"`
	EntryOpensAt    *string `json:"entry_opens_at"`
	EntryClosesAt   *string `json:"entry_closes_at"`
	PlatinumOpensAt *string `json:"platinum_opens_at"`
	GoldOpensAt     *string `json:"gold_opens_at"`
	GeneralOpensAt  *string `json:"general_opens_at"`
}

// SessionResponse is the public session representation
type SessionResponse struct {
	ID          uuid.UUID `json:"id"`
	OrganizerID uuid.UUID `json:"organizer_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Address     string    `json:"address,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Policy      Policy    `json:"policy"`
	BasePrice   int64     `json:"base_price"`
	Currency    string    `json:"currency"`
	Published   bool      `json:"published"`
	CoverKey    string    `json:"cover_key,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SlotResponse is the public slot representation
type SlotResponse struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	MaxParticipants int        `json:"max_participants"`
	BookedCount     int        `json:"booked_count"`
	Remaining       int        `json:"remaining"`
	Price           int64      `json:"price"`
	EntryOpensAt    *time.Time `json:"entry_opens_at,omitempty"`
	EntryClosesAt   *time.Time `json:"entry_closes_at,omitempty"`
	PlatinumOpensAt *time.Time `json:"platinum_opens_at,omitempty"`
	GoldOpensAt     *time.Time `json:"gold_opens_at,omitempty"`
	GeneralOpensAt  *time.Time `json:"general_opens_at,omitempty"`
	DrawnAt         *time.Time `json:"drawn_at,omitempty"`
}

// AvailabilityResponse reports committed seat counts for a slot
type AvailabilityResponse struct {
	SlotID          uuid.UUID `json:"slot_id"`
	MaxParticipants int       `json:"max_participants"`
	BookedCount     int       `json:"booked_count"`
	Remaining       int       `json:"remaining"`
}

// EditEntryResponse is one edit history record
type EditEntryResponse struct {
	ID        uuid.UUID  `json:"id"`
	EditorID  uuid.UUID  `json:"editor_id"`
	Action    EditAction `json:"action"`
	Changes   any        `json:"changes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toSessionResponse(s *PhotoSession) *SessionResponse {
	resp := &SessionResponse{
		ID:          s.ID,
		OrganizerID: s.OrganizerID,
		Title:       s.Title,
		Description: s.Description,
		Location:    s.Location,
		StartsAt:    s.StartsAt,
		EndsAt:      s.EndsAt,
		Policy:      s.Policy,
		BasePrice:   s.BasePrice,
		Currency:    s.Currency,
		Published:   s.Published,
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Address.Valid {
		resp.Address = s.Address.String
	}
	if s.CoverKey.Valid {
		resp.CoverKey = s.CoverKey.String
	}
	return resp
}

func toSlotResponse(s *Slot, sess *PhotoSession) *SlotResponse {
	resp := &SlotResponse{
		ID:              s.ID,
		SessionID:       s.SessionID,
		StartsAt:        s.StartsAt,
		EndsAt:          s.EndsAt,
		MaxParticipants: s.MaxParticipants,
		BookedCount:     s.BookedCount,
		Remaining:       s.Remaining(),
		Price:           s.EffectivePrice(sess),
	}
	if s.EntryOpensAt.Valid {
		resp.EntryOpensAt = &s.EntryOpensAt.Time
	}
	if s.EntryClosesAt.Valid {
		resp.EntryClosesAt = &s.EntryClosesAt.Time
	}
	if s.PlatinumOpensAt.Valid {
		resp.PlatinumOpensAt = &s.PlatinumOpensAt.Time
	}
	if s.GoldOpensAt.Valid {
		resp.GoldOpensAt = &s.GoldOpensAt.Time
	}
	if s.GeneralOpensAt.Valid {
		resp.GeneralOpensAt = &s.GeneralOpensAt.Time
	}
	if s.DrawnAt.Valid {
		resp.DrawnAt = &s.DrawnAt.Time
	}
	return resp
}
