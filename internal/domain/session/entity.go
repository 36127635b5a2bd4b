package session

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Policy determines how booking requests for a slot are resolved
type Policy string

const (
	PolicyFirstCome    Policy = "first_come"
	PolicyLottery      Policy = "lottery"
	PolicyAdminLottery Policy = "admin_lottery"
	PolicyPriority     Policy = "priority"
	PolicyWaitlist     Policy = "waitlist"
)

// PhotoSession represents a bookable photo session (matches photo_sessions table)
type PhotoSession struct {
	ID          uuid.UUID `db:"id"`
	OrganizerID uuid.UUID `db:"organizer_id"`

	Title       string         `db:"title"`
	Description string         `db:"description"`
	Location    string         `db:"location"`
	Address     sql.NullString `db:"address"`

	StartsAt time.Time `db:"starts_at"`
	EndsAt   time.Time `db:"ends_at"`

	Policy    Policy `db:"policy"`
	BasePrice int64  `db:"base_price"` // minor units
	Currency  string `db:"currency"`

	Published bool           `db:"published"`
	CoverKey  sql.NullString `db:"cover_key"`

	// Version increments on every committed update and guards against
	// lost updates from concurrent organizer edits.
	Version int `db:"version"`

	DeletedAt sql.NullTime `db:"deleted_at"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// CanBeEditedBy checks if user can edit this session
func (s *PhotoSession) CanBeEditedBy(userID uuid.UUID) bool {
	return s.OrganizerID == userID
}

// Slot represents a bookable time window within a session (matches slots table)
type Slot struct {
	ID        uuid.UUID `db:"id"`
	SessionID uuid.UUID `db:"session_id"`

	StartsAt time.Time `db:"starts_at"`
	EndsAt   time.Time `db:"ends_at"`

	// BookedCount is maintained by the allocator's conditional increment and
	// must never exceed MaxParticipants.
	MaxParticipants int `db:"max_participants"`
	BookedCount     int `db:"booked_count"`

	// Price overrides the session base price when set
	Price sql.NullInt64 `db:"price"`

	// Entry window for lottery / admin_lottery policies
	EntryOpensAt  sql.NullTime `db:"entry_opens_at"`
	EntryClosesAt sql.NullTime `db:"entry_closes_at"`

	// Tier windows for the priority policy. Each tier has its own opening
	// time; windows may overlap and none closes before the slot starts.
	PlatinumOpensAt sql.NullTime `db:"platinum_opens_at"`
	GoldOpensAt     sql.NullTime `db:"gold_opens_at"`
	GeneralOpensAt  sql.NullTime `db:"general_opens_at"`

	// Lottery draw record; a non-null DrawnAt makes the draw immutable
	DrawnAt  sql.NullTime  `db:"drawn_at"`
	DrawSeed sql.NullInt64 `db:"draw_seed"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EffectivePrice returns the slot price, falling back to the session base price
func (s *Slot) EffectivePrice(sess *PhotoSession) int64 {
	if s.Price.Valid {
		return s.Price.Int64
	}
	return sess.BasePrice
}

// Remaining returns the number of free seats
func (s *Slot) Remaining() int {
	if r := s.MaxParticipants - s.BookedCount; r > 0 {
		return r
	}
	return 0
}

// TierOpensAt returns the entry opening time for a tier level
// (2=platinum, 1=gold, 0=general). A null window means the tier may not
// enter at all until the general window opens.
func (s *Slot) TierOpensAt(level int) (time.Time, bool) {
	switch level {
	case 2:
		if s.PlatinumOpensAt.Valid {
			return s.PlatinumOpensAt.Time, true
		}
	case 1:
		if s.GoldOpensAt.Valid {
			return s.GoldOpensAt.Time, true
		}
	}
	if s.GeneralOpensAt.Valid {
		return s.GeneralOpensAt.Time, true
	}
	return time.Time{}, false
}
