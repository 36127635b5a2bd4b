package session

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines session data access
type Repository interface {
	Create(ctx context.Context, s *PhotoSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*PhotoSession, error)
	// Update applies the session state conditionally on its version and
	// bumps the version. Returns ErrVersionConflict on a lost update.
	Update(ctx context.Context, s *PhotoSession) error
	SetPublished(ctx context.Context, id uuid.UUID, published bool) error
	// SoftDelete marks the session deleted unless active bookings exist
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter *Filter, pagination *Pagination) ([]*PhotoSession, int, error)

	AddSlot(ctx context.Context, slot *Slot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, sessionID uuid.UUID) ([]*Slot, error)
	CountSlots(ctx context.Context, sessionID uuid.UUID) (int, error)
	// GetAvailability reads the committed seat counters for a slot. The
	// read goes straight to the slot row so the allocator never sees a
	// stale count.
	GetAvailability(ctx context.Context, slotID uuid.UUID) (max int, current int, err error)

	AppendEdit(ctx context.Context, entry *EditEntry) error
	ListEdits(ctx context.Context, sessionID uuid.UUID) ([]*EditEntry, error)
	GetEdit(ctx context.Context, id uuid.UUID) (*EditEntry, error)
}

// Filter narrows session listings
type Filter struct {
	OrganizerID *uuid.UUID
	Published   *bool
	Query       *string
}

// Pagination bounds list results
type Pagination struct {
	Page  int
	Limit int
}

func (p *Pagination) offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates session repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, s *PhotoSession) error {
	query := `
		INSERT INTO photo_sessions (
			id, organizer_id, title, description, location, address,
			starts_at, ends_at, policy, base_price, currency,
			published, cover_key, version, created_at, updated_at
		) VALUES (
			:id, :organizer_id, :title, :description, :location, :address,
			:starts_at, :ends_at, :policy, :base_price, :currency,
			:published, :cover_key, :version, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return err
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*PhotoSession, error) {
	var s PhotoSession
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM photo_sessions WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) Update(ctx context.Context, s *PhotoSession) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_sessions SET
			title = $1, description = $2, location = $3, address = $4,
			starts_at = $5, ends_at = $6, policy = $7, base_price = $8,
			currency = $9, cover_key = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13 AND deleted_at IS NULL
	`, s.Title, s.Description, s.Location, s.Address,
		s.StartsAt, s.EndsAt, s.Policy, s.BasePrice,
		s.Currency, s.CoverKey, time.Now(), s.ID, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a stale version
		if _, getErr := r.GetByID(ctx, s.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

func (r *repository) SetPublished(ctx context.Context, id uuid.UUID, published bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_sessions SET published = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, published, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_sessions SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM bookings b
			JOIN slots sl ON sl.id = b.slot_id
			WHERE sl.session_id = $2 AND b.status IN ('pending', 'confirmed', 'waitlisted')
		)
	`, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrSessionHasBookings
	}
	return nil
}

func (r *repository) List(ctx context.Context, filter *Filter, pagination *Pagination) ([]*PhotoSession, int, error) {
	where := "deleted_at IS NULL"
	args := []interface{}{}
	idx := 1

	if filter != nil {
		if filter.OrganizerID != nil {
			where += " AND organizer_id = $" + strconv.Itoa(idx)
			args = append(args, *filter.OrganizerID)
			idx++
		}
		if filter.Published != nil {
			where += " AND published = $" + strconv.Itoa(idx)
			args = append(args, *filter.Published)
			idx++
		}
		if filter.Query != nil {
			where += " AND (title ILIKE $" + strconv.Itoa(idx) + " OR description ILIKE $" + strconv.Itoa(idx) + ")"
			args = append(args, "%"+*filter.Query+"%")
			idx++
		}
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM photo_sessions WHERE "+where, args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM photo_sessions WHERE " + where +
		" ORDER BY starts_at ASC LIMIT $" + strconv.Itoa(idx) + " OFFSET $" + strconv.Itoa(idx+1)
	args = append(args, pagination.Limit, pagination.offset())

	sessions := []*PhotoSession{}
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *repository) AddSlot(ctx context.Context, slot *Slot) error {
	query := `
		INSERT INTO slots (
			id, session_id, starts_at, ends_at, max_participants, booked_count,
			price, entry_opens_at, entry_closes_at,
			platinum_opens_at, gold_opens_at, general_opens_at,
			created_at, updated_at
		) VALUES (
			:id, :session_id, :starts_at, :ends_at, :max_participants, :booked_count,
			:price, :entry_opens_at, :entry_closes_at,
			:platinum_opens_at, :gold_opens_at, :general_opens_at,
			:created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, slot)
	return err
}

func (r *repository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var s Slot
	err := r.db.GetContext(ctx, &s, `SELECT * FROM slots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) ListSlots(ctx context.Context, sessionID uuid.UUID) ([]*Slot, error) {
	slots := []*Slot{}
	err := r.db.SelectContext(ctx, &slots, `
		SELECT * FROM slots WHERE session_id = $1 ORDER BY starts_at ASC
	`, sessionID)
	return slots, err
}

func (r *repository) CountSlots(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM slots WHERE session_id = $1`, sessionID)
	return count, err
}

func (r *repository) GetAvailability(ctx context.Context, slotID uuid.UUID) (int, int, error) {
	var row struct {
		Max     int `db:"max_participants"`
		Current int `db:"booked_count"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT max_participants, booked_count FROM slots WHERE id = $1
	`, slotID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrSlotNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	return row.Max, row.Current, nil
}

func (r *repository) AppendEdit(ctx context.Context, entry *EditEntry) error {
	query := `
		INSERT INTO session_edits (id, session_id, editor_id, action, changes, snapshot, created_at)
		VALUES (:id, :session_id, :editor_id, :action, :changes, :snapshot, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

func (r *repository) ListEdits(ctx context.Context, sessionID uuid.UUID) ([]*EditEntry, error) {
	entries := []*EditEntry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM session_edits WHERE session_id = $1 ORDER BY created_at DESC
	`, sessionID)
	return entries, err
}

func (r *repository) GetEdit(ctx context.Context, id uuid.UUID) (*EditEntry, error) {
	var entry EditEntry
	err := r.db.GetContext(ctx, &entry, `SELECT * FROM session_edits WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEditNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
