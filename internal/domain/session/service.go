package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

// Service handles session registry business logic
type Service struct {
	repo     Repository
	userRepo user.Repository
}

// NewService creates session service
func NewService(repo Repository, userRepo user.Repository) *Service {
	return &Service{repo: repo, userRepo: userRepo}
}

func parseRFC3339Field(value *string) (sql.NullTime, error) {
	if value == nil {
		return sql.NullTime{}, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

// Create creates a new photo session and records the creating edit
func (s *Service) Create(ctx context.Context, organizerID uuid.UUID, req *CreateSessionRequest) (*PhotoSession, error) {
	u, err := s.userRepo.GetByID(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if !u.CanHostSessions() {
		return nil, ErrNotSessionOwner
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	if !startsAt.Before(endsAt) {
		return nil, ErrInvalidTimeRange
	}

	currency := req.Currency
	if currency == "" {
		currency = "JPY"
	}

	now := time.Now()
	sess := &PhotoSession{
		ID:          uuid.New(),
		OrganizerID: organizerID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Policy:      Policy(req.Policy),
		BasePrice:   req.BasePrice,
		Currency:    currency,
		Published:   false,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Address != "" {
		sess.Address = sql.NullString{String: req.Address, Valid: true}
	}
	if req.CoverKey != "" {
		sess.CoverKey = sql.NullString{String: req.CoverKey, Valid: true}
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.recordEdit(ctx, sess, organizerID, EditActionCreate, nil)
	return sess, nil
}

// GetByID returns session by ID
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*PhotoSession, error) {
	return s.repo.GetByID(ctx, id)
}

// Update edits a session under optimistic concurrency and appends the change
// to the edit history
func (s *Service) Update(ctx context.Context, id, userID uuid.UUID, req *UpdateSessionRequest) (*PhotoSession, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}

	before := *sess
	sess.Version = req.Version

	if req.Title != nil {
		sess.Title = *req.Title
	}
	if req.Description != nil {
		sess.Description = *req.Description
	}
	if req.Location != nil {
		sess.Location = *req.Location
	}
	if req.Address != nil {
		sess.Address = sql.NullString{String: *req.Address, Valid: *req.Address != ""}
	}
	if req.StartsAt != nil {
		t, err := parseRFC3339Field(req.StartsAt)
		if err != nil {
			return nil, ErrInvalidTimeRange
		}
		sess.StartsAt = t.Time
	}
	if req.EndsAt != nil {
		t, err := parseRFC3339Field(req.EndsAt)
		if err != nil {
			return nil, ErrInvalidTimeRange
		}
		sess.EndsAt = t.Time
	}
	if !sess.StartsAt.Before(sess.EndsAt) {
		return nil, ErrInvalidTimeRange
	}
	if req.BasePrice != nil {
		sess.BasePrice = *req.BasePrice
	}
	if req.Currency != nil {
		sess.Currency = *req.Currency
	}
	if req.CoverKey != nil {
		sess.CoverKey = sql.NullString{String: *req.CoverKey, Valid: *req.CoverKey != ""}
	}

	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.recordEdit(ctx, sess, userID, EditActionUpdate, diffSessions(&before, sess))
	return sess, nil
}

// Publish makes a session visible for booking; requires at least one slot
func (s *Service) Publish(ctx context.Context, id, userID uuid.UUID) (*PhotoSession, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}

	count, err := s.repo.CountSlots(ctx, id)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrPublishNeedsSlot
	}

	if err := s.repo.SetPublished(ctx, id, true); err != nil {
		return nil, err
	}
	sess.Published = true
	return sess, nil
}

// Delete soft-deletes a session; refused while active bookings exist
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !sess.CanBeEditedBy(userID) {
		return ErrNotSessionOwner
	}
	return s.repo.SoftDelete(ctx, id)
}

// AddSlot adds a bookable slot to a session
func (s *Service) AddSlot(ctx context.Context, sessionID, userID uuid.UUID, req *CreateSlotRequest) (*Slot, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	if !startsAt.Before(endsAt) {
		return nil, ErrInvalidTimeRange
	}
	if req.MaxParticipants <= 0 {
		return nil, ErrInvalidCapacity
	}

	entryOpens, err := parseRFC3339Field(req.EntryOpensAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	entryCloses, err := parseRFC3339Field(req.EntryClosesAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	if entryOpens.Valid && entryCloses.Valid && !entryOpens.Time.Before(entryCloses.Time) {
		return nil, ErrInvalidTimeRange
	}
	platinumOpens, err := parseRFC3339Field(req.PlatinumOpensAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	goldOpens, err := parseRFC3339Field(req.GoldOpensAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}
	generalOpens, err := parseRFC3339Field(req.GeneralOpensAt)
	if err != nil {
		return nil, ErrInvalidTimeRange
	}

	now := time.Now()
	slot := &Slot{
		ID:              uuid.New(),
		SessionID:       sessionID,
		StartsAt:        startsAt,
		EndsAt:          endsAt,
		MaxParticipants: req.MaxParticipants,
		BookedCount:     0,
		EntryOpensAt:    entryOpens,
		EntryClosesAt:   entryCloses,
		PlatinumOpensAt: platinumOpens,
		GoldOpensAt:     goldOpens,
		GeneralOpensAt:  generalOpens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Price != nil {
		slot.Price = sql.NullInt64{Int64: *req.Price, Valid: true}
	}

	if err := s.repo.AddSlot(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// GetSlot returns a slot by ID
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlot(ctx, id)
}

// ListSlots returns all slots of a session
func (s *Service) ListSlots(ctx context.Context, sessionID uuid.UUID) ([]*Slot, error) {
	return s.repo.ListSlots(ctx, sessionID)
}

// GetAvailability returns the committed seat counts of a slot
func (s *Service) GetAvailability(ctx context.Context, slotID uuid.UUID) (max, current int, err error) {
	return s.repo.GetAvailability(ctx, slotID)
}

// History returns the append-only edit log of a session
func (s *Service) History(ctx context.Context, sessionID, userID uuid.UUID) ([]*EditEntry, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}
	return s.repo.ListEdits(ctx, sessionID)
}

// Restore replays a past snapshot from the edit history onto the session
func (s *Service) Restore(ctx context.Context, sessionID, userID, editID uuid.UUID, version int) (*PhotoSession, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}

	entry, err := s.repo.GetEdit(ctx, editID)
	if err != nil {
		return nil, err
	}
	if entry.SessionID != sessionID {
		return nil, ErrEditNotFound
	}

	before := *sess
	sess.Version = version
	if err := applySnapshot(sess, entry.Snapshot); err != nil {
		return nil, ErrEditNotFound
	}

	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.recordEdit(ctx, sess, userID, EditActionRestore, diffSessions(&before, sess))
	return sess, nil
}

// Duplicate copies a session (and its slots) into a new unpublished session
func (s *Service) Duplicate(ctx context.Context, sessionID, userID uuid.UUID) (*PhotoSession, error) {
	src, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !src.CanBeEditedBy(userID) {
		return nil, ErrNotSessionOwner
	}

	now := time.Now()
	dup := *src
	dup.ID = uuid.New()
	dup.Published = false
	dup.Version = 1
	dup.CreatedAt = now
	dup.UpdatedAt = now

	if err := s.repo.Create(ctx, &dup); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListSlots(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		copySlot := *slot
		copySlot.ID = uuid.New()
		copySlot.SessionID = dup.ID
		copySlot.BookedCount = 0
		copySlot.DrawnAt = sql.NullTime{}
		copySlot.DrawSeed = sql.NullInt64{}
		copySlot.CreatedAt = now
		copySlot.UpdatedAt = now
		if err := s.repo.AddSlot(ctx, &copySlot); err != nil {
			return nil, err
		}
	}

	s.recordEdit(ctx, &dup, userID, EditActionDuplicate, nil)
	return &dup, nil
}

// List returns sessions with filters
func (s *Service) List(ctx context.Context, filter *Filter, pagination *Pagination) ([]*PhotoSession, int, error) {
	return s.repo.List(ctx, filter, pagination)
}

// recordEdit appends to the history log; a failed append is logged but does
// not fail the user-facing operation.
func (s *Service) recordEdit(ctx context.Context, sess *PhotoSession, editorID uuid.UUID, action EditAction, changes []byte) {
	entry := &EditEntry{
		ID:        uuid.New(),
		SessionID: sess.ID,
		EditorID:  editorID,
		Action:    action,
		Changes:   changes,
		Snapshot:  marshalSnapshot(sess),
		CreatedAt: time.Now(),
	}
	if err := s.repo.AppendEdit(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("action", string(action)).
			Msg("failed to append session edit entry")
	}
}
