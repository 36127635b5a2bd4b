package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

type fakeRepo struct {
	sessions map[uuid.UUID]*PhotoSession
	slots    map[uuid.UUID]*Slot
	edits    []*EditEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]*PhotoSession),
		slots:    make(map[uuid.UUID]*Slot),
	}
}

func (f *fakeRepo) Create(_ context.Context, s *PhotoSession) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*PhotoSession, error) {
	s, ok := f.sessions[id]
	if !ok || s.DeletedAt.Valid {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) Update(_ context.Context, s *PhotoSession) error {
	current, ok := f.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if current.Version != s.Version {
		return ErrVersionConflict
	}
	cp := *s
	cp.Version = s.Version + 1
	f.sessions[s.ID] = &cp
	s.Version = cp.Version
	return nil
}

func (f *fakeRepo) SetPublished(_ context.Context, id uuid.UUID, published bool) error {
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Published = published
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.DeletedAt.Time = time.Now()
	s.DeletedAt.Valid = true
	return nil
}

func (f *fakeRepo) List(_ context.Context, _ *Filter, _ *Pagination) ([]*PhotoSession, int, error) {
	out := make([]*PhotoSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeRepo) AddSlot(_ context.Context, slot *Slot) error {
	cp := *slot
	f.slots[slot.ID] = &cp
	return nil
}

func (f *fakeRepo) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) ListSlots(_ context.Context, sessionID uuid.UUID) ([]*Slot, error) {
	var out []*Slot
	for _, s := range f.slots {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountSlots(_ context.Context, sessionID uuid.UUID) (int, error) {
	slots, _ := f.ListSlots(context.Background(), sessionID)
	return len(slots), nil
}

func (f *fakeRepo) GetAvailability(_ context.Context, slotID uuid.UUID) (int, int, error) {
	s, ok := f.slots[slotID]
	if !ok {
		return 0, 0, ErrSlotNotFound
	}
	return s.MaxParticipants, s.BookedCount, nil
}

func (f *fakeRepo) AppendEdit(_ context.Context, entry *EditEntry) error {
	f.edits = append(f.edits, entry)
	return nil
}

func (f *fakeRepo) ListEdits(_ context.Context, sessionID uuid.UUID) ([]*EditEntry, error) {
	var out []*EditEntry
	for _, e := range f.edits {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetEdit(_ context.Context, id uuid.UUID) (*EditEntry, error) {
	for _, e := range f.edits {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrEditNotFound
}

type fakeUserRepo struct {
	users map[uuid.UUID]*user.User
}

func (f *fakeUserRepo) Create(_ context.Context, u *user.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (f *fakeUserRepo) UpdateRank(_ context.Context, id uuid.UUID, rank user.Rank) error {
	u, ok := f.users[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.Rank = rank
	return nil
}

func (f *fakeUserRepo) UpdateLastLogin(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func setupService(t *testing.T) (*Service, *fakeRepo, uuid.UUID) {
	t.Helper()
	repo := newFakeRepo()
	organizerID := uuid.New()
	users := &fakeUserRepo{users: map[uuid.UUID]*user.User{
		organizerID: {ID: organizerID, Email: "org@example.com", Role: user.RoleOrganizer, Rank: user.RankGeneral},
	}}
	return NewService(repo, users), repo, organizerID
}

func validCreateRequest() *CreateSessionRequest {
	start := time.Now().Add(48 * time.Hour)
	return &CreateSessionRequest{
		Title:     "Golden hour portraits",
		Location:  "Yoyogi Park",
		StartsAt:  start.Format(time.RFC3339),
		EndsAt:    start.Add(2 * time.Hour).Format(time.RFC3339),
		Policy:    string(PolicyFirstCome),
		BasePrice: 800000,
		Currency:  "JPY",
	}
}

func TestCreateSession(t *testing.T) {
	svc, repo, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("expected version 1, got %d", sess.Version)
	}
	if sess.Published {
		t.Error("new session must start unpublished")
	}
	if len(repo.edits) != 1 || repo.edits[0].Action != EditActionCreate {
		t.Errorf("expected one create edit entry, got %d", len(repo.edits))
	}
}

func TestCreateSessionInvalidTimeRange(t *testing.T) {
	svc, _, organizerID := setupService(t)

	req := validCreateRequest()
	req.StartsAt, req.EndsAt = req.EndsAt, req.StartsAt
	if _, err := svc.Create(context.Background(), organizerID, req); err != ErrInvalidTimeRange {
		t.Errorf("expected ErrInvalidTimeRange, got %v", err)
	}
}

func TestCreateSessionParticipantForbidden(t *testing.T) {
	svc, _, _ := setupService(t)

	participantID := uuid.New()
	svc.userRepo.(*fakeUserRepo).users[participantID] = &user.User{
		ID: participantID, Role: user.RoleParticipant, Rank: user.RankGeneral,
	}

	if _, err := svc.Create(context.Background(), participantID, validCreateRequest()); err != ErrNotSessionOwner {
		t.Errorf("expected ErrNotSessionOwner, got %v", err)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	svc, _, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	title := "Renamed"
	req := &UpdateSessionRequest{Version: sess.Version, Title: &title}
	if _, err := svc.Update(context.Background(), sess.ID, organizerID, req); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Same stale version again must be rejected
	if _, err := svc.Update(context.Background(), sess.ID, organizerID, req); err != ErrVersionConflict {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestUpdateByStrangerForbidden(t *testing.T) {
	svc, _, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	title := "Hijacked"
	req := &UpdateSessionRequest{Version: sess.Version, Title: &title}
	if _, err := svc.Update(context.Background(), sess.ID, uuid.New(), req); err != ErrNotSessionOwner {
		t.Errorf("expected ErrNotSessionOwner, got %v", err)
	}
}

func TestPublishRequiresSlot(t *testing.T) {
	svc, _, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Publish(context.Background(), sess.ID, organizerID); err != ErrPublishNeedsSlot {
		t.Fatalf("expected ErrPublishNeedsSlot, got %v", err)
	}

	start := sess.StartsAt
	_, err = svc.AddSlot(context.Background(), sess.ID, organizerID, &CreateSlotRequest{
		StartsAt:        start.Format(time.RFC3339),
		EndsAt:          start.Add(time.Hour).Format(time.RFC3339),
		MaxParticipants: 5,
	})
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}

	published, err := svc.Publish(context.Background(), sess.ID, organizerID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !published.Published {
		t.Error("session not marked published")
	}
}

func TestAddSlotRejectsZeroCapacity(t *testing.T) {
	svc, _, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.AddSlot(context.Background(), sess.ID, organizerID, &CreateSlotRequest{
		StartsAt:        sess.StartsAt.Format(time.RFC3339),
		EndsAt:          sess.EndsAt.Format(time.RFC3339),
		MaxParticipants: 0,
	})
	if err != ErrInvalidCapacity {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestRestoreFromHistory(t *testing.T) {
	svc, repo, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	originalTitle := sess.Title

	title := "Renamed shoot"
	updated, err := svc.Update(context.Background(), sess.ID, organizerID, &UpdateSessionRequest{
		Version: sess.Version,
		Title:   &title,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Restore the snapshot captured at creation
	createEdit := repo.edits[0]
	restored, err := svc.Restore(context.Background(), sess.ID, organizerID, createEdit.ID, updated.Version)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Title != originalTitle {
		t.Errorf("expected title %q after restore, got %q", originalTitle, restored.Title)
	}
	if len(repo.edits) != 3 {
		t.Errorf("expected 3 edit entries, got %d", len(repo.edits))
	}
	if repo.edits[2].Action != EditActionRestore {
		t.Errorf("expected restore action, got %s", repo.edits[2].Action)
	}
}

func TestDuplicateResetsState(t *testing.T) {
	svc, repo, organizerID := setupService(t)

	sess, err := svc.Create(context.Background(), organizerID, validCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	slot, err := svc.AddSlot(context.Background(), sess.ID, organizerID, &CreateSlotRequest{
		StartsAt:        sess.StartsAt.Format(time.RFC3339),
		EndsAt:          sess.EndsAt.Format(time.RFC3339),
		MaxParticipants: 3,
	})
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	repo.slots[slot.ID].BookedCount = 2

	if _, err := svc.Publish(context.Background(), sess.ID, organizerID); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	dup, err := svc.Duplicate(context.Background(), sess.ID, organizerID)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if dup.ID == sess.ID {
		t.Fatal("duplicate must get a new ID")
	}
	if dup.Published {
		t.Error("duplicate must start unpublished")
	}
	if dup.Version != 1 {
		t.Errorf("duplicate must start at version 1, got %d", dup.Version)
	}

	slots, _ := svc.ListSlots(context.Background(), dup.ID)
	if len(slots) != 1 {
		t.Fatalf("expected 1 copied slot, got %d", len(slots))
	}
	if slots[0].BookedCount != 0 {
		t.Errorf("copied slot must start empty, got booked_count=%d", slots[0].BookedCount)
	}
}
