package session

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EditAction identifies what kind of change produced a history entry
type EditAction string

const (
	EditActionCreate    EditAction = "create"
	EditActionUpdate    EditAction = "update"
	EditActionDuplicate EditAction = "duplicate"
	EditActionRestore   EditAction = "restore"
)

// FieldChange holds the before/after values of one session field
type FieldChange struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// EditEntry is one record of the session's append-only change log
// (matches session_edits table). Snapshot holds the full post-change state
// so any version can be restored by replaying it.
type EditEntry struct {
	ID        uuid.UUID       `db:"id"`
	SessionID uuid.UUID       `db:"session_id"`
	EditorID  uuid.UUID       `db:"editor_id"`
	Action    EditAction      `db:"action"`
	Changes   json.RawMessage `db:"changes"`
	Snapshot  json.RawMessage `db:"snapshot"`
	CreatedAt time.Time       `db:"created_at"`
}

// snapshotState is the serializable subset of PhotoSession captured in
// snapshots. Slots are not part of a snapshot; restore never touches
// seat counts.
type snapshotState struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Address     string `json:"address,omitempty"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	Policy      string `json:"policy"`
	BasePrice   int64  `json:"base_price"`
	Currency    string `json:"currency"`
	CoverKey    string `json:"cover_key,omitempty"`
}

func snapshotOf(s *PhotoSession) snapshotState {
	snap := snapshotState{
		Title:       s.Title,
		Description: s.Description,
		Location:    s.Location,
		StartsAt:    s.StartsAt.Format(time.RFC3339),
		EndsAt:      s.EndsAt.Format(time.RFC3339),
		Policy:      string(s.Policy),
		BasePrice:   s.BasePrice,
		Currency:    s.Currency,
	}
	if s.Address.Valid {
		snap.Address = s.Address.String
	}
	if s.CoverKey.Valid {
		snap.CoverKey = s.CoverKey.String
	}
	return snap
}

// marshalSnapshot serializes the current session state for a history entry
func marshalSnapshot(s *PhotoSession) json.RawMessage {
	data, _ := json.Marshal(snapshotOf(s))
	return data
}

// diffSessions computes the field-level change map between two states
func diffSessions(before, after *PhotoSession) json.RawMessage {
	b := snapshotOf(before)
	a := snapshotOf(after)

	changes := map[string]FieldChange{}
	add := func(field string, bv, av interface{}) {
		if bv != av {
			changes[field] = FieldChange{Before: bv, After: av}
		}
	}

	add("title", b.Title, a.Title)
	add("description", b.Description, a.Description)
	add("location", b.Location, a.Location)
	add("address", b.Address, a.Address)
	add("starts_at", b.StartsAt, a.StartsAt)
	add("ends_at", b.EndsAt, a.EndsAt)
	add("policy", b.Policy, a.Policy)
	add("base_price", b.BasePrice, a.BasePrice)
	add("currency", b.Currency, a.Currency)
	add("cover_key", b.CoverKey, a.CoverKey)

	if len(changes) == 0 {
		return nil
	}
	data, _ := json.Marshal(changes)
	return data
}

// applySnapshot overwrites the mutable fields of a session from a stored
// snapshot. Returns an error only on malformed history data.
func applySnapshot(s *PhotoSession, raw json.RawMessage) error {
	var snap snapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	startsAt, err := time.Parse(time.RFC3339, snap.StartsAt)
	if err != nil {
		return err
	}
	endsAt, err := time.Parse(time.RFC3339, snap.EndsAt)
	if err != nil {
		return err
	}

	s.Title = snap.Title
	s.Description = snap.Description
	s.Location = snap.Location
	s.StartsAt = startsAt
	s.EndsAt = endsAt
	s.Policy = Policy(snap.Policy)
	s.BasePrice = snap.BasePrice
	s.Currency = snap.Currency
	s.Address = sql.NullString{String: snap.Address, Valid: snap.Address != ""}
	s.CoverKey = sql.NullString{String: snap.CoverKey, Valid: snap.CoverKey != ""}
	return nil
}
