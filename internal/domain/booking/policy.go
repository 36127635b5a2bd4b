package booking

import (
	"time"

	"github.com/shutterhub/shutterhub-api/internal/domain/session"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

// checkEntryWindow validates the global entry window of a slot at now.
// A missing bound leaves that side open.
func checkEntryWindow(slot *session.Slot, now time.Time) error {
	if slot.EntryOpensAt.Valid && now.Before(slot.EntryOpensAt.Time) {
		return ErrWindowNotOpen
	}
	if slot.EntryClosesAt.Valid && !now.Before(slot.EntryClosesAt.Time) {
		return ErrWindowClosed
	}
	return nil
}

// checkTierWindow validates the rank-specific opening for priority slots.
// Windows may overlap; a tier's window never closes early, so eligibility
// only ever grows as time passes. Requests before the caller's tier opens
// are rejected outright, never queued.
func checkTierWindow(slot *session.Slot, rank user.Rank, now time.Time) error {
	opensAt, ok := slot.TierOpensAt(rank.TierLevel())
	if !ok {
		// No window configured for this tier: fall back to the global
		// entry window only.
		return nil
	}
	if now.Before(opensAt) {
		return ErrTierNotEligible
	}
	return nil
}

// drawAllowed reports whether the lottery for a slot may be drawn at now.
// Draws require a configured, already closed entry window so late entries
// cannot change an announced result.
func drawAllowed(slot *session.Slot, now time.Time) error {
	if slot.DrawnAt.Valid {
		return ErrDrawAlreadyDone
	}
	if !slot.EntryClosesAt.Valid || now.Before(slot.EntryClosesAt.Time) {
		return ErrDrawBeforeClose
	}
	return nil
}
