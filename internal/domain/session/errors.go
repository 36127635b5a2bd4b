package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrNotSessionOwner   = errors.New("you can only edit your own sessions")
	ErrInvalidTimeRange  = errors.New("start time must be before end time")
	ErrInvalidCapacity   = errors.New("max participants must be positive")
	ErrPublishNeedsSlot  = errors.New("session needs at least one slot to be published")
	ErrVersionConflict   = errors.New("session was modified concurrently, reload and retry")
	ErrSessionHasBookings = errors.New("session has active bookings and cannot be deleted")
	ErrEditNotFound      = errors.New("edit history entry not found")
)
