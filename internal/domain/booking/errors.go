package booking

import "errors"

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrNotBookingOwner   = errors.New("booking belongs to another user")
	ErrAlreadyBooked     = errors.New("user already has an active booking for this slot")
	ErrSlotFull          = errors.New("slot has no remaining seats")
	ErrNotPublished      = errors.New("session is not published")
	ErrWrongPolicy       = errors.New("operation not allowed under this booking policy")
	ErrWindowNotOpen     = errors.New("entry window has not opened yet")
	ErrWindowClosed      = errors.New("entry window has closed")
	ErrTierNotEligible   = errors.New("rank tier window has not opened yet")
	ErrDrawAlreadyDone   = errors.New("lottery draw already performed")
	ErrDrawBeforeClose   = errors.New("lottery draw requires a closed entry window")
	ErrNotLotteryEntry   = errors.New("booking is not a lottery entry")
	ErrNoOffer           = errors.New("booking has no open waitlist offer")
	ErrOfferExpired      = errors.New("waitlist offer has expired")
	ErrCancelCutoff      = errors.New("cancellation window has closed")
	ErrNotCancellable    = errors.New("booking cannot be cancelled in its current state")
	ErrPaymentDeclined   = errors.New("payment was declined")
	ErrCapacityExceeded  = errors.New("slot counter exceeds capacity")
	ErrInstrumentMissing = errors.New("payment instrument is required")
)
