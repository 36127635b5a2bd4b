package escrow

import "errors"

var (
	ErrEscrowNotFound     = errors.New("escrow transaction not found")
	ErrInvalidTransition  = errors.New("illegal escrow state transition")
	ErrNotCaptured        = errors.New("escrow is not in captured state")
	ErrRefundExceedsHeld  = errors.New("refund amount exceeds captured amount")
	ErrAlreadySettled     = errors.New("escrow already settled")
	ErrAmountInvalid      = errors.New("escrow amount must be positive")
	ErrEscrowExists       = errors.New("booking already has an escrow transaction")
	ErrManualIntervention = errors.New("gateway state diverged, manual intervention required")
)
