package dispute

import "errors"

var (
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDisputeAfterDeadline = errors.New("dispute window has closed")
	ErrEscrowNotCaptured    = errors.New("escrow is not holding captured funds")
	ErrAlreadyDisputed      = errors.New("escrow already has an open dispute")
	ErrAlreadyResolved      = errors.New("dispute is already resolved")
	ErrNotDisputeParty      = errors.New("dispute belongs to another user")
	ErrInvalidResolution    = errors.New("invalid dispute resolution")
	ErrRefundAmountRequired = errors.New("partial refund requires a refund amount")
	ErrEvidenceMissing      = errors.New("dispute evidence was never uploaded")
)
