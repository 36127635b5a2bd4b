package dispute

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Reason categorizes why a participant disputes a captured payment
type Reason string

const (
	ReasonNoShow             Reason = "no_show"
	ReasonQualityIssue       Reason = "quality_issue"
	ReasonIncompleteDelivery Reason = "incomplete_delivery"
	ReasonWrongItem          Reason = "wrong_item"
	ReasonOther              Reason = "other"
)

// Resolution is the admin's verdict. A dispute is terminal once any
// resolution other than ResolutionNone is recorded.
type Resolution string

const (
	ResolutionNone           Resolution = "none"
	ResolutionFullRefund     Resolution = "full_refund"
	ResolutionPartialRefund  Resolution = "partial_refund"
	ResolutionReleaseToPayee Resolution = "release_to_payee"
)

// Dispute represents a contested escrow
type Dispute struct {
	ID       uuid.UUID `db:"id"`
	EscrowID uuid.UUID `db:"escrow_id"`
	RaisedBy uuid.UUID `db:"raised_by"`

	Reason  Reason         `db:"reason"`
	Details sql.NullString `db:"details"`

	// EvidenceKey points at the uploaded object in external storage
	EvidenceKey sql.NullString `db:"evidence_key"`

	Resolution     Resolution     `db:"resolution"`
	ResolvedBy     uuid.NullUUID  `db:"resolved_by"`
	ResolutionNote sql.NullString `db:"resolution_note"`
	RefundAmount   sql.NullInt64  `db:"refund_amount"`
	ResolvedAt     sql.NullTime   `db:"resolved_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Open reports whether the dispute still awaits a verdict
func (d *Dispute) Open() bool {
	return d.Resolution == ResolutionNone
}
