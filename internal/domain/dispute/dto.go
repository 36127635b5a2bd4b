package dispute

import (
	"time"

	"github.com/google/uuid"
)

// RaiseDisputeRequest opens a dispute on a captured escrow
type RaiseDisputeRequest struct {
	Reason  string `json:"reason" validate:"required,dispute_reason"`
	Details string `json:"details" validate:"omitempty,max=5000"`
}

// ResolveDisputeRequest records the admin verdict
type ResolveDisputeRequest struct {
	Resolution   string `json:"resolution" validate:"required,oneof=full_refund partial_refund release_to_payee"`
	RefundAmount *int64 `json:"refund_amount" validate:"omitempty,gt=0"`
	Note         string `json:"note" validate:"omitempty,max=2000"`
}

// PresignEvidenceRequest asks for an evidence upload URL
type PresignEvidenceRequest struct {
	ContentType string `json:"content_type" validate:"required,max=100"`
}

// PresignEvidenceResponse carries the upload URL and the object key
type PresignEvidenceResponse struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
}

// DisputeResponse is the public dispute representation
type DisputeResponse struct {
	ID             uuid.UUID  `json:"id"`
	EscrowID       uuid.UUID  `json:"escrow_id"`
	RaisedBy       uuid.UUID  `json:"raised_by"`
	Reason         Reason     `json:"reason"`
	Details        string     `json:"details,omitempty"`
	EvidenceKey    string     `json:"evidence_key,omitempty"`
	EvidenceURL    string     `json:"evidence_url,omitempty"`
	Resolution     Resolution `json:"resolution"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	RefundAmount   *int64     `json:"refund_amount,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toDisputeResponse(d *Dispute, evidenceURL string) *DisputeResponse {
	resp := &DisputeResponse{
		ID:         d.ID,
		EscrowID:   d.EscrowID,
		RaisedBy:   d.RaisedBy,
		Reason:     d.Reason,
		Resolution: d.Resolution,
		CreatedAt:  d.CreatedAt,
	}
	if d.Details.Valid {
		resp.Details = d.Details.String
	}
	if d.EvidenceKey.Valid {
		resp.EvidenceKey = d.EvidenceKey.String
		resp.EvidenceURL = evidenceURL
	}
	if d.ResolvedBy.Valid {
		resp.ResolvedBy = &d.ResolvedBy.UUID
	}
	if d.ResolutionNote.Valid {
		resp.ResolutionNote = d.ResolutionNote.String
	}
	if d.RefundAmount.Valid {
		resp.RefundAmount = &d.RefundAmount.Int64
	}
	if d.ResolvedAt.Valid {
		resp.ResolvedAt = &d.ResolvedAt.Time
	}
	return resp
}
