package dispute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/domain/escrow"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
)

// EscrowOps is the slice of the escrow controller the resolver drives.
// Satisfied by escrow.Service.
type EscrowOps interface {
	GetByID(ctx context.Context, id uuid.UUID) (*escrow.Transaction, error)
	MarkDisputed(ctx context.Context, escrowID uuid.UUID, actor string) (*escrow.Transaction, error)
	Release(ctx context.Context, escrowID uuid.UUID, from []escrow.State, entryType escrow.EntryType, actor, note string) (*escrow.Transaction, error)
	Refund(ctx context.Context, escrowID uuid.UUID, from []escrow.State, amount int64, actor, note string) (*escrow.Transaction, error)
}

// EvidenceStore presigns uploads to external object storage and answers
// whether a presigned object was actually uploaded
type EvidenceStore interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetURL(key string) string
}

// Notifier pushes dispute lifecycle changes to the affected user
type Notifier interface {
	DisputeEvent(ctx context.Context, userID, disputeID uuid.UUID, resolution string)
}

// Service implements the dispute and auto-settlement resolver
type Service struct {
	repo     Repository
	escrow   EscrowOps
	evidence EvidenceStore
	notifier Notifier

	now func() time.Time
}

// NewService creates dispute service
func NewService(repo Repository, escrowOps EscrowOps, evidence EvidenceStore) *Service {
	return &Service{repo: repo, escrow: escrowOps, evidence: evidence, now: time.Now}
}

// WithClock overrides the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithNotifier attaches a push notifier
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Raise opens a dispute on a captured escrow. The escrow is frozen by a
// conditional state transition, so a dispute racing the settlement sweep
// wins if and only if its transition commits first.
func (s *Service) Raise(ctx context.Context, escrowID, userID uuid.UUID, actorRole user.Role, req *RaiseDisputeRequest) (*Dispute, error) {
	t, err := s.escrow.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if actorRole != user.RoleAdmin {
		if !t.PayerID.Valid || t.PayerID.UUID != userID {
			return nil, ErrNotDisputeParty
		}
	}

	// The partial unique index catches this too, but checking first gives
	// a clean conflict without touching the escrow state
	if _, err := s.repo.GetOpenByEscrow(ctx, escrowID); err == nil {
		return nil, ErrAlreadyDisputed
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	now := s.now()
	switch {
	case t.State == escrow.StateDisputed:
		return nil, ErrAlreadyDisputed
	case t.State.Settled():
		return nil, ErrDisputeAfterDeadline
	case t.State != escrow.StateCaptured:
		return nil, ErrEscrowNotCaptured
	case t.SettleDeadline.Valid && !now.Before(t.SettleDeadline.Time):
		return nil, ErrDisputeAfterDeadline
	}

	if _, err := s.escrow.MarkDisputed(ctx, escrowID, userID.String()); err != nil {
		if err == escrow.ErrNotCaptured {
			// Lost the race to the sweep
			return nil, ErrDisputeAfterDeadline
		}
		return nil, err
	}

	d := &Dispute{
		ID:         uuid.New(),
		EscrowID:   escrowID,
		RaisedBy:   userID,
		Reason:     Reason(req.Reason),
		Resolution: ResolutionNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Details != "" {
		d.Details = sql.NullString{String: req.Details, Valid: true}
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", d.ID.String()).
		Str("escrow_id", escrowID.String()).
		Str("reason", string(d.Reason)).
		Msg("dispute raised, escrow frozen")

	if s.notifier != nil && t.PayerID.Valid {
		s.notifier.DisputeEvent(ctx, t.PayerID.UUID, d.ID, string(ResolutionNone))
	}
	return d, nil
}

// GetByID returns a dispute visible to the actor
func (s *Service) GetByID(ctx context.Context, id, actorID uuid.UUID, actorRole user.Role) (*Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorRole != user.RoleAdmin && d.RaisedBy != actorID {
		return nil, ErrNotDisputeParty
	}
	return d, nil
}

// ListOpen returns open disputes for admin review
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListOpen(ctx, limit)
}

// Resolve applies an admin verdict to an open dispute. The escrow operation
// runs first; a gateway failure surfaces to the caller and leaves the
// dispute open for a retry by hand.
func (s *Service) Resolve(ctx context.Context, id, adminID uuid.UUID, req *ResolveDisputeRequest) (*Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Open() {
		return nil, ErrAlreadyResolved
	}

	resolution := Resolution(req.Resolution)
	fromDisputed := []escrow.State{escrow.StateDisputed}
	var refundAmount sql.NullInt64

	// A refund verdict that cites evidence needs the object to actually be
	// there; a presigned key with nothing behind it is a failed upload
	if d.EvidenceKey.Valid && (resolution == ResolutionFullRefund || resolution == ResolutionPartialRefund) {
		uploaded, err := s.evidence.Exists(ctx, d.EvidenceKey.String)
		if err != nil {
			return nil, err
		}
		if !uploaded {
			return nil, ErrEvidenceMissing
		}
	}

	switch resolution {
	case ResolutionFullRefund:
		t, err := s.escrow.GetByID(ctx, d.EscrowID)
		if err != nil {
			return nil, err
		}
		remaining := t.Amount - t.RefundedAmount
		if _, err := s.escrow.Refund(ctx, d.EscrowID, fromDisputed, remaining, adminID.String(), req.Note); err != nil {
			return nil, err
		}
		refundAmount = sql.NullInt64{Int64: remaining, Valid: true}

	case ResolutionPartialRefund:
		if req.RefundAmount == nil || *req.RefundAmount <= 0 {
			return nil, ErrRefundAmountRequired
		}
		if _, err := s.escrow.Refund(ctx, d.EscrowID, fromDisputed, *req.RefundAmount, adminID.String(), req.Note); err != nil {
			return nil, err
		}
		refundAmount = sql.NullInt64{Int64: *req.RefundAmount, Valid: true}

	case ResolutionReleaseToPayee:
		if _, err := s.escrow.Release(ctx, d.EscrowID, fromDisputed, escrow.EntryRelease, adminID.String(), req.Note); err != nil {
			return nil, err
		}

	default:
		return nil, ErrInvalidResolution
	}

	now := s.now()
	ok, err := s.repo.Resolve(ctx, id, resolution, adminID, refundAmount, req.Note, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Funds already moved under this verdict; the record raced another
		// resolver and must not be rolled back
		log.Error().
			Str("dispute_id", id.String()).
			Msg("dispute verdict applied to escrow but record was resolved concurrently")
		return nil, ErrAlreadyResolved
	}

	log.Info().
		Str("dispute_id", id.String()).
		Str("escrow_id", d.EscrowID.String()).
		Str("resolution", string(resolution)).
		Msg("dispute resolved")

	if s.notifier != nil {
		s.notifier.DisputeEvent(ctx, d.RaisedBy, d.ID, string(resolution))
	}
	return s.repo.GetByID(ctx, id)
}

// EvidenceURL resolves the download URL for a dispute's uploaded evidence,
// empty when none was attached.
func (s *Service) EvidenceURL(d *Dispute) string {
	if !d.EvidenceKey.Valid {
		return ""
	}
	return s.evidence.GetURL(d.EvidenceKey.String)
}

// PresignEvidence returns a one-time upload URL for dispute evidence and
// records the object key on the dispute.
func (s *Service) PresignEvidence(ctx context.Context, id, actorID uuid.UUID, actorRole user.Role, contentType string) (string, string, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	if actorRole != user.RoleAdmin && d.RaisedBy != actorID {
		return "", "", ErrNotDisputeParty
	}
	if !d.Open() {
		return "", "", ErrAlreadyResolved
	}

	key := fmt.Sprintf("disputes/%s/%s", d.ID, uuid.New())
	url, err := s.evidence.PresignPut(ctx, key, contentType, 15*time.Minute)
	if err != nil {
		return "", "", err
	}
	if err := s.repo.SetEvidenceKey(ctx, id, key); err != nil {
		return "", "", err
	}
	return url, key, nil
}
