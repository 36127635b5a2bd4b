package dispute

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository persists disputes
type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error)
	GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]*Dispute, error)

	// Resolve records the verdict with an optimistic open check; returns
	// false when another resolver got there first.
	Resolve(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy uuid.UUID, refundAmount sql.NullInt64, note string, now time.Time) (bool, error)

	SetEvidenceKey(ctx context.Context, id uuid.UUID, key string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates dispute repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const disputeColumns = `id, escrow_id, raised_by, reason, details, evidence_key,
	resolution, resolved_by, resolution_note, refund_amount, resolved_at,
	created_at, updated_at`

func (r *repository) Create(ctx context.Context, d *Dispute) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, escrow_id, raised_by, reason, details, evidence_key,
			resolution, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		d.ID, d.EscrowID, d.RaisedBy, d.Reason, d.Details, d.EvidenceKey,
		d.Resolution, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyDisputed
		}
		return err
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	var d Dispute
	err := r.db.GetContext(ctx, &d, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*Dispute, error) {
	var d Dispute
	err := r.db.GetContext(ctx, &d, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE escrow_id = $1 AND resolution = $2
	`, escrowID, ResolutionNone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	var out []*Dispute
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE resolution = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, ResolutionNone, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) Resolve(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy uuid.UUID, refundAmount sql.NullInt64, note string, now time.Time) (bool, error) {
	var noteArg interface{}
	if note != "" {
		noteArg = note
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes
		SET resolution = $1, resolved_by = $2, refund_amount = $3,
		    resolution_note = $4, resolved_at = $5, updated_at = now()
		WHERE id = $6 AND resolution = $7
	`, resolution, resolvedBy, refundAmount, noteArg, now, id, ResolutionNone)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) SetEvidenceKey(ctx context.Context, id uuid.UUID, key string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET evidence_key = $1, updated_at = now()
		WHERE id = $2 AND resolution = $3
	`, key, id, ResolutionNone)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}
