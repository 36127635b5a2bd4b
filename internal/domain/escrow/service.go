package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
)

// Gateway is the payment gateway surface the controller needs. Satisfied by
// paygate.Client.
type Gateway interface {
	Authorize(ctx context.Context, req paygate.AuthorizeRequest) (*paygate.Intent, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) (*paygate.Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*paygate.Intent, error)
	Retrieve(ctx context.Context, intentID string) (*paygate.Intent, error)
}

// Notifier pushes escrow state changes to the paying user
type Notifier interface {
	EscrowEvent(ctx context.Context, userID, escrowID uuid.UUID, state string)
}

// Config carries settlement timing knobs
type Config struct {
	// SettleDeadline is how long after capture funds auto-release to the
	// payee absent a dispute
	SettleDeadline time.Duration
	// ReconcileGrace is how long an authorized escrow may sit before the
	// reconciler questions the gateway about it
	ReconcileGrace time.Duration
}

// Service implements the escrow payment controller
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier Notifier
	cfg      Config

	now func() time.Time
}

// NewService creates escrow service
func NewService(repo Repository, gateway Gateway, cfg Config) *Service {
	if cfg.SettleDeadline <= 0 {
		cfg.SettleDeadline = 72 * time.Hour
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = time.Hour
	}
	return &Service{repo: repo, gateway: gateway, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithNotifier attaches a push notifier. Without one state changes are
// silent, which is what the workers run with.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) notifyState(ctx context.Context, t *Transaction) {
	if s.notifier == nil || t == nil || !t.PayerID.Valid {
		return
	}
	s.notifier.EscrowEvent(ctx, t.PayerID.UUID, t.ID, string(t.State))
}

func (s *Service) entry(escrowID uuid.UUID, t EntryType, amount int64, actor, note string) *LedgerEntry {
	e := &LedgerEntry{
		ID:        uuid.New(),
		EscrowID:  escrowID,
		Type:      t,
		Amount:    amount,
		Actor:     actor,
		CreatedAt: s.now(),
	}
	if note != "" {
		e.Note = sql.NullString{String: note, Valid: true}
	}
	return e
}

// AuthorizeForBooking places a gateway hold and opens the escrow. The
// booking ID doubles as the idempotency scope.
func (s *Service) AuthorizeForBooking(ctx context.Context, bookingID uuid.UUID, payerID uuid.NullUUID, amount int64, currency, instrument string) error {
	if amount <= 0 {
		return ErrAmountInvalid
	}

	if existing, err := s.repo.GetByBookingID(ctx, bookingID); err == nil {
		if existing.State == StateAuthorized || existing.State == StateCaptured {
			return nil
		}
		return ErrEscrowExists
	}

	intent, err := s.gateway.Authorize(ctx, paygate.AuthorizeRequest{
		Amount:         amount,
		Currency:       currency,
		Instrument:     instrument,
		OrderID:        bookingID.String(),
		IdempotencyKey: "auth:" + bookingID.String(),
	})
	if err != nil {
		return err
	}

	now := s.now()
	t := &Transaction{
		ID:        uuid.New(),
		BookingID: bookingID,
		PayerID:   payerID,
		Amount:    amount,
		Currency:  currency,
		State:     StateAuthorized,
		IntentID:  intent.IntentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.repo.Create(ctx, t, s.entry(t.ID, EntryAuthorize, amount, actorOf(payerID), ""))
}

func actorOf(payerID uuid.NullUUID) string {
	if payerID.Valid {
		return payerID.UUID.String()
	}
	return "guest"
}

// Capture settles the authorized hold into escrow custody. Repeated calls
// are no-ops once captured.
func (s *Service) Capture(ctx context.Context, escrowID uuid.UUID, actor string) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if t.State == StateCaptured {
		return t, nil
	}
	if t.State != StateAuthorized {
		return nil, ErrInvalidTransition
	}

	if _, err := s.gateway.Capture(ctx, t.IntentID, "cap:"+escrowID.String()); err != nil {
		return nil, err
	}

	now := s.now()
	capturedAt := sql.NullTime{Time: now, Valid: true}
	deadline := sql.NullTime{Time: now.Add(s.cfg.SettleDeadline), Valid: true}
	ok, err := s.repo.Transition(ctx, escrowID,
		[]State{StateAuthorized}, StateCaptured, 0, capturedAt, deadline,
		s.entry(escrowID, EntryCapture, t.Amount, actor, ""))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Raced with another capture; the gateway call was idempotent
		log.Warn().Str("escrow_id", escrowID.String()).Msg("concurrent capture detected, treating as no-op")
	}
	updated, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.notifyState(ctx, updated)
	}
	return updated, nil
}

// Release pays the held amount out to the payee. Legal from captured, or
// from disputed when a resolution says so.
func (s *Service) Release(ctx context.Context, escrowID uuid.UUID, from []State, entryType EntryType, actor, note string) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	to := StateReleasedToPayee
	if entryType == EntryAutoSettle {
		to = StateAutoSettled
	}

	ok, err := s.repo.Transition(ctx, escrowID, from, to, 0,
		sql.NullTime{}, sql.NullTime{},
		s.entry(escrowID, entryType, t.Amount, actor, note))
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.repo.GetByID(ctx, escrowID)
		if err != nil {
			return nil, err
		}
		if current.State.Settled() {
			// Double settlement attempt: deliberate no-op
			log.Warn().
				Str("escrow_id", escrowID.String()).
				Str("state", string(current.State)).
				Msg("double settlement attempt ignored")
			return current, ErrAlreadySettled
		}
		return nil, ErrInvalidTransition
	}
	updated, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	s.notifyState(ctx, updated)
	return updated, nil
}

// Refund returns funds to the payer. A partial refund releases the
// remainder to the payee in the same transition, so refund + release always
// equals the captured amount.
func (s *Service) Refund(ctx context.Context, escrowID uuid.UUID, from []State, amount int64, actor, note string) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrAmountInvalid
	}
	if amount > t.Amount-t.RefundedAmount {
		return nil, ErrRefundExceedsHeld
	}

	if _, err := s.gateway.Refund(ctx, t.IntentID, amount, fmt.Sprintf("ref:%s:%d", escrowID, amount)); err != nil {
		return nil, err
	}

	remainder := t.Amount - t.RefundedAmount - amount
	to := StateRefunded
	entryType := EntryRefund
	entries := []*LedgerEntry{s.entry(escrowID, entryType, amount, actor, note)}
	if remainder > 0 {
		to = StatePartiallyRefunded
		entries[0].Type = EntryPartialRefund
		entries = append(entries, s.entry(escrowID, EntryRelease, remainder, actor, "remainder released to payee"))
	}

	ok, err := s.repo.Transition(ctx, escrowID, from, to, amount,
		sql.NullTime{}, sql.NullTime{}, entries...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	updated, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	s.notifyState(ctx, updated)
	return updated, nil
}

// VoidForBooking unwinds the escrow when its booking dies. Authorized holds
// are reversed, captured funds refunded in full. Settled or disputed
// escrows are left alone.
func (s *Service) VoidForBooking(ctx context.Context, bookingID uuid.UUID) error {
	t, err := s.repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		if err == ErrEscrowNotFound {
			return nil
		}
		return err
	}

	switch t.State {
	case StateAuthorized:
		if _, err := s.gateway.Refund(ctx, t.IntentID, t.Amount, "void:"+t.ID.String()); err != nil {
			return err
		}
		ok, err := s.repo.Transition(ctx, t.ID, []State{StateAuthorized}, StateRefunded, t.Amount,
			sql.NullTime{}, sql.NullTime{},
			s.entry(t.ID, EntryRefund, t.Amount, "system", "booking cancelled"))
		if err == nil && ok {
			t.State = StateRefunded
			s.notifyState(ctx, t)
		}
		return err
	case StateCaptured:
		_, err = s.Refund(ctx, t.ID, []State{StateCaptured}, t.Amount-t.RefundedAmount, "system", "booking cancelled")
		return err
	default:
		log.Warn().
			Str("escrow_id", t.ID.String()).
			Str("state", string(t.State)).
			Msg("skipping void for escrow not in a refundable state")
		return nil
	}
}

// MarkDisputed freezes a captured escrow for dispute review. The
// conditional transition is what makes an hour-71 dispute beat a
// concurrent settlement sweep.
func (s *Service) MarkDisputed(ctx context.Context, escrowID uuid.UUID, actor string) (*Transaction, error) {
	ok, err := s.repo.Transition(ctx, escrowID, []State{StateCaptured}, StateDisputed, 0,
		sql.NullTime{}, sql.NullTime{},
		s.entry(escrowID, EntryDisputeHold, 0, actor, ""))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCaptured
	}
	updated, err := s.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	s.notifyState(ctx, updated)
	return updated, nil
}

// GetByBookingID returns the escrow for a booking
func (s *Service) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Transaction, error) {
	return s.repo.GetByBookingID(ctx, bookingID)
}

// GetByID returns one escrow transaction
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

// Ledger returns the append-only movement history of an escrow
func (s *Service) Ledger(ctx context.Context, escrowID uuid.UUID) ([]*LedgerEntry, error) {
	return s.repo.Ledger(ctx, escrowID)
}

// RunAutoSettlement releases every captured escrow past its deadline. The
// per-row conditional transition makes repeated and concurrent runs release
// each escrow at most once; rows that flipped to disputed in the meantime
// simply do not match.
func (s *Service) RunAutoSettlement(ctx context.Context, now time.Time, batchSize int) (int, error) {
	due, err := s.repo.ListDueForSettlement(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, t := range due {
		ok, err := s.repo.Transition(ctx, t.ID, []State{StateCaptured}, StateAutoSettled, 0,
			sql.NullTime{}, sql.NullTime{},
			s.entry(t.ID, EntryAutoSettle, t.Amount, "system", "settlement deadline reached"))
		if err != nil {
			log.Error().Err(err).Str("escrow_id", t.ID.String()).Msg("auto-settlement transition failed")
			continue
		}
		if !ok {
			log.Warn().Str("escrow_id", t.ID.String()).Msg("escrow left captured state before sweep, skipping")
			continue
		}
		released++
		t.State = StateAutoSettled
		s.notifyState(ctx, t)
		log.Info().
			Str("escrow_id", t.ID.String()).
			Str("booking_id", t.BookingID.String()).
			Int64("amount", t.Amount).
			Msg("escrow auto-settled to payee")
	}
	return released, nil
}

// Reconcile cross-checks escrows stuck in authorized against the gateway's
// record and converges local state. Divergence it cannot interpret is left
// for a human.
func (s *Service) Reconcile(ctx context.Context, now time.Time, batchSize int) error {
	stuck, err := s.repo.ListStuckAuthorized(ctx, now.Add(-s.cfg.ReconcileGrace), batchSize)
	if err != nil {
		return err
	}

	for _, t := range stuck {
		intent, err := s.gateway.Retrieve(ctx, t.IntentID)
		if err != nil {
			log.Warn().Err(err).Str("escrow_id", t.ID.String()).Msg("reconcile: gateway lookup failed")
			continue
		}

		switch intent.Status {
		case paygate.StatusAuthorized:
			// Still held at the gateway, nothing to converge
		case paygate.StatusCaptured:
			capturedAt := sql.NullTime{Time: now, Valid: true}
			deadline := sql.NullTime{Time: now.Add(s.cfg.SettleDeadline), Valid: true}
			if _, err := s.repo.Transition(ctx, t.ID, []State{StateAuthorized}, StateCaptured, 0,
				capturedAt, deadline,
				s.entry(t.ID, EntryReconcile, t.Amount, "system", "gateway reported captured")); err != nil {
				log.Error().Err(err).Str("escrow_id", t.ID.String()).Msg("reconcile: capture convergence failed")
			}
		case paygate.StatusDeclined, paygate.StatusCancelled, paygate.StatusRefunded:
			if _, err := s.repo.Transition(ctx, t.ID, []State{StateAuthorized}, StateFailed, 0,
				sql.NullTime{}, sql.NullTime{},
				s.entry(t.ID, EntryReconcile, 0, "system", "gateway reported "+intent.Status)); err != nil {
				log.Error().Err(err).Str("escrow_id", t.ID.String()).Msg("reconcile: failure convergence failed")
			}
		default:
			log.Error().
				Str("escrow_id", t.ID.String()).
				Str("gateway_status", intent.Status).
				Msg("reconcile: unrecognized gateway state, manual intervention required")
		}
	}
	return nil
}
