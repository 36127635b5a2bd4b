package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/domain/notify"
	"github.com/shutterhub/shutterhub-api/internal/domain/session"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
)

// SessionStore is the slice of the session repository the allocator needs
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*session.PhotoSession, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*session.Slot, error)
}

// EscrowService holds and releases funds for bookings
type EscrowService interface {
	// AuthorizeForBooking places a hold for the booking amount. A declined
	// instrument surfaces as paygate.ErrDeclined.
	AuthorizeForBooking(ctx context.Context, bookingID uuid.UUID, payerID uuid.NullUUID, amount int64, currency, instrument string) error

	// VoidForBooking returns held or captured funds when a booking dies.
	// Bookings without an escrow (never confirmed) are a no-op.
	VoidForBooking(ctx context.Context, bookingID uuid.UUID) error
}

// Notifier pushes booking events to connected clients
type Notifier interface {
	BookingEvent(ctx context.Context, userID uuid.UUID, event string, bookingID uuid.UUID)
}

// Config carries allocator timing knobs
type Config struct {
	// OfferTTL is how long a promoted waitlist entry may accept its seat
	OfferTTL time.Duration
	// CancelCutoff is the minimum lead time before slot start for
	// cancelling a confirmed booking
	CancelCutoff time.Duration
}

// Service implements the booking allocator
type Service struct {
	repo     Repository
	sessions SessionStore
	users    user.Repository
	escrow   EscrowService
	notifier Notifier
	guard    drawGuard
	cfg      Config

	// now is swappable for tests and worker sweeps
	now func() time.Time
}

// NewService creates booking service
func NewService(repo Repository, sessions SessionStore, users user.Repository, escrow EscrowService, notifier Notifier, redisClient *redis.Client, cfg Config) *Service {
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 24 * time.Hour
	}
	if cfg.CancelCutoff <= 0 {
		cfg.CancelCutoff = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		users:    users,
		escrow:   escrow,
		notifier: notifier,
		guard:    drawGuard{client: redisClient},
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests and the sweep worker use it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) loadSlot(ctx context.Context, slotID uuid.UUID) (*session.Slot, *session.PhotoSession, error) {
	slot, err := s.sessions.GetSlot(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessions.GetByID(ctx, slot.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return slot, sess, nil
}

// Request asks for a seat in a slot under the session's booking policy
func (s *Service) Request(ctx context.Context, slotID, userID uuid.UUID, req *CreateBookingRequest) (*Booking, error) {
	slot, sess, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !sess.Published {
		return nil, ErrNotPublished
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	taken, err := s.repo.HasActiveBooking(ctx, slotID, userID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrAlreadyBooked
	}

	now := s.now()
	if err := checkEntryWindow(slot, now); err != nil {
		return nil, err
	}

	b := &Booking{
		ID:           uuid.New(),
		SlotID:       slotID,
		UserID:       uuid.NullUUID{UUID: userID, Valid: true},
		RankSnapshot: u.Rank,
		EnteredAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Instrument != "" {
		b.Instrument = sql.NullString{String: req.Instrument, Valid: true}
	}

	switch sess.Policy {
	case session.PolicyFirstCome:
		return s.requestSeat(ctx, b, slot, sess, req.JoinWaitlist, ReasonFirstCome)

	case session.PolicyPriority:
		if err := checkTierWindow(slot, u.Rank, now); err != nil {
			return nil, err
		}
		return s.requestSeat(ctx, b, slot, sess, req.JoinWaitlist, ReasonPriorityWindow)

	case session.PolicyWaitlist:
		// Seats go first come; a full slot queues instead of rejecting
		return s.requestSeat(ctx, b, slot, sess, true, ReasonFirstCome)

	case session.PolicyLottery, session.PolicyAdminLottery:
		if slot.DrawnAt.Valid {
			return nil, ErrWindowClosed
		}
		if !b.Instrument.Valid && s.escrow != nil {
			return nil, ErrInstrumentMissing
		}
		b.Status = StatusPending
		if err := s.repo.CreateEntry(ctx, b); err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, ErrWrongPolicy
	}
}

// requestSeat runs first-come semantics: take a seat or, when allowed, join
// the waitlist.
func (s *Service) requestSeat(ctx context.Context, b *Booking, slot *session.Slot, sess *session.PhotoSession, joinWaitlist bool, reason SelectionReason) (*Booking, error) {
	if !b.Instrument.Valid && s.escrow != nil {
		return nil, ErrInstrumentMissing
	}

	b.Status = StatusConfirmed
	b.SelectionReason = sql.NullString{String: string(reason), Valid: true}

	err := s.repo.CreateConfirmed(ctx, b)
	if errors.Is(err, ErrSlotFull) {
		if !joinWaitlist {
			return nil, ErrSlotFull
		}
		return s.joinWaitlist(ctx, b)
	}
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, b, slot, sess); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) joinWaitlist(ctx context.Context, b *Booking) (*Booking, error) {
	pos, err := s.repo.NextWaitlistPosition(ctx, b.SlotID)
	if err != nil {
		return nil, err
	}
	b.Status = StatusWaitlisted
	b.SelectionReason = sql.NullString{}
	b.WaitlistPosition = sql.NullInt64{Int64: pos, Valid: true}
	if err := s.repo.CreateEntry(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// authorize places the escrow hold for a freshly confirmed booking. A
// declined payment is compensated by rejecting the booking and passing its
// seat on to the waitlist head, then surfaced to the caller.
func (s *Service) authorize(ctx context.Context, b *Booking, slot *session.Slot, sess *session.PhotoSession) error {
	if s.escrow == nil {
		return nil
	}

	amount := slot.EffectivePrice(sess)
	err := s.escrow.AuthorizeForBooking(ctx, b.ID, b.UserID, amount, sess.Currency, b.Instrument.String)
	if err == nil {
		return nil
	}

	now := s.now()
	promoted, compErr := s.repo.ReleaseSeatToWaitlist(ctx, b.ID,
		[]Status{StatusConfirmed}, StatusRejected, now, now.Add(s.cfg.OfferTTL))
	if compErr != nil {
		log.Error().Err(compErr).
			Str("booking_id", b.ID.String()).
			Msg("failed to release seat after declined payment")
	}
	b.Status = StatusRejected
	s.notifyOffer(ctx, promoted)

	if errors.Is(err, paygate.ErrDeclined) {
		return ErrPaymentDeclined
	}
	return err
}

// GetByID returns a booking visible to the actor
func (s *Service) GetByID(ctx context.Context, id, actorID uuid.UUID, actorRole user.Role) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.BelongsTo(actorID) && actorRole != user.RoleAdmin {
		_, sess, err := s.loadSlot(ctx, b.SlotID)
		if err != nil || !sess.CanBeEditedBy(actorID) {
			return nil, ErrNotBookingOwner
		}
	}
	return b, nil
}

// ListMine returns the actor's bookings
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]*Booking, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListForSlot returns slot bookings for the organizer
func (s *Service) ListForSlot(ctx context.Context, slotID, actorID uuid.UUID, actorRole user.Role) ([]*Booking, error) {
	_, sess, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(actorID) && actorRole != user.RoleAdmin {
		return nil, ErrNotBookingOwner
	}
	return s.repo.ListBySlot(ctx, slotID)
}

// Cancel cancels a booking. Confirmed bookings are subject to the
// cancellation cutoff; a freed seat passes straight to the waitlist head as
// an offer, never through the open pool.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, actorRole user.Role) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !b.BelongsTo(actorID) && actorRole != user.RoleAdmin {
		return ErrNotBookingOwner
	}

	switch b.Status {
	case StatusCancelled, StatusRejected, StatusExpired:
		return ErrNotCancellable
	}

	now := s.now()
	if b.Status == StatusConfirmed {
		slot, _, err := s.loadSlot(ctx, b.SlotID)
		if err != nil {
			return err
		}
		if actorRole != user.RoleAdmin && now.After(slot.StartsAt.Add(-s.cfg.CancelCutoff)) {
			return ErrCancelCutoff
		}
	}

	promoted, err := s.repo.ReleaseSeatToWaitlist(ctx, id,
		[]Status{StatusPending, StatusConfirmed, StatusWaitlisted, StatusOffered},
		StatusCancelled, now, now.Add(s.cfg.OfferTTL))
	if err != nil {
		return err
	}

	if s.escrow != nil && b.Status == StatusConfirmed {
		if err := s.escrow.VoidForBooking(ctx, id); err != nil {
			log.Error().Err(err).
				Str("booking_id", id.String()).
				Msg("failed to void escrow for cancelled booking")
		}
	}

	s.notifyOffer(ctx, promoted)
	return nil
}

// Draw runs the lottery for a slot. The draw is one-shot: the first caller
// records seed and timestamp, repeated calls return the recorded winners and
// finish any settlement a crash cut short.
func (s *Service) Draw(ctx context.Context, slotID, actorID uuid.UUID, actorRole user.Role) ([]*Booking, error) {
	slot, sess, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(actorID) && actorRole != user.RoleAdmin {
		return nil, ErrNotBookingOwner
	}
	if sess.Policy != session.PolicyLottery {
		return nil, ErrWrongPolicy
	}

	now := s.now()
	if err := drawAllowed(slot, now); err != nil {
		if errors.Is(err, ErrDrawAlreadyDone) {
			return s.resumeDraw(ctx, slot, sess)
		}
		return nil, err
	}

	acquired, err := s.guard.acquire(ctx, slotID)
	if err != nil {
		log.Warn().Err(err).Str("slot_id", slotID.String()).Msg("draw guard unavailable, relying on draw record")
	} else if !acquired {
		return nil, ErrDrawAlreadyDone
	}
	defer s.guard.release(ctx, slotID)

	seed := now.UnixNano()
	if err := s.repo.MarkDrawn(ctx, slotID, seed, now); err != nil {
		if errors.Is(err, ErrDrawAlreadyDone) {
			return s.resumeDraw(ctx, slot, sess)
		}
		return nil, err
	}

	return s.settleDraw(ctx, slot, sess, seed)
}

// resumeDraw returns the winners of an already recorded draw. An interrupted
// settlement leaves pending entries behind; re-running settlement over them
// with the recorded seed picks deterministically and finishes the job.
func (s *Service) resumeDraw(ctx context.Context, slot *session.Slot, sess *session.PhotoSession) ([]*Booking, error) {
	pending, err := s.repo.ListBySlot(ctx, slot.ID, StatusPending)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		_, seed, err := s.repo.GetDraw(ctx, slot.ID)
		if err != nil {
			return nil, err
		}
		if seed.Valid {
			log.Info().
				Str("slot_id", slot.ID.String()).
				Int("pending", len(pending)).
				Msg("resuming interrupted draw settlement")
			if _, err := s.settleDraw(ctx, slot, sess, seed.Int64); err != nil {
				return nil, err
			}
		}
	}
	return s.repo.ListBySlot(ctx, slot.ID, StatusConfirmed)
}

// settleDraw confirms winners and rejects losers for a recorded draw
func (s *Service) settleDraw(ctx context.Context, slot *session.Slot, sess *session.PhotoSession, seed int64) ([]*Booking, error) {
	entries, err := s.repo.ListBySlot(ctx, slot.ID, StatusPending)
	if err != nil {
		return nil, err
	}

	winners := drawWinners(entries, slot.Remaining(), seed)
	winnerSet := make(map[uuid.UUID]bool, len(winners))
	for _, w := range winners {
		winnerSet[w.ID] = true
	}

	var confirmed []*Booking
	for _, entry := range entries {
		if !winnerSet[entry.ID] {
			if err := s.repo.UpdateStatus(ctx, entry.ID, StatusPending, StatusRejected); err != nil {
				log.Error().Err(err).Str("booking_id", entry.ID.String()).Msg("failed to reject lottery loser")
			}
			continue
		}

		if err := s.repo.ConfirmWithSeat(ctx, entry.ID, ReasonLotteryWin, ""); err != nil {
			log.Error().Err(err).Str("booking_id", entry.ID.String()).Msg("failed to confirm lottery winner")
			continue
		}
		entry.Status = StatusConfirmed

		if err := s.authorize(ctx, entry, slot, sess); err != nil {
			log.Warn().Err(err).Str("booking_id", entry.ID.String()).Msg("lottery winner payment failed")
			continue
		}
		confirmed = append(confirmed, entry)
		if s.notifier != nil && entry.UserID.Valid {
			s.notifier.BookingEvent(ctx, entry.UserID.UUID, notify.EventLotteryWon, entry.ID)
		}
	}
	return confirmed, nil
}

// Select confirms one pending entry by hand under admin_lottery. The note
// records why this entry was chosen.
func (s *Service) Select(ctx context.Context, bookingID, actorID uuid.UUID, actorRole user.Role, note string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	slot, sess, err := s.loadSlot(ctx, b.SlotID)
	if err != nil {
		return nil, err
	}
	if !sess.CanBeEditedBy(actorID) && actorRole != user.RoleAdmin {
		return nil, ErrNotBookingOwner
	}
	if sess.Policy != session.PolicyAdminLottery {
		return nil, ErrWrongPolicy
	}
	if b.Status != StatusPending {
		return nil, ErrNotLotteryEntry
	}

	// ConfirmWithSeat's conditional increment keeps selections at or
	// below capacity no matter how many admins click at once
	if err := s.repo.ConfirmWithSeat(ctx, bookingID, ReasonAdminSelection, note); err != nil {
		return nil, err
	}
	b.Status = StatusConfirmed
	b.SelectionReason = sql.NullString{String: string(ReasonAdminSelection), Valid: true}
	if note != "" {
		b.SelectionNote = sql.NullString{String: note, Valid: true}
	}

	if err := s.authorize(ctx, b, slot, sess); err != nil {
		return nil, err
	}
	if s.notifier != nil && b.UserID.Valid {
		s.notifier.BookingEvent(ctx, b.UserID.UUID, notify.EventSelected, b.ID)
	}
	return b, nil
}

// AcceptOffer claims a promoted waitlist seat before the offer deadline.
// The offer already holds the seat, so acceptance only flips the status.
func (s *Service) AcceptOffer(ctx context.Context, bookingID, actorID uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.BelongsTo(actorID) {
		return nil, ErrNotBookingOwner
	}
	if b.Status != StatusOffered {
		return nil, ErrNoOffer
	}

	now := s.now()
	if !b.OfferOpen(now) {
		// Lazy expiry: the sweep may not have run yet
		s.expireOffer(ctx, b, now)
		return nil, ErrOfferExpired
	}

	slot, sess, err := s.loadSlot(ctx, b.SlotID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ConfirmOffered(ctx, bookingID); err != nil {
		return nil, err
	}
	b.Status = StatusConfirmed

	if err := s.authorize(ctx, b, slot, sess); err != nil {
		return nil, err
	}
	return b, nil
}

// ExpireOffers forfeits all offers past their deadline and promotes the
// next waitlist entries. Called by the sweep worker.
func (s *Service) ExpireOffers(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.repo.ListExpiredOffers(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, b := range expired {
		s.expireOffer(ctx, b, now)
	}
	return len(expired), nil
}

func (s *Service) expireOffer(ctx context.Context, b *Booking, now time.Time) {
	promoted, err := s.repo.ReleaseSeatToWaitlist(ctx, b.ID,
		[]Status{StatusOffered}, StatusExpired, now, now.Add(s.cfg.OfferTTL))
	if err != nil {
		log.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to expire waitlist offer")
		return
	}
	log.Info().
		Str("booking_id", b.ID.String()).
		Str("slot_id", b.SlotID.String()).
		Msg("waitlist offer expired")
	s.notifyOffer(ctx, promoted)
}

// notifyOffer logs and pushes the offer for a freshly promoted waitlist
// entry. Nil means nothing was promoted.
func (s *Service) notifyOffer(ctx context.Context, promoted *Booking) {
	if promoted == nil {
		return
	}
	log.Info().
		Str("booking_id", promoted.ID.String()).
		Str("slot_id", promoted.SlotID.String()).
		Time("expires_at", promoted.OfferExpiresAt.Time).
		Msg("waitlist entry promoted")

	if s.notifier != nil && promoted.UserID.Valid {
		s.notifier.BookingEvent(ctx, promoted.UserID.UUID, notify.EventWaitlistOffer, promoted.ID)
	}
}
