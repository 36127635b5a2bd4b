package escrow

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
)

type fakeEscrowRepo struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Transaction
	ledger map[uuid.UUID][]*LedgerEntry
}

func newFakeEscrowRepo() *fakeEscrowRepo {
	return &fakeEscrowRepo{
		byID:   make(map[uuid.UUID]*Transaction),
		ledger: make(map[uuid.UUID][]*LedgerEntry),
	}
}

func (f *fakeEscrowRepo) Create(_ context.Context, t *Transaction, entry *LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.BookingID == t.BookingID {
			return ErrEscrowExists
		}
	}
	cp := *t
	f.byID[t.ID] = &cp
	f.ledger[t.ID] = append(f.ledger[t.ID], entry)
	return nil
}

func (f *fakeEscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeEscrowRepo) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.BookingID == bookingID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrEscrowNotFound
}

func (f *fakeEscrowRepo) Transition(_ context.Context, id uuid.UUID, from []State, to State, refundedAmount int64, capturedAt, settleDeadline sql.NullTime, entries ...*LedgerEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range from {
		if t.State == s {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	t.State = to
	t.RefundedAmount += refundedAmount
	if capturedAt.Valid {
		t.CapturedAt = capturedAt
	}
	if settleDeadline.Valid {
		t.SettleDeadline = settleDeadline
	}
	f.ledger[id] = append(f.ledger[id], entries...)
	return true, nil
}

func (f *fakeEscrowRepo) Ledger(_ context.Context, escrowID uuid.UUID) ([]*LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*LedgerEntry, len(f.ledger[escrowID]))
	copy(out, f.ledger[escrowID])
	return out, nil
}

func (f *fakeEscrowRepo) ListDueForSettlement(_ context.Context, now time.Time, limit int) ([]*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Transaction
	for _, t := range f.byID {
		if t.State == StateCaptured && t.SettleDeadline.Valid && !t.SettleDeadline.Time.After(now) {
			cp := *t
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeEscrowRepo) ListStuckAuthorized(_ context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Transaction
	for _, t := range f.byID {
		if t.State == StateAuthorized && !t.CreatedAt.After(cutoff) {
			cp := *t
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu             sync.Mutex
	authorizeCalls []string
	captureCalls   []string
	refundCalls    []string
	refundAmounts  []int64
	retrieveStatus map[string]string
	decline        bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{retrieveStatus: make(map[string]string)}
}

func (g *fakeGateway) Authorize(_ context.Context, req paygate.AuthorizeRequest) (*paygate.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decline {
		return nil, paygate.ErrDeclined
	}
	g.authorizeCalls = append(g.authorizeCalls, req.IdempotencyKey)
	return &paygate.Intent{
		IntentID: "pi_" + req.OrderID,
		Status:   paygate.StatusAuthorized,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *fakeGateway) Capture(_ context.Context, intentID, idempotencyKey string) (*paygate.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls = append(g.captureCalls, idempotencyKey)
	return &paygate.Intent{IntentID: intentID, Status: paygate.StatusCaptured}, nil
}

func (g *fakeGateway) Refund(_ context.Context, intentID string, amount int64, idempotencyKey string) (*paygate.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, idempotencyKey)
	g.refundAmounts = append(g.refundAmounts, amount)
	return &paygate.Intent{IntentID: intentID, Status: paygate.StatusRefunded, Amount: amount}, nil
}

func (g *fakeGateway) Retrieve(_ context.Context, intentID string) (*paygate.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.retrieveStatus[intentID]
	if !ok {
		status = paygate.StatusAuthorized
	}
	return &paygate.Intent{IntentID: intentID, Status: status}, nil
}

type escrowEvent struct {
	userID   uuid.UUID
	escrowID uuid.UUID
	state    string
}

type fakeEscrowNotifier struct {
	mu     sync.Mutex
	events []escrowEvent
}

func (f *fakeEscrowNotifier) EscrowEvent(_ context.Context, userID, escrowID uuid.UUID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, escrowEvent{userID: userID, escrowID: escrowID, state: state})
}

func (f *fakeEscrowNotifier) states(escrowID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.escrowID == escrowID {
			out = append(out, e.state)
		}
	}
	return out
}

var escrowBase = time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC)

type escrowFixture struct {
	svc      *Service
	repo     *fakeEscrowRepo
	gateway  *fakeGateway
	notifier *fakeEscrowNotifier
	clock    *time.Time
}

func setupEscrow(t *testing.T) *escrowFixture {
	t.Helper()
	repo := newFakeEscrowRepo()
	gateway := newFakeGateway()
	notifier := &fakeEscrowNotifier{}
	svc := NewService(repo, gateway, Config{
		SettleDeadline: 72 * time.Hour,
		ReconcileGrace: time.Hour,
	}).WithNotifier(notifier)
	clock := escrowBase
	svc.WithClock(func() time.Time { return clock })
	return &escrowFixture{svc: svc, repo: repo, gateway: gateway, notifier: notifier, clock: &clock}
}

func (fx *escrowFixture) authorize(t *testing.T, amount int64) *Transaction {
	t.Helper()
	bookingID := uuid.New()
	payerID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	if err := fx.svc.AuthorizeForBooking(context.Background(), bookingID, payerID, amount, "JPY", "tok_visa"); err != nil {
		t.Fatalf("AuthorizeForBooking: %v", err)
	}
	tr, err := fx.svc.GetByBookingID(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("GetByBookingID: %v", err)
	}
	return tr
}

func (fx *escrowFixture) capture(t *testing.T, amount int64) *Transaction {
	t.Helper()
	tr := fx.authorize(t, amount)
	captured, err := fx.svc.Capture(context.Background(), tr.ID, "organizer")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return captured
}

func TestAuthorizeOpensEscrow(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.authorize(t, 500000)
	if tr.State != StateAuthorized {
		t.Errorf("expected authorized, got %s", tr.State)
	}
	if tr.IntentID == "" {
		t.Error("expected gateway intent recorded")
	}

	ledger, _ := fx.svc.Ledger(context.Background(), tr.ID)
	if len(ledger) != 1 || ledger[0].Type != EntryAuthorize || ledger[0].Amount != 500000 {
		t.Errorf("expected single authorize ledger entry, got %+v", ledger)
	}
}

func TestAuthorizeIdempotentForActiveEscrow(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.authorize(t, 500000)
	if err := fx.svc.AuthorizeForBooking(context.Background(), tr.BookingID, tr.PayerID, 500000, "JPY", "tok_visa"); err != nil {
		t.Fatalf("repeat authorize: %v", err)
	}
	if len(fx.gateway.authorizeCalls) != 1 {
		t.Errorf("repeat authorize must not hit the gateway again, calls=%d", len(fx.gateway.authorizeCalls))
	}
}

func TestAuthorizeRejectsNonPositiveAmount(t *testing.T) {
	fx := setupEscrow(t)

	err := fx.svc.AuthorizeForBooking(context.Background(), uuid.New(), uuid.NullUUID{}, 0, "JPY", "tok_visa")
	if !errors.Is(err, ErrAmountInvalid) {
		t.Errorf("expected ErrAmountInvalid, got %v", err)
	}
}

func TestCaptureSetsSettlementDeadline(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 500000)
	if tr.State != StateCaptured {
		t.Fatalf("expected captured, got %s", tr.State)
	}
	if !tr.CapturedAt.Valid || !tr.CapturedAt.Time.Equal(escrowBase) {
		t.Errorf("expected captured_at %v, got %v", escrowBase, tr.CapturedAt)
	}
	wantDeadline := escrowBase.Add(72 * time.Hour)
	if !tr.SettleDeadline.Valid || !tr.SettleDeadline.Time.Equal(wantDeadline) {
		t.Errorf("expected settle deadline %v, got %v", wantDeadline, tr.SettleDeadline)
	}

	// Repeat captures are no-ops and never hit the gateway again
	again, err := fx.svc.Capture(context.Background(), tr.ID, "organizer")
	if err != nil {
		t.Fatalf("repeat Capture: %v", err)
	}
	if again.State != StateCaptured {
		t.Errorf("expected captured, got %s", again.State)
	}
	if len(fx.gateway.captureCalls) != 1 {
		t.Errorf("expected 1 gateway capture, got %d", len(fx.gateway.captureCalls))
	}
}

func TestCaptureRequiresAuthorized(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 500000)
	if _, err := fx.svc.Release(context.Background(), tr.ID, []State{StateCaptured}, EntryRelease, "organizer", ""); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := fx.svc.Capture(context.Background(), tr.ID, "organizer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReleaseHappyPathAndDoubleRelease(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 500000)
	released, err := fx.svc.Release(context.Background(), tr.ID, []State{StateCaptured}, EntryRelease, "organizer", "")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.State != StateReleasedToPayee {
		t.Fatalf("expected released_to_payee, got %s", released.State)
	}

	// A second release is refused and moves no money
	before, _ := fx.svc.Ledger(context.Background(), tr.ID)
	if _, err := fx.svc.Release(context.Background(), tr.ID, []State{StateCaptured}, EntryRelease, "organizer", ""); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	after, _ := fx.svc.Ledger(context.Background(), tr.ID)
	if len(after) != len(before) {
		t.Errorf("double release appended ledger entries: %d -> %d", len(before), len(after))
	}
}

func TestRefundFull(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 500000)
	refunded, err := fx.svc.Refund(context.Background(), tr.ID, []State{StateCaptured}, 500000, "admin", "no show")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.State != StateRefunded {
		t.Errorf("expected refunded, got %s", refunded.State)
	}
	if refunded.RefundedAmount != 500000 {
		t.Errorf("expected refunded_amount 500000, got %d", refunded.RefundedAmount)
	}
	if len(fx.gateway.refundCalls) != 1 || fx.gateway.refundAmounts[0] != 500000 {
		t.Errorf("expected one gateway refund of 500000, got %v", fx.gateway.refundAmounts)
	}
}

func TestPartialRefundConservesValue(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 100000)
	refunded, err := fx.svc.Refund(context.Background(), tr.ID, []State{StateCaptured}, 30000, "admin", "late delivery")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.State != StatePartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", refunded.State)
	}
	if refunded.RefundedAmount != 30000 {
		t.Errorf("expected refunded_amount 30000, got %d", refunded.RefundedAmount)
	}

	// Refund plus remainder release must add up to the captured amount
	ledger, _ := fx.svc.Ledger(context.Background(), tr.ID)
	var refundPart, releasePart int64
	for _, e := range ledger {
		switch e.Type {
		case EntryPartialRefund:
			refundPart += e.Amount
		case EntryRelease:
			releasePart += e.Amount
		}
	}
	if refundPart != 30000 {
		t.Errorf("expected partial_refund entry of 30000, got %d", refundPart)
	}
	if releasePart != 70000 {
		t.Errorf("expected release entry of 70000, got %d", releasePart)
	}
	if refundPart+releasePart != tr.Amount {
		t.Errorf("value not conserved: %d + %d != %d", refundPart, releasePart, tr.Amount)
	}
}

func TestRefundExceedsHeld(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 100000)
	if _, err := fx.svc.Refund(context.Background(), tr.ID, []State{StateCaptured}, 100001, "admin", ""); !errors.Is(err, ErrRefundExceedsHeld) {
		t.Fatalf("expected ErrRefundExceedsHeld, got %v", err)
	}
	if len(fx.gateway.refundCalls) != 0 {
		t.Error("over-refund must never reach the gateway")
	}
}

func TestVoidForBooking(t *testing.T) {
	fx := setupEscrow(t)

	// No escrow at all is fine
	if err := fx.svc.VoidForBooking(context.Background(), uuid.New()); err != nil {
		t.Errorf("void without escrow: %v", err)
	}

	// Authorized holds are reversed
	tr := fx.authorize(t, 500000)
	if err := fx.svc.VoidForBooking(context.Background(), tr.BookingID); err != nil {
		t.Fatalf("void authorized: %v", err)
	}
	got, _ := fx.svc.GetByID(context.Background(), tr.ID)
	if got.State != StateRefunded {
		t.Errorf("expected refunded, got %s", got.State)
	}

	// Captured escrows are refunded in full
	captured := fx.capture(t, 300000)
	if err := fx.svc.VoidForBooking(context.Background(), captured.BookingID); err != nil {
		t.Fatalf("void captured: %v", err)
	}
	got, _ = fx.svc.GetByID(context.Background(), captured.ID)
	if got.State != StateRefunded || got.RefundedAmount != 300000 {
		t.Errorf("expected full refund, got state=%s refunded=%d", got.State, got.RefundedAmount)
	}

	// Settled escrows are left alone
	if err := fx.svc.VoidForBooking(context.Background(), captured.BookingID); err != nil {
		t.Errorf("void settled: %v", err)
	}
}

func TestMarkDisputedOnlyFromCaptured(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.authorize(t, 500000)
	if _, err := fx.svc.MarkDisputed(context.Background(), tr.ID, "payer"); !errors.Is(err, ErrNotCaptured) {
		t.Errorf("expected ErrNotCaptured for authorized escrow, got %v", err)
	}

	captured := fx.capture(t, 500000)
	disputed, err := fx.svc.MarkDisputed(context.Background(), captured.ID, "payer")
	if err != nil {
		t.Fatalf("MarkDisputed: %v", err)
	}
	if disputed.State != StateDisputed {
		t.Errorf("expected disputed, got %s", disputed.State)
	}
}

func TestAutoSettlementSweep(t *testing.T) {
	fx := setupEscrow(t)

	first := fx.capture(t, 100000)
	second := fx.capture(t, 200000)
	frozen := fx.capture(t, 300000)
	if _, err := fx.svc.MarkDisputed(context.Background(), frozen.ID, "payer"); err != nil {
		t.Fatalf("MarkDisputed: %v", err)
	}

	sweepTime := escrowBase.Add(73 * time.Hour)
	released, err := fx.svc.RunAutoSettlement(context.Background(), sweepTime, 100)
	if err != nil {
		t.Fatalf("RunAutoSettlement: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 released, got %d", released)
	}

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		got, _ := fx.svc.GetByID(context.Background(), id)
		if got.State != StateAutoSettled {
			t.Errorf("escrow %s: expected auto_settled, got %s", id, got.State)
		}
	}
	got, _ := fx.svc.GetByID(context.Background(), frozen.ID)
	if got.State != StateDisputed {
		t.Errorf("disputed escrow must survive the sweep, got %s", got.State)
	}

	// A second sweep finds nothing left to release
	released, err = fx.svc.RunAutoSettlement(context.Background(), sweepTime, 100)
	if err != nil {
		t.Fatalf("second RunAutoSettlement: %v", err)
	}
	if released != 0 {
		t.Errorf("expected idempotent sweep, released %d", released)
	}
}

func TestSweepBeforeDeadlineReleasesNothing(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 100000)
	released, err := fx.svc.RunAutoSettlement(context.Background(), escrowBase.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("RunAutoSettlement: %v", err)
	}
	if released != 0 {
		t.Errorf("expected 0 released before deadline, got %d", released)
	}
	got, _ := fx.svc.GetByID(context.Background(), tr.ID)
	if got.State != StateCaptured {
		t.Errorf("expected captured, got %s", got.State)
	}
}

func TestReconcileConvergesWithGateway(t *testing.T) {
	fx := setupEscrow(t)

	capturedAtGateway := fx.authorize(t, 100000)
	declinedAtGateway := fx.authorize(t, 200000)
	stillHeld := fx.authorize(t, 300000)
	fx.gateway.retrieveStatus[capturedAtGateway.IntentID] = paygate.StatusCaptured
	fx.gateway.retrieveStatus[declinedAtGateway.IntentID] = paygate.StatusDeclined

	reconcileTime := escrowBase.Add(2 * time.Hour)
	if err := fx.svc.Reconcile(context.Background(), reconcileTime, 100); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := fx.svc.GetByID(context.Background(), capturedAtGateway.ID)
	if got.State != StateCaptured {
		t.Errorf("expected convergence to captured, got %s", got.State)
	}
	if !got.SettleDeadline.Valid {
		t.Error("converged capture must carry a settlement deadline")
	}

	got, _ = fx.svc.GetByID(context.Background(), declinedAtGateway.ID)
	if got.State != StateFailed {
		t.Errorf("expected convergence to failed, got %s", got.State)
	}

	got, _ = fx.svc.GetByID(context.Background(), stillHeld.ID)
	if got.State != StateAuthorized {
		t.Errorf("escrow still held at gateway must stay authorized, got %s", got.State)
	}
}

func TestReconcileSkipsRecentAuthorizations(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.authorize(t, 100000)
	fx.gateway.retrieveStatus[tr.IntentID] = paygate.StatusDeclined

	// Within the grace period the reconciler leaves the escrow alone
	if err := fx.svc.Reconcile(context.Background(), escrowBase.Add(30*time.Minute), 100); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got, _ := fx.svc.GetByID(context.Background(), tr.ID)
	if got.State != StateAuthorized {
		t.Errorf("expected authorized inside grace, got %s", got.State)
	}
}

func TestStateChangesPushEvents(t *testing.T) {
	fx := setupEscrow(t)

	tr := fx.capture(t, 500000)
	if _, err := fx.svc.Release(context.Background(), tr.ID, []State{StateCaptured}, EntryRelease, "organizer", ""); err != nil {
		t.Fatalf("Release: %v", err)
	}

	want := []string{string(StateCaptured), string(StateReleasedToPayee)}
	got := fx.notifier.states(tr.ID)
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// The settlement sweep announces its releases too
	due := fx.capture(t, 100000)
	if _, err := fx.svc.RunAutoSettlement(context.Background(), escrowBase.Add(73*time.Hour), 100); err != nil {
		t.Fatalf("RunAutoSettlement: %v", err)
	}
	states := fx.notifier.states(due.ID)
	if len(states) == 0 || states[len(states)-1] != string(StateAutoSettled) {
		t.Errorf("expected auto_settled event, got %v", states)
	}
}

func TestStateMachine(t *testing.T) {
	legal := []struct {
		from, to State
	}{
		{StateAuthorized, StateCaptured},
		{StateAuthorized, StateRefunded},
		{StateAuthorized, StateFailed},
		{StateCaptured, StateReleasedToPayee},
		{StateCaptured, StateDisputed},
		{StateCaptured, StateAutoSettled},
		{StateDisputed, StateRefunded},
		{StateDisputed, StatePartiallyRefunded},
	}
	for _, c := range legal {
		if !CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s must be legal", c.from, c.to)
		}
	}

	illegal := []struct {
		from, to State
	}{
		{StateAuthorized, StateDisputed},
		{StateRefunded, StateCaptured},
		{StateReleasedToPayee, StateRefunded},
		{StateAutoSettled, StateDisputed},
		{StateFailed, StateCaptured},
	}
	for _, c := range illegal {
		if CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s must be illegal", c.from, c.to)
		}
	}

	for _, s := range []State{StateReleasedToPayee, StateRefunded, StatePartiallyRefunded, StateAutoSettled, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	if StateDisputed.Terminal() {
		t.Error("disputed must admit transitions")
	}
}
