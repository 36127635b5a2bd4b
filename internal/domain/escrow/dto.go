package escrow

import (
	"time"

	"github.com/google/uuid"
)

// TransactionResponse is the public escrow representation
type TransactionResponse struct {
	ID             uuid.UUID  `json:"id"`
	BookingID      uuid.UUID  `json:"booking_id"`
	Amount         int64      `json:"amount"`
	RefundedAmount int64      `json:"refunded_amount"`
	Currency       string     `json:"currency"`
	State          State      `json:"state"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	SettleDeadline *time.Time `json:"settle_deadline,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// LedgerEntryResponse is one ledger row
type LedgerEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	Type      EntryType `json:"type"`
	Amount    int64     `json:"amount"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EscrowDetailResponse bundles the transaction with its ledger
type EscrowDetailResponse struct {
	Transaction *TransactionResponse   `json:"transaction"`
	Ledger      []*LedgerEntryResponse `json:"ledger"`
}

func toTransactionResponse(t *Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:             t.ID,
		BookingID:      t.BookingID,
		Amount:         t.Amount,
		RefundedAmount: t.RefundedAmount,
		Currency:       t.Currency,
		State:          t.State,
		CreatedAt:      t.CreatedAt,
	}
	if t.CapturedAt.Valid {
		resp.CapturedAt = &t.CapturedAt.Time
	}
	if t.SettleDeadline.Valid {
		resp.SettleDeadline = &t.SettleDeadline.Time
	}
	return resp
}

func toLedgerResponses(entries []*LedgerEntry) []*LedgerEntryResponse {
	out := make([]*LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := &LedgerEntryResponse{
			ID:        e.ID,
			Type:      e.Type,
			Amount:    e.Amount,
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt,
		}
		if e.Note.Valid {
			item.Note = e.Note.String
		}
		out = append(out, item)
	}
	return out
}
