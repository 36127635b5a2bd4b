package escrow

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/errorhandler"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
)

// Handler handles escrow HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates escrow handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetForBooking handles GET /bookings/{id}/escrow
func (h *Handler) GetForBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	t, err := h.service.GetByBookingID(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	actorID := middleware.GetUserID(r.Context())
	role := middleware.GetRole(r.Context())
	if role != "admin" && role != "organizer" && role != "photographer" {
		if !t.PayerID.Valid || t.PayerID.UUID != actorID {
			response.Forbidden(w, "Not allowed for this escrow")
			return
		}
	}

	ledger, err := h.service.Ledger(r.Context(), t.ID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, &EscrowDetailResponse{
		Transaction: toTransactionResponse(t),
		Ledger:      toLedgerResponses(ledger),
	})
}

// Capture handles POST /escrows/{id}/capture
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid escrow ID")
		return
	}

	actorID := middleware.GetUserID(r.Context())
	t, err := h.service.Capture(r.Context(), id, actorID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, toTransactionResponse(t))
}

// Release handles POST /escrows/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid escrow ID")
		return
	}

	actorID := middleware.GetUserID(r.Context())
	t, err := h.service.Release(r.Context(), id, []State{StateCaptured}, EntryRelease, actorID.String(), "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, toTransactionResponse(t))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrAlreadySettled):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotCaptured):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrRefundExceedsHeld), errors.Is(err, ErrAmountInvalid):
		response.BadRequest(w, err.Error())
	case errors.Is(err, paygate.ErrDeclined):
		response.PaymentRequired(w, "Payment was declined")
	case errors.Is(err, paygate.ErrUnavailable):
		response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_UNAVAILABLE", "Payment gateway unavailable, try again later")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
