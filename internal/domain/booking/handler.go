package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/domain/session"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/validator"
)

// Handler handles booking HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates booking handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func actor(r *http.Request) (uuid.UUID, user.Role) {
	return middleware.GetUserID(r.Context()), user.Role(middleware.GetRole(r.Context()))
}

// Create handles POST /slots/{slotID}/bookings
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		response.BadRequest(w, "Invalid slot ID")
		return
	}

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	b, err := h.service.Request(r.Context(), slotID, userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, toBookingResponse(b))
}

// Get handles GET /bookings/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	actorID, role := actor(r)
	b, err := h.service.GetByID(r.Context(), id, actorID, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, toBookingResponse(b))
}

// ListMine handles GET /bookings/my
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	bookings, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, toBookingResponses(bookings))
}

// ListForSlot handles GET /slots/{slotID}/bookings
func (h *Handler) ListForSlot(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		response.BadRequest(w, "Invalid slot ID")
		return
	}

	actorID, role := actor(r)
	bookings, err := h.service.ListForSlot(r.Context(), slotID, actorID, role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, toBookingResponses(bookings))
}

// Cancel handles DELETE /bookings/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	actorID, role := actor(r)
	if err := h.service.Cancel(r.Context(), id, actorID, role); err != nil {
		h.writeError(w, err)
		return
	}
	response.NoContent(w)
}

// Draw handles POST /slots/{slotID}/lottery/draw
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		response.BadRequest(w, "Invalid slot ID")
		return
	}

	actorID, role := actor(r)
	winners, err := h.service.Draw(r.Context(), slotID, actorID, role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, toBookingResponses(winners))
}

// Select handles POST /bookings/{id}/select
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actorID, role := actor(r)
	b, err := h.service.Select(r.Context(), id, actorID, role, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, toBookingResponse(b))
}

// AcceptOffer handles POST /bookings/{id}/accept-offer
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	actorID := middleware.GetUserID(r.Context())
	b, err := h.service.AcceptOffer(r.Context(), id, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, toBookingResponse(b))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBookingNotFound),
		errors.Is(err, session.ErrSlotNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		response.NotFound(w, "Booking or slot not found")
	case errors.Is(err, ErrNotBookingOwner):
		response.Forbidden(w, "Not allowed for this booking")
	case errors.Is(err, ErrSlotFull):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrAlreadyBooked), errors.Is(err, ErrDrawAlreadyDone):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrWindowNotOpen), errors.Is(err, ErrWindowClosed),
		errors.Is(err, ErrTierNotEligible), errors.Is(err, ErrDrawBeforeClose),
		errors.Is(err, ErrCancelCutoff):
		response.Error(w, http.StatusUnprocessableEntity, "POLICY_WINDOW_VIOLATION", err.Error())
	case errors.Is(err, ErrNotPublished), errors.Is(err, ErrWrongPolicy),
		errors.Is(err, ErrNotLotteryEntry), errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrInstrumentMissing):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNoOffer):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrOfferExpired):
		response.Gone(w, err.Error())
	case errors.Is(err, ErrPaymentDeclined):
		response.PaymentRequired(w, err.Error())
	case errors.Is(err, paygate.ErrUnavailable):
		response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_UNAVAILABLE", "Payment gateway unavailable, try again later")
	default:
		response.InternalError(w)
	}
}
