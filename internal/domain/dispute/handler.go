package dispute

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/domain/escrow"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/errorhandler"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/validator"
)

// Handler handles dispute HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates dispute handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func actor(r *http.Request) (uuid.UUID, user.Role) {
	return middleware.GetUserID(r.Context()), user.Role(middleware.GetRole(r.Context()))
}

// Raise handles POST /escrows/{id}/disputes
func (h *Handler) Raise(w http.ResponseWriter, r *http.Request) {
	escrowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid escrow ID")
		return
	}

	var req RaiseDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actorID, role := actor(r)
	d, err := h.service.Raise(r.Context(), escrowID, actorID, role, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, toDisputeResponse(d, h.service.EvidenceURL(d)))
}

// Get handles GET /disputes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid dispute ID")
		return
	}

	actorID, role := actor(r)
	d, err := h.service.GetByID(r.Context(), id, actorID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, toDisputeResponse(d, h.service.EvidenceURL(d)))
}

// ListOpen handles GET /disputes (admin)
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	disputes, err := h.service.ListOpen(r.Context(), limit)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*DisputeResponse, 0, len(disputes))
	for _, d := range disputes {
		items = append(items, toDisputeResponse(d, h.service.EvidenceURL(d)))
	}
	response.OK(w, items)
}

// Resolve handles POST /disputes/{id}/resolve (admin)
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid dispute ID")
		return
	}

	var req ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	adminID := middleware.GetUserID(r.Context())
	d, err := h.service.Resolve(r.Context(), id, adminID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, toDisputeResponse(d, h.service.EvidenceURL(d)))
}

// PresignEvidence handles POST /disputes/{id}/evidence
func (h *Handler) PresignEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid dispute ID")
		return
	}

	var req PresignEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actorID, role := actor(r)
	url, key, err := h.service.PresignEvidence(r.Context(), id, actorID, role, req.ContentType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, &PresignEvidenceResponse{UploadURL: url, Key: key})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, escrow.ErrEscrowNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrNotDisputeParty):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrDisputeAfterDeadline):
		response.Gone(w, err.Error())
	case errors.Is(err, ErrAlreadyDisputed), errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrEvidenceMissing):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrEscrowNotCaptured), errors.Is(err, ErrInvalidResolution),
		errors.Is(err, ErrRefundAmountRequired), errors.Is(err, escrow.ErrRefundExceedsHeld):
		response.BadRequest(w, err.Error())
	case errors.Is(err, paygate.ErrUnavailable):
		response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_UNAVAILABLE", "Payment gateway unavailable, try again later")
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
