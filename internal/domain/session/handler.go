package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/validator"
)

// Handler handles session HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates session handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /sessions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	sess, err := h.service.Create(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, toSessionResponse(sess))
}

// Get handles GET /sessions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	sess, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, toSessionResponse(sess))
}

// List handles GET /sessions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := &Filter{}
	if v := r.URL.Query().Get("organizer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid organizer_id")
			return
		}
		filter.OrganizerID = &id
	}
	if v := r.URL.Query().Get("published"); v != "" {
		published := v == "true"
		filter.Published = &published
	}
	if v := r.URL.Query().Get("q"); v != "" {
		filter.Query = &v
	}

	pagination := &Pagination{Page: 1, Limit: 20}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		pagination.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		pagination.Limit = v
	}

	sessions, total, err := h.service.List(r.Context(), filter, pagination)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionResponse(s))
	}

	pages := (total + pagination.Limit - 1) / pagination.Limit
	response.WithMeta(w, items, response.Meta{
		Total:   total,
		Page:    pagination.Page,
		Limit:   pagination.Limit,
		Pages:   pages,
		HasNext: pagination.Page < pages,
		HasPrev: pagination.Page > 1,
	})
}

// Update handles PUT /sessions/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	sess, err := h.service.Update(r.Context(), id, userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, toSessionResponse(sess))
}

// Publish handles POST /sessions/{id}/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	sess, err := h.service.Publish(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, toSessionResponse(sess))
}

// Delete handles DELETE /sessions/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.service.Delete(r.Context(), id, userID); err != nil {
		h.writeError(w, err)
		return
	}

	response.NoContent(w)
}

// Duplicate handles POST /sessions/{id}/duplicate
func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	sess, err := h.service.Duplicate(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, toSessionResponse(sess))
}

// History handles GET /sessions/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	entries, err := h.service.History(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]*EditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := &EditEntryResponse{
			ID:        e.ID,
			EditorID:  e.EditorID,
			Action:    e.Action,
			CreatedAt: e.CreatedAt,
		}
		if len(e.Changes) > 0 {
			item.Changes = json.RawMessage(e.Changes)
		}
		items = append(items, item)
	}

	response.OK(w, items)
}

// Restore handles POST /sessions/{id}/restore
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	editID, err := uuid.Parse(req.EditID)
	if err != nil {
		response.BadRequest(w, "Invalid edit ID")
		return
	}

	userID := middleware.GetUserID(r.Context())
	sess, err := h.service.Restore(r.Context(), id, userID, editID, req.Version)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, toSessionResponse(sess))
}

// AddSlot handles POST /sessions/{id}/slots
func (h *Handler) AddSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID := middleware.GetUserID(r.Context())
	slot, err := h.service.AddSlot(r.Context(), id, userID, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	sess, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, toSlotResponse(slot, sess))
}

// ListSlots handles GET /sessions/{id}/slots
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return
	}

	sess, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	slots, err := h.service.ListSlots(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}

	items := make([]*SlotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, toSlotResponse(s, sess))
	}

	response.OK(w, items)
}

// Availability handles GET /slots/{slotID}/availability
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		response.BadRequest(w, "Invalid slot ID")
		return
	}

	max, current, err := h.service.GetAvailability(r.Context(), slotID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, &AvailabilityResponse{
		SlotID:          slotID,
		MaxParticipants: max,
		BookedCount:     current,
		Remaining:       max - current,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrEditNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrNotSessionOwner):
		response.Forbidden(w, "Only the session owner can do this")
	case errors.Is(err, ErrInvalidTimeRange), errors.Is(err, ErrInvalidCapacity):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrPublishNeedsSlot):
		response.Error(w, http.StatusUnprocessableEntity, "PUBLISH_NEEDS_SLOT", err.Error())
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSessionHasBookings):
		response.Conflict(w, err.Error())
	default:
		response.InternalError(w)
	}
}
