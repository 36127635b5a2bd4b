package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/validator"
)

// Handler handles user administration requests
type Handler struct {
	repo Repository
}

// NewHandler creates user handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes mounts the admin-only user surface
func (h *Handler) Routes(authMiddleware, adminOnly func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(adminOnly)
	r.Put("/{id}/rank", h.UpdateRank)
	return r
}

// UpdateRank handles PUT /users/{id}/rank (admin). A rank change applies to
// future entries only; bookings keep the rank snapshot taken at entry time.
func (h *Handler) UpdateRank(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	var req UpdateRankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	if err := h.repo.UpdateRank(r.Context(), id, Rank(req.Rank)); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w)
		return
	}
	response.OK(w, &RankResponse{UserID: id, Rank: Rank(req.Rank)})
}
