package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/validator"
)

// Handler handles auth HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates auth handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register handles POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	u, tokens, err := h.service.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, user.ErrEmailAlreadyExists) {
			response.Conflict(w, "Email already registered")
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, authResponse(u, tokens))
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	u, tokens, err := h.service.Login(r.Context(), &req, clientIP(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(w, "Invalid email or password")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, authResponse(u, tokens))
}

// Refresh handles POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	u, tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.Unauthorized(w, "Invalid refresh token")
		return
	}

	response.OK(w, authResponse(u, tokens))
}

// Me handles GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	response.OK(w, &MeResponse{
		UserID:      u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Rank:        string(u.Rank),
	})
}

func authResponse(u *user.User, tokens *TokenPair) *AuthResponse {
	return &AuthResponse{
		UserID:      u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Rank:        string(u.Rank),
		Tokens:      *tokens,
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	return r.RemoteAddr
}
