package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns session router
func (h *Handler) Routes(authMiddleware, organizerOnly func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/slots", h.ListSlots)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(organizerOnly)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/publish", h.Publish)
		r.Post("/{id}/duplicate", h.Duplicate)
		r.Get("/{id}/history", h.History)
		r.Post("/{id}/restore", h.Restore)
		r.Post("/{id}/slots", h.AddSlot)
	})

	return r
}
