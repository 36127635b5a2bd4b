package dispute

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns dispute routes mounted at /disputes
func (h *Handler) Routes(authMiddleware, adminOnly func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/evidence", h.PresignEvidence)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(adminOnly)
		r.Get("/", h.ListOpen)
		r.Post("/{id}/resolve", h.Resolve)
	})

	return r
}
