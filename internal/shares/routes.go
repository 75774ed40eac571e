package shares

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers location share routes with the Chi router.
// All routes require authentication via auth middleware.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Route("/shares", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/", handler.List)
		r.Post("/", handler.Send)
		r.Delete("/{id}", handler.Dismiss)
	})
}
