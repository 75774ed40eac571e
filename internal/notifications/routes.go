package notifications

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers notification routes with the Chi router.
// All routes require authentication via auth middleware.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Route("/notifications", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/", handler.List)
		r.Post("/read-all", handler.MarkAllRead)
		r.Post("/{id}/read", handler.MarkRead)
		r.Delete("/{id}", handler.Delete)
	})
}
