package assistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the assistant routes with the Chi router.
// The preflight stays outside the auth middleware; browsers send it
// without credentials.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Options("/assistant", handler.Options)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/assistant", handler.Chat)
	})
}
