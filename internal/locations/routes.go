package locations

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers location feed routes with the Chi router.
// All routes require authentication via auth middleware. Routes are
// registered with full paths so the static segments can coexist with
// the parameterized /locations/{id} routes other packages add.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/locations", handler.Feed)
		r.Post("/locations/merges", handler.Merge)
		r.Post("/locations/splits", handler.Split)
	})
}
