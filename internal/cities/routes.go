package cities

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers city routes with the Chi router.
// All routes require authentication via auth middleware. Routes are
// registered with full paths so the static segments can coexist with
// the parameterized /cities/{city} routes other packages add.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/cities/saved", handler.Histogram)
		r.Get("/cities/searches", handler.RecentSearches)
		r.Post("/cities/searches", handler.RecordSearch)
		r.Delete("/cities/searches", handler.ClearSearches)
	})
}
