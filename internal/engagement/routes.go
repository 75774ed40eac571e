package engagement

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers engagement routes with the Chi router.
// All routes require authentication via auth middleware.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Route("/posts/{id}", func(r chi.Router) {
			r.Get("/engagement", handler.PostEngagement)
			r.Post("/like", handler.ToggleLike)
			r.Post("/comments", handler.AddComment)
			r.Post("/shares", handler.RecordShare)
		})
		r.Route("/locations/{id}", func(r chi.Router) {
			r.Get("/pins", handler.Pins)
			r.Get("/stats", handler.Stats)
			r.Post("/save", handler.Save)
			r.Delete("/save", handler.Unsave)
		})
		r.Get("/cities/{city}/engagement", handler.CityEngagement)
	})
}
