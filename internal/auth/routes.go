package auth

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the auth endpoints on the given router.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
	})
}
