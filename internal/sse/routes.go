package sse

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the stream route with the Chi router.
// Authentication is handled inside the handler so EventSource clients
// can pass the token as a query parameter.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Get("/stream", handler.HandleStream)
}
