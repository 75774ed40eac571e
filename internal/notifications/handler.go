package notifications

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appctx "github.com/spott-app/spott-backend/internal/context"
	"github.com/spott-app/spott-backend/internal/repository"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler handles HTTP requests for the notification endpoints.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// List handles GET /api/v1/notifications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if !view.Ready() {
		// First hit for this principal; serve the authoritative read
		// while the view warms up.
		view.Refresh(r.Context())
	}
	unread, _ := view.Unread()

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"notifications": view.Items(),
		"unread_count":  unread,
	})
}

// MarkRead handles POST /api/v1/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid notification id")
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if err := view.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			h.writeError(w, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "notification not found")
			return
		}
		h.logger.Error("mark read failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not mark notification read")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if err := view.MarkAllRead(r.Context()); err != nil {
		h.logger.Error("mark all read failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not mark notifications read")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// Delete handles DELETE /api/v1/notifications/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid notification id")
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if err := view.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			h.writeError(w, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "notification not found")
			return
		}
		h.logger.Error("delete notification failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not delete notification")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	principalStr, ok := appctx.ExtractPrincipalID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired token")
		return uuid.Nil, false
	}
	principal, err := uuid.Parse(principalStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid principal id")
		return uuid.Nil, false
	}
	return principal, true
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
