package shares

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
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

type sendRequest struct {
	RecipientID string  `json:"recipient_id" validate:"required,uuid"`
	LocationID  string  `json:"location_id" validate:"required,uuid"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=500"`
	TTLMinutes  int     `json:"ttl_minutes,omitempty" validate:"omitempty,min=1,max=10080"`
}

// Handler handles HTTP requests for the location share endpoints.
type Handler struct {
	manager  *Manager
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:  manager,
		validate: validator.New(),
		logger:   logger,
	}
}

// List handles GET /api/v1/shares.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if !view.Ready() {
		view.Refresh(r.Context())
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"shares": view.Items(),
	})
}

// Send handles POST /api/v1/shares.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid share request")
		return
	}

	share := &repository.LocationShare{
		SenderID:    principal,
		RecipientID: uuid.MustParse(req.RecipientID),
		LocationID:  uuid.MustParse(req.LocationID),
		Note:        req.Note,
	}
	if req.TTLMinutes > 0 {
		expires := time.Now().Add(time.Duration(req.TTLMinutes) * time.Minute)
		share.ExpiresAt = &expires
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if err := view.Send(r.Context(), share); err != nil {
		h.logger.Error("send share failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not send share")
		return
	}
	h.writeSuccess(w, http.StatusCreated, share)
}

// Dismiss handles DELETE /api/v1/shares/{id}.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid share id")
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if err := view.Dismiss(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			h.writeError(w, http.StatusNotFound, "SHARE_NOT_FOUND", "share not found")
			return
		}
		h.logger.Error("dismiss share failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not dismiss share")
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
