package cities

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	appctx "github.com/spott-app/spott-backend/internal/context"
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

type searchRequest struct {
	City string `json:"city"`
}

// Handler handles HTTP requests for the city endpoints.
type Handler struct {
	manager  *Manager
	searches *RecentSearches
	logger   *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(manager *Manager, searches *RecentSearches, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, searches: searches, logger: logger}
}

// Histogram handles GET /api/v1/cities/saved.
func (h *Handler) Histogram(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	view := h.manager.ViewFor(r.Context(), principal)
	if !view.Ready() {
		view.Refresh(r.Context())
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"cities": view.Histogram(),
	})
}

// RecentSearches handles GET /api/v1/cities/searches.
func (h *Handler) RecentSearches(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	searches, err := h.searches.List(r.Context(), principal)
	if err != nil {
		h.logger.Error("listing recent searches failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not load recent searches")
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"searches": searches,
	})
}

// RecordSearch handles POST /api/v1/cities/searches.
func (h *Handler) RecordSearch(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.City == "" {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "city is required")
		return
	}

	if err := h.searches.Record(r.Context(), principal, req.City); err != nil {
		h.logger.Error("recording recent search failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not record search")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// ClearSearches handles DELETE /api/v1/cities/searches.
func (h *Handler) ClearSearches(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.searches.Clear(r.Context(), principal); err != nil {
		h.logger.Error("clearing recent searches failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not clear searches")
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
