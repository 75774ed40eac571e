package locations

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

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

type mergeRequest struct {
	From string `json:"from"`
	Into string `json:"into"`
}

type splitRequest struct {
	Key string `json:"key"`
}

// groupDTO is a Group plus the derived pooled mean rating.
type groupDTO struct {
	Group
	AverageRating float64 `json:"average_rating"`
}

// Handler handles HTTP requests for the location feed endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Feed handles GET /api/v1/locations.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if !h.authed(w, r) {
		return
	}

	search := r.URL.Query().Get("search")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit")
			return
		}
		limit = n
	}

	groups, err := h.service.Feed(r.Context(), search, limit)
	if err != nil {
		h.logger.Error("location feed failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not load locations")
		return
	}

	dtos := make([]groupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = groupDTO{Group: g, AverageRating: g.AverageRating()}
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"locations": dtos,
	})
}

// Merge handles POST /api/v1/locations/merges.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	if !h.authed(w, r) {
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == "" || req.Into == "" || req.From == req.Into {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "from and into keys are required and must differ")
		return
	}

	h.service.Merge(req.From, req.Into)
	h.writeSuccess(w, http.StatusOK, nil)
}

// Split handles POST /api/v1/locations/splits.
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	if !h.authed(w, r) {
		return
	}

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "key is required")
		return
	}

	h.service.Split(req.Key)
	h.writeSuccess(w, http.StatusOK, nil)
}

func (h *Handler) authed(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := appctx.ExtractPrincipalID(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired token")
		return false
	}
	return true
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
