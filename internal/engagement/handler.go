package engagement

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
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

type commentRequest struct {
	Body string `json:"body"`
}

type saveRequest struct {
	Rating *float64 `json:"rating,omitempty"`
}

// Handler handles HTTP requests for the engagement endpoints.
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

// PostEngagement handles GET /api/v1/posts/{id}/engagement.
func (h *Handler) PostEngagement(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	postID, ok := h.pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	counter := h.service.CounterFor(postID)
	counts, ready := counter.Counts()
	if !ready {
		counter.Refresh(r.Context())
		counts, _ = counter.Counts()
	}

	liked, err := h.service.posts.HasLiked(r.Context(), postID, principal)
	if err != nil {
		h.logger.Error("like state lookup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not load engagement")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"likes":    counts.Likes,
		"comments": counts.Comments,
		"shares":   counts.Shares,
		"liked":    liked,
	})
}

// ToggleLike handles POST /api/v1/posts/{id}/like.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	postID, ok := h.pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	liked, err := h.service.ToggleLike(r.Context(), postID, principal)
	if err != nil {
		h.logger.Error("toggle like failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not toggle like")
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"liked": liked})
}

// AddComment handles POST /api/v1/posts/{id}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	postID, ok := h.pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}

	comment, err := h.service.AddComment(r.Context(), postID, principal, req.Body)
	if err != nil {
		if errors.Is(err, ErrEmptyComment) {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "comment body is empty")
			return
		}
		h.logger.Error("add comment failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not add comment")
		return
	}
	h.writeSuccess(w, http.StatusCreated, comment)
}

// RecordShare handles POST /api/v1/posts/{id}/shares.
func (h *Handler) RecordShare(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	postID, ok := h.pathID(w, r, "id", "invalid post id")
	if !ok {
		return
	}

	if err := h.service.RecordShare(r.Context(), postID, principal); err != nil {
		h.logger.Error("record share failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not record share")
		return
	}
	h.writeSuccess(w, http.StatusCreated, nil)
}

// Pins handles GET /api/v1/locations/{id}/pins.
func (h *Handler) Pins(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	locationID, ok := h.pathID(w, r, "id", "invalid location id")
	if !ok {
		return
	}

	view := h.service.PinsFor(locationID)
	saves, ratingCount, average, ready := view.Aggregate()
	if !ready {
		view.Refresh(r.Context())
		saves, ratingCount, average, _ = view.Aggregate()
	}

	saved, err := h.service.locations.HasSaved(r.Context(), principal, locationID)
	if err != nil {
		h.logger.Error("saved state lookup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not load pins")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"saves":          saves,
		"rating_count":   ratingCount,
		"average_rating": average,
		"saved":          saved,
	})
}

// Stats handles GET /api/v1/locations/{id}/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	locationID, ok := h.pathID(w, r, "id", "invalid location id")
	if !ok {
		return
	}

	view := h.service.StatsFor(locationID)
	stats, ready := view.Stats()
	if !ready {
		view.Refresh(r.Context())
		stats, _ = view.Stats()
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"saves": stats.Saves,
		"posts": stats.Posts,
	})
}

// Save handles POST /api/v1/locations/{id}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	locationID, ok := h.pathID(w, r, "id", "invalid location id")
	if !ok {
		return
	}

	var req saveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
	}

	if err := h.service.SaveLocation(r.Context(), locationID, principal, req.Rating); err != nil {
		if errors.Is(err, ErrInvalidRating) {
			h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "rating must be between 1 and 5")
			return
		}
		h.logger.Error("save location failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not save location")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// Unsave handles DELETE /api/v1/locations/{id}/save.
func (h *Handler) Unsave(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	locationID, ok := h.pathID(w, r, "id", "invalid location id")
	if !ok {
		return
	}

	if err := h.service.UnsaveLocation(r.Context(), locationID, principal); err != nil {
		h.logger.Error("unsave location failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not unsave location")
		return
	}
	h.writeSuccess(w, http.StatusOK, nil)
}

// CityEngagement handles GET /api/v1/cities/{city}/engagement.
func (h *Handler) CityEngagement(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	city := chi.URLParam(r, "city")
	if city == "" {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "city is required")
		return
	}

	view := h.service.CityFor(city)
	eng, ready := view.Engagement()
	if !ready {
		view.Refresh(r.Context())
		eng, _ = view.Engagement()
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"city":   city,
		"savers": eng.Savers,
		"posts":  eng.Posts,
	})
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

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return uuid.Nil, false
	}
	return id, true
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
