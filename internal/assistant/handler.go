package assistant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"

	appctx "github.com/spott-app/spott-backend/internal/context"
	"github.com/spott-app/spott-backend/internal/metrics"
)

// Handler handles HTTP requests for the assistant endpoint.
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

// Options handles the CORS preflight for POST /api/v1/assistant.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

// Chat handles POST /api/v1/assistant. On success the completion is
// relayed as a text/event-stream; every failure is a JSON {error} body.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)

	principalStr, ok := appctx.ExtractPrincipalID(r.Context())
	if !ok {
		h.writeErrorJSON(w, http.StatusUnauthorized, "missing or invalid authorization")
		metrics.AssistantRequestsTotal.WithLabelValues("unauthorized").Inc()
		return
	}
	principal, err := uuid.Parse(principalStr)
	if err != nil {
		h.writeErrorJSON(w, http.StatusUnauthorized, "invalid principal")
		metrics.AssistantRequestsTotal.WithLabelValues("unauthorized").Inc()
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorJSON(w, http.StatusInternalServerError, "invalid request body")
		metrics.AssistantRequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}
	if len(req.Messages) == 0 {
		h.writeErrorJSON(w, http.StatusInternalServerError, "messages are required")
		metrics.AssistantRequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}

	stream, err := h.service.Stream(r.Context(), principal, req)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			h.writeErrorJSON(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			metrics.AssistantRequestsTotal.WithLabelValues("rate_limited").Inc()
			return
		}
		h.logger.Error("assistant stream open failed", "error", err)
		h.writeErrorJSON(w, http.StatusInternalServerError, "assistant unavailable")
		metrics.AssistantRequestsTotal.WithLabelValues("error").Inc()
		return
	}
	defer stream.Close()

	flusher, canFlush := w.(http.Flusher)

	wroteHeader := false
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if !wroteHeader {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		payload, _ := json.Marshal(map[string]string{"content": content})
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			metrics.AssistantRequestsTotal.WithLabelValues("client_gone").Inc()
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if err := stream.Err(); err != nil {
		// Errors after the first chunk cannot change the status line;
		// the client sees a truncated stream and retries.
		if wroteHeader {
			h.logger.Warn("assistant stream interrupted", "error", err)
			metrics.AssistantRequestsTotal.WithLabelValues("interrupted").Inc()
			return
		}
		status, msg := upstreamError(err)
		h.logger.Error("assistant upstream failed", "status", status, "error", err)
		h.writeErrorJSON(w, status, msg)
		metrics.AssistantRequestsTotal.WithLabelValues("upstream_error").Inc()
		return
	}

	if !wroteHeader {
		// Empty completion; still a well-formed stream.
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write([]byte("data: [DONE]\n\n")); err == nil && canFlush {
		flusher.Flush()
	}
	metrics.AssistantRequestsTotal.WithLabelValues("ok").Inc()
}

// upstreamError maps an upstream failure to the response status:
// rate limiting and payment problems keep their status, everything else
// is a 500.
func upstreamError(err error) (int, string) {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, "rate limit exceeded, try again later"
		case http.StatusPaymentRequired:
			return http.StatusPaymentRequired, "quota exceeded"
		}
	}
	return http.StatusInternalServerError, "assistant unavailable"
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func (h *Handler) writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
