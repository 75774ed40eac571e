package sse

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/auth"
	"github.com/spott-app/spott-backend/internal/bus"
	"github.com/spott-app/spott-backend/internal/events"
)

// Handler serves the realtime stream endpoint.
type Handler struct {
	config       Config
	connManager  *ConnectionManager
	fanout       *bus.Fanout
	replay       *events.ReplayBuffer
	tokenService *auth.TokenService
}

// NewHandler creates a new SSE handler.
func NewHandler(config Config, connManager *ConnectionManager, fanout *bus.Fanout, replay *events.ReplayBuffer, tokenService *auth.TokenService) *Handler {
	return &Handler{
		config:       config,
		connManager:  connManager,
		fanout:       fanout,
		replay:       replay,
		tokenService: tokenService,
	}
}

// HandleStream handles GET /api/v1/stream.
// Authentication is accepted via the token query parameter or the
// Authorization header; EventSource cannot set headers, so the query
// parameter is the common path.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	principalID, err := h.authenticate(r)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The connecting client becomes the bus's active principal.
	// Establishing is idempotent for the current principal.
	if err := h.fanout.EnsureSessionForPrincipal(r.Context(), principalID); err != nil {
		http.Error(w, "Failed to establish session", http.StatusInternalServerError)
		return
	}

	connID := uuid.New().String()
	conn := &Connection{
		ID:          connID,
		PrincipalID: principalID,
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
		CreatedAt:   time.Now(),
		LastPing:    time.Now(),
	}

	if err := h.connManager.AddConnection(principalID, conn); err != nil {
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	h.sendConnectedEvent(conn)

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		h.replayEvents(conn, principalID, lastEventID)
	}

	heartbeatDone := make(chan struct{})
	go h.heartbeatLoop(conn, heartbeatDone)

	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	select {
	case <-r.Context().Done():
		// Client disconnected
	case <-conn.Done:
		// Closed by the server, e.g. the connection cap
	case <-timeout.C:
		// Connection timeout
	}

	close(heartbeatDone)
	h.connManager.RemoveConnection(principalID, connID)
}

// authenticate extracts and validates the access token from the request.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}
	}
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims, err := h.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		return "", ErrInvalidToken
	}
	return claims.PrincipalID(), nil
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    "AUTH_TOKEN_INVALID",
			"message": "Invalid or missing authentication token",
		},
		"timestamp": time.Now().UTC(),
	})
}

// sendConnectedEvent confirms establishment to a new connection.
func (h *Handler) sendConnectedEvent(conn *Connection) {
	payload, err := json.Marshal(map[string]interface{}{
		"message":   "Connected to realtime stream",
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	_ = WriteEvent(conn, events.Event{
		ID:        uuid.New().String(),
		Variant:   variantConnected,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// heartbeatLoop sends heartbeat events at regular intervals.
func (h *Handler) heartbeatLoop(conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-conn.Done:
			return
		case <-ticker.C:
			h.sendHeartbeat(conn)
		}
	}
}

func (h *Handler) sendHeartbeat(conn *Connection) {
	payload, err := json.Marshal(map[string]interface{}{
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := WriteEvent(conn, events.Event{
		ID:        uuid.New().String(),
		Variant:   variantHeartbeat,
		Payload:   payload,
		Timestamp: time.Now(),
	}); err != nil {
		// A dead connection is the reaper's problem.
		return
	}
	h.connManager.MarkConnectionAlive(conn.PrincipalID, conn.ID)
}

// replayEvents replays missed events to a reconnecting client.
func (h *Handler) replayEvents(conn *Connection, principalID, lastEventID string) {
	if h.replay == nil {
		return
	}
	for _, event := range h.replay.Since(principalID, lastEventID, h.config.ReplayLimit) {
		if err := WriteEvent(conn, event); err != nil {
			return
		}
	}
}
