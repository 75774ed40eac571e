package sse

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/metrics"
)

// control variants emitted by the SSE layer itself, outside the
// gateway-normalized event set.
const (
	variantConnected       events.Variant = "connected"
	variantHeartbeat       events.Variant = "heartbeat"
	variantConnectionLimit events.Variant = "connection_limit"
)

// ConnectionManager tracks active SSE connections per principal and
// fans bus events out to them.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // principalID -> connID -> Connection
	config      Config
}

// NewConnectionManager creates a new ConnectionManager with the given config.
func NewConnectionManager(config Config) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		config:      config,
	}
}

// AddConnection adds a new connection for a principal. At the cap, the
// oldest connection is told why and closed to make room; adding never
// fails for limit reasons.
func (cm *ConnectionManager) AddConnection(principalID string, conn *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connections[principalID] == nil {
		cm.connections[principalID] = make(map[string]*Connection)
	}
	conns := cm.connections[principalID]

	if len(conns) >= cm.config.MaxConnectionsPerPrincipal {
		oldest := oldestConnectionLocked(conns)
		if oldest != nil {
			cm.sendConnectionLimitLocked(oldest)
			oldest.Close()
			delete(conns, oldest.ID)
		}
	}

	conns[conn.ID] = conn
	metrics.SSEConnectionsActive.Inc()
	return nil
}

// RemoveConnection removes a connection for a principal.
func (cm *ConnectionManager) RemoveConnection(principalID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conns, ok := cm.connections[principalID]; ok {
		if conn, exists := conns[connID]; exists {
			conn.Close()
			delete(conns, connID)
			metrics.SSEConnectionsActive.Dec()
		}
		if len(conns) == 0 {
			delete(cm.connections, principalID)
		}
	}
}

// CountConnections returns the number of active connections for a principal.
func (cm *ConnectionManager) CountConnections(principalID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	count := 0
	for _, conn := range cm.connections[principalID] {
		if !conn.IsClosed() {
			count++
		}
	}
	return count
}

// Broadcast sends an event to every open connection of a principal.
// A failing connection is skipped; the reaper collects it later.
func (cm *ConnectionManager) Broadcast(principalID string, event events.Event) {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections[principalID]))
	for _, conn := range cm.connections[principalID] {
		if !conn.IsClosed() {
			conns = append(conns, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		if err := WriteEvent(conn, event); err != nil {
			continue
		}
	}
	if len(conns) > 0 {
		metrics.SSEEventsPublished.WithLabelValues(string(event.Variant)).Inc()
	}
}

// TotalConnections returns the number of open connections across all
// principals.
func (cm *ConnectionManager) TotalConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, conns := range cm.connections {
		for _, conn := range conns {
			if !conn.IsClosed() {
				total++
			}
		}
	}
	return total
}

// MarkConnectionAlive updates the LastPing time for a connection.
func (cm *ConnectionManager) MarkConnectionAlive(principalID, connID string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conns, ok := cm.connections[principalID]; ok {
		if conn, exists := conns[connID]; exists {
			conn.LastPing = time.Now()
			return true
		}
	}
	return false
}

// CleanupDeadConnections removes connections that are closed, have not
// answered heartbeats, or have outlived the connection timeout.
func (cm *ConnectionManager) CleanupDeadConnections() {
	deadThreshold := cm.config.HeartbeatInterval * 3

	cm.mu.Lock()
	defer cm.mu.Unlock()

	for principalID, conns := range cm.connections {
		for connID, conn := range conns {
			dead := conn.IsClosed() ||
				time.Since(conn.LastPing) > deadThreshold ||
				time.Since(conn.CreatedAt) > cm.config.ConnectionTimeout
			if dead {
				if !conn.IsClosed() {
					metrics.SSEConnectionsActive.Dec()
				}
				conn.Close()
				delete(conns, connID)
			}
		}
		if len(conns) == 0 {
			delete(cm.connections, principalID)
		}
	}
}

// StartCleanupRoutine starts a background goroutine that periodically
// reaps dead connections. Returns a stop function.
func (cm *ConnectionManager) StartCleanupRoutine(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				cm.CleanupDeadConnections()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}

func oldestConnectionLocked(conns map[string]*Connection) *Connection {
	if len(conns) == 0 {
		return nil
	}
	sorted := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		sorted = append(sorted, conn)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[0]
}

// sendConnectionLimitLocked tells a connection it is being closed to
// make room. Best effort; the connection is going away either way.
func (cm *ConnectionManager) sendConnectionLimitLocked(conn *Connection) {
	payload, err := json.Marshal(map[string]interface{}{
		"message":         "Maximum connections exceeded, closing oldest connection",
		"max_connections": cm.config.MaxConnectionsPerPrincipal,
	})
	if err != nil {
		return
	}
	_ = WriteEvent(conn, events.Event{
		ID:        uuid.New().String(),
		Variant:   variantConnectionLimit,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// WriteEvent writes one event to a connection in SSE framing and
// flushes it.
func WriteEvent(conn *Connection, event events.Event) error {
	if conn.IsClosed() {
		return ErrConnectionClosed
	}
	if _, err := fmt.Fprint(conn.Writer, FormatSSEEvent(event)); err != nil {
		return err
	}
	conn.Flusher.Flush()
	return nil
}

// FormatSSEEvent formats an event as an SSE message.
// Format: event: <variant>\ndata: <json>\nid: <id>\n\n
func FormatSSEEvent(event events.Event) string {
	return fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n",
		event.Variant,
		string(event.Payload),
		event.ID,
	)
}
