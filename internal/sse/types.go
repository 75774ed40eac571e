// Package sse exposes the fan-out bus to clients over Server-Sent
// Events: one long-lived connection per client, heartbeats, a
// per-principal connection cap, and Last-Event-ID replay on reconnect.
package sse

import (
	"net/http"
	"sync"
	"time"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval          time.Duration // Default: 30 seconds
	ConnectionTimeout          time.Duration // Default: 1 hour
	MaxConnectionsPerPrincipal int           // Default: 10
	ReplayLimit                int           // Default: 100 events per reconnect
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:          30 * time.Second,
		ConnectionTimeout:          1 * time.Hour,
		MaxConnectionsPerPrincipal: 10,
		ReplayLimit:                100,
	}
}

// Connection represents an active SSE connection.
type Connection struct {
	ID          string
	PrincipalID string
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	CreatedAt   time.Time
	LastPing    time.Time

	closeOnce sync.Once
}

// NewConnection creates a new SSE connection.
func NewConnection(id, principalID string, w http.ResponseWriter) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported
	}

	return &Connection{
		ID:          id,
		PrincipalID: principalID,
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
		CreatedAt:   time.Now(),
		LastPing:    time.Now(),
	}, nil
}

// Close closes the connection. Safe to call concurrently; the reaper
// and a capacity eviction may race to close the same connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
	})
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}
