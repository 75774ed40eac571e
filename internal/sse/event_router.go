package sse

import (
	"github.com/spott-app/spott-backend/internal/events"
)

// EventRouter is the single bus subscriber for the SSE layer. It
// delivers each event to the connections of the principal the event
// belongs to, keeping principals isolated from each other's streams.
type EventRouter struct {
	connManager *ConnectionManager
	unsubscribe func()
}

// NewEventRouter creates an EventRouter and registers it on the stream.
// Call Stop to release the registration.
func NewEventRouter(connManager *ConnectionManager, stream events.Stream) *EventRouter {
	r := &EventRouter{connManager: connManager}
	r.unsubscribe = stream.Subscribe(r.route)
	return r
}

// Stop releases the bus registration. Idempotent via the bus contract.
func (r *EventRouter) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// route delivers one event to its principal's connections. Events with
// no principal attribution are not deliverable over a per-principal
// stream and are dropped here.
func (r *EventRouter) route(event events.Event) {
	if event.Principal == "" {
		return
	}
	r.connManager.Broadcast(event.Principal, event)
}

// HasActiveConnections returns true if the principal has at least one
// open connection.
func (r *EventRouter) HasActiveConnections(principalID string) bool {
	return r.connManager.CountConnections(principalID) > 0
}
