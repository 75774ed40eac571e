// Package bus implements the realtime fan-out bus: exactly one upstream
// change-feed subscription per active principal, normalized into typed
// events and broadcast to any number of registered handlers.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/gateway"
	"github.com/spott-app/spott-backend/internal/metrics"
)

// SessionState is the bus session lifecycle state.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateEstablishing
	StateLive
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateLive:
		return "live"
	default:
		return "uninitialized"
	}
}

// Fanout is the process-wide bus. It is constructed once in the
// composition root and injected; there is no ambient package state.
type Fanout struct {
	stream gateway.ChangeStream
	replay *events.ReplayBuffer
	logger *slog.Logger

	// session state, sole writer is EnsureSessionForPrincipal
	sessionMu sync.Mutex
	state     SessionState
	principal string
	sub       *gateway.Subscription

	// handler registry, independent of session lifecycle
	handlerMu sync.RWMutex
	handlers  map[string]events.Handler
}

// New creates a Fanout over the given change stream. replay may be nil
// when reconnect catch-up is not wanted.
func New(stream gateway.ChangeStream, replay *events.ReplayBuffer, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		stream:   stream,
		replay:   replay,
		logger:   logger.With("component", "bus"),
		handlers: make(map[string]events.Handler),
	}
}

// Subscribe registers a handler for every broadcast event, in arrival
// order, on the goroutine that pumps the change feed. The returned
// unsubscribe function is idempotent. Registration survives sign-out;
// callers own their unsubscription.
func (f *Fanout) Subscribe(handler events.Handler) (unsubscribe func()) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()

	id := uuid.New().String()
	f.handlers[id] = handler
	metrics.BusHandlersActive.Set(float64(len(f.handlers)))

	return func() {
		f.handlerMu.Lock()
		defer f.handlerMu.Unlock()
		delete(f.handlers, id)
		metrics.BusHandlersActive.Set(float64(len(f.handlers)))
	}
}

// EnsureSessionForPrincipal is idempotent: with the current principal and a
// live subscription it does nothing; with a different principal it tears
// the old subscription down before establishing the new one; with an empty
// principal it tears down and clears session bookkeeping. Handlers are
// never unregistered here.
func (f *Fanout) EnsureSessionForPrincipal(ctx context.Context, principal string) error {
	f.sessionMu.Lock()

	if principal == "" {
		f.teardownLocked()
		f.sessionMu.Unlock()
		return nil
	}

	if f.principal == principal && f.state != StateUninitialized {
		// Idempotency guard: already live (or being established) for
		// this principal.
		f.sessionMu.Unlock()
		return nil
	}

	// Principal change: old subscription goes down strictly before the
	// new one is requested.
	f.teardownLocked()
	f.state = StateEstablishing
	f.principal = principal
	f.sessionMu.Unlock()

	// The session is process-wide and outlives whichever request asked
	// for it; only teardown, a principal change, or a stream failure may
	// end it, never the establishing caller's cancellation.
	sub, err := f.stream.Subscribe(context.WithoutCancel(ctx), principal)

	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()

	if f.state != StateEstablishing || f.principal != principal {
		// Superseded while we were subscribing (sign-out or another
		// principal change won the race).
		if err == nil {
			sub.Close()
		}
		return nil
	}
	if err != nil {
		f.state = StateUninitialized
		f.principal = ""
		return err
	}

	f.sub = sub
	f.state = StateLive
	f.logger.Info("bus session established", "principal", principal)
	go f.pump(sub, principal)
	return nil
}

// State returns the current session state.
func (f *Fanout) State() SessionState {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()
	return f.state
}

// Principal returns the active session principal, empty when signed out.
func (f *Fanout) Principal() string {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()
	return f.principal
}

// HandlerCount returns the number of registered handlers.
func (f *Fanout) HandlerCount() int {
	f.handlerMu.RLock()
	defer f.handlerMu.RUnlock()
	return len(f.handlers)
}

// teardownLocked closes any live subscription and resets the session.
// Caller holds sessionMu.
func (f *Fanout) teardownLocked() {
	if f.sub != nil {
		f.sub.Close()
		f.sub = nil
	}
	if f.state != StateUninitialized {
		f.logger.Info("bus session torn down", "principal", f.principal)
	}
	f.state = StateUninitialized
	f.principal = ""
}

// pump consumes the subscription until it closes. A closed or failed
// stream resets the session so the next EnsureSessionForPrincipal call
// re-establishes it; there is no retry loop here.
func (f *Fanout) pump(sub *gateway.Subscription, principal string) {
	for change := range sub.C {
		f.broadcastChange(change, principal)
	}

	f.sessionMu.Lock()
	if f.sub == sub {
		f.sub = nil
		f.state = StateUninitialized
		f.principal = ""
		f.logger.Warn("change feed subscription ended", "principal", principal)
	}
	f.sessionMu.Unlock()
}

// broadcastChange normalizes one raw change and delivers it to every
// handler. Unmapped changes are dropped here and never reach handlers.
func (f *Fanout) broadcastChange(change gateway.ChangeNotification, principal string) {
	variant, ok := events.Normalize(change.Collection, change.Op)
	if !ok {
		metrics.BusUnmappedTotal.WithLabelValues(change.Collection, string(change.Op)).Inc()
		f.logger.Debug("dropping unmapped change",
			"collection", change.Collection, "op", change.Op)
		return
	}

	ev := events.Event{
		ID:        uuid.New().String(),
		Variant:   variant,
		Op:        change.Op,
		Principal: principal,
		Payload:   change.Row,
		Timestamp: time.Now(),
	}

	if f.replay != nil {
		f.replay.Append(ev)
	}
	metrics.BusEventsTotal.WithLabelValues(string(variant)).Inc()

	f.handlerMu.RLock()
	handlersCopy := make([]events.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlersCopy = append(handlersCopy, h)
	}
	f.handlerMu.RUnlock()

	for _, h := range handlersCopy {
		f.deliver(h, ev)
	}
}

// deliver invokes one handler, isolating panics so a throwing handler
// cannot block delivery to the rest.
func (f *Fanout) deliver(h events.Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanicsTotal.Inc()
			f.logger.Error("bus handler panicked", "variant", ev.Variant, "panic", r)
		}
	}()
	h(ev)
}
