package sse

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
)

type fakeStream struct {
	mu       sync.Mutex
	handlers []events.Handler
}

func (s *fakeStream) Subscribe(h events.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
	return func() {}
}

func (s *fakeStream) Emit(ev events.Event) {
	s.mu.Lock()
	hs := append([]events.Handler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func newTestConnection(t *testing.T, principal string) (*Connection, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	conn, err := NewConnection(uuid.New().String(), principal, rec)
	if err != nil {
		t.Fatal(err)
	}
	return conn, rec
}

func TestFormatSSEEvent(t *testing.T) {
	ev := events.Event{
		ID:      "ev-1",
		Variant: events.NotificationInserted,
		Payload: json.RawMessage(`{"id":"n1"}`),
	}

	got := FormatSSEEvent(ev)
	want := "event: notification.inserted\ndata: {\"id\":\"n1\"}\nid: ev-1\n\n"
	if got != want {
		t.Errorf("framing = %q, want %q", got, want)
	}
}

func TestWriteEventToClosedConnection(t *testing.T) {
	conn, _ := newTestConnection(t, "alice")
	conn.Close()

	err := WriteEvent(conn, events.Event{ID: "ev-1"})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestBroadcastReachesOnlyThePrincipal(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())

	aliceConn, aliceRec := newTestConnection(t, "alice")
	bobConn, bobRec := newTestConnection(t, "bob")
	if err := cm.AddConnection("alice", aliceConn); err != nil {
		t.Fatal(err)
	}
	if err := cm.AddConnection("bob", bobConn); err != nil {
		t.Fatal(err)
	}

	cm.Broadcast("alice", events.Event{
		ID:      "ev-1",
		Variant: events.MessageInserted,
		Payload: json.RawMessage(`{"id":"m1"}`),
	})

	if !strings.Contains(aliceRec.Body.String(), "id: ev-1") {
		t.Error("alice did not receive the event")
	}
	if bobRec.Body.Len() != 0 {
		t.Errorf("bob received %q, want nothing", bobRec.Body.String())
	}
}

func TestConnectionCapClosesOldest(t *testing.T) {
	config := DefaultConfig()
	config.MaxConnectionsPerPrincipal = 2
	cm := NewConnectionManager(config)

	first, firstRec := newTestConnection(t, "alice")
	first.CreatedAt = time.Now().Add(-time.Minute)
	second, _ := newTestConnection(t, "alice")
	third, _ := newTestConnection(t, "alice")

	for _, conn := range []*Connection{first, second, third} {
		if err := cm.AddConnection("alice", conn); err != nil {
			t.Fatal(err)
		}
	}

	if !first.IsClosed() {
		t.Error("oldest connection not closed at the cap")
	}
	if second.IsClosed() || third.IsClosed() {
		t.Error("newer connection closed instead of the oldest")
	}
	if !strings.Contains(firstRec.Body.String(), "connection_limit") {
		t.Error("evicted connection was not told why")
	}
	if got := cm.CountConnections("alice"); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
}

func TestRemoveConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())
	conn, _ := newTestConnection(t, "alice")
	if err := cm.AddConnection("alice", conn); err != nil {
		t.Fatal(err)
	}

	cm.RemoveConnection("alice", conn.ID)

	if !conn.IsClosed() {
		t.Error("removed connection left open")
	}
	if got := cm.CountConnections("alice"); got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
	if got := cm.TotalConnections(); got != 0 {
		t.Errorf("total connections = %d, want 0", got)
	}
}

func TestCleanupReapsStaleConnections(t *testing.T) {
	config := DefaultConfig()
	config.HeartbeatInterval = 10 * time.Millisecond
	cm := NewConnectionManager(config)

	stale, _ := newTestConnection(t, "alice")
	stale.LastPing = time.Now().Add(-time.Second)
	fresh, _ := newTestConnection(t, "alice")
	if err := cm.AddConnection("alice", stale); err != nil {
		t.Fatal(err)
	}
	if err := cm.AddConnection("alice", fresh); err != nil {
		t.Fatal(err)
	}

	cm.CleanupDeadConnections()

	if !stale.IsClosed() {
		t.Error("stale connection not reaped")
	}
	if fresh.IsClosed() {
		t.Error("fresh connection reaped")
	}
	if got := cm.CountConnections("alice"); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestCleanupReapsExpiredConnections(t *testing.T) {
	config := DefaultConfig()
	config.ConnectionTimeout = time.Minute
	cm := NewConnectionManager(config)

	old, _ := newTestConnection(t, "alice")
	old.CreatedAt = time.Now().Add(-2 * time.Minute)
	if err := cm.AddConnection("alice", old); err != nil {
		t.Fatal(err)
	}

	cm.CleanupDeadConnections()

	if !old.IsClosed() {
		t.Error("connection past the timeout not reaped")
	}
}

func TestMarkConnectionAlive(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())
	conn, _ := newTestConnection(t, "alice")
	if err := cm.AddConnection("alice", conn); err != nil {
		t.Fatal(err)
	}
	before := conn.LastPing

	time.Sleep(time.Millisecond)
	if !cm.MarkConnectionAlive("alice", conn.ID) {
		t.Fatal("known connection reported missing")
	}
	if !conn.LastPing.After(before) {
		t.Error("LastPing not advanced")
	}
	if cm.MarkConnectionAlive("alice", "no-such-conn") {
		t.Error("unknown connection reported alive")
	}
}

func TestEventRouterDeliversToPrincipal(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())
	stream := &fakeStream{}
	router := NewEventRouter(cm, stream)
	defer router.Stop()

	conn, rec := newTestConnection(t, "alice")
	if err := cm.AddConnection("alice", conn); err != nil {
		t.Fatal(err)
	}

	stream.Emit(events.Event{
		ID:        "ev-1",
		Variant:   events.NotificationInserted,
		Principal: "alice",
		Payload:   json.RawMessage(`{"id":"n1"}`),
	})

	if !strings.Contains(rec.Body.String(), "event: notification.inserted") {
		t.Errorf("body = %q, want routed event", rec.Body.String())
	}
	if !router.HasActiveConnections("alice") {
		t.Error("router reports no active connections")
	}
}

func TestEventRouterDropsUnattributedEvents(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())
	stream := &fakeStream{}
	router := NewEventRouter(cm, stream)
	defer router.Stop()

	conn, rec := newTestConnection(t, "alice")
	if err := cm.AddConnection("alice", conn); err != nil {
		t.Fatal(err)
	}

	stream.Emit(events.Event{
		ID:      "ev-1",
		Variant: events.PostLikeInserted,
		Payload: json.RawMessage(`{"id":"l1"}`),
	})

	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want nothing for unattributed event", rec.Body.String())
	}
}
