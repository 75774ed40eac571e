package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/repository"
)

type fakeStream struct {
	mu       sync.Mutex
	handlers map[int]events.Handler
	next     int
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: make(map[int]events.Handler)}
}

func (s *fakeStream) Subscribe(h events.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeStream) Emit(variant events.Variant, row events.NotificationRow) {
	raw, _ := json.Marshal(row)
	ev := events.Event{ID: uuid.New().String(), Variant: variant, Payload: raw, Timestamp: time.Now()}
	s.mu.Lock()
	hs := make([]events.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

type fakeRepo struct {
	mu     sync.Mutex
	items  []repository.Notification
	unread int

	markReadErr    error
	markAllReadErr error
	deleteErr      error
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.Notification, len(r.items))
	copy(out, r.items)
	return out, nil
}

func (r *fakeRepo) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread, nil
}

func (r *fakeRepo) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return r.markReadErr
}

func (r *fakeRepo) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, r.markAllReadErr
}

func (r *fakeRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	return r.deleteErr
}

func waitReady(t *testing.T, v *View) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !v.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("view never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

func notif(userID uuid.UUID, read bool) repository.Notification {
	return repository.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      "follow",
		Title:     "New follower",
		IsRead:    read,
		CreatedAt: time.Now(),
	}
}

func notifRow(n repository.Notification) events.NotificationRow {
	return events.NotificationRow{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func TestViewInitialLoad(t *testing.T) {
	principal := uuid.New()
	repo := &fakeRepo{
		items:  []repository.Notification{notif(principal, false), notif(principal, true)},
		unread: 1,
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if got := len(v.Items()); got != 2 {
		t.Errorf("items = %d, want 2", got)
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
}

func TestNilPrincipalViewIsInert(t *testing.T) {
	v := NewView(context.Background(), newFakeStream(), &fakeRepo{}, uuid.Nil, time.Hour, nil)
	defer v.Close()

	if !v.Ready() {
		t.Error("inert view not ready")
	}
	if got := len(v.Items()); got != 0 {
		t.Errorf("items = %d, want 0", got)
	}
}

func TestInsertEventPrependsAndBumpsUnread(t *testing.T) {
	principal := uuid.New()
	stream := newFakeStream()
	v := NewView(context.Background(), stream, &fakeRepo{}, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	fresh := notif(principal, false)
	stream.Emit(events.NotificationInserted, notifRow(fresh))
	// a notification for a different user must be ignored
	stream.Emit(events.NotificationInserted, notifRow(notif(uuid.New(), false)))

	items := v.Items()
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Fatalf("items = %v, want just the fresh notification", items)
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
}

func TestInsertEventEchoIsNotDuplicated(t *testing.T) {
	principal := uuid.New()
	stream := newFakeStream()
	v := NewView(context.Background(), stream, &fakeRepo{}, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	n := notif(principal, false)
	stream.Emit(events.NotificationInserted, notifRow(n))
	stream.Emit(events.NotificationInserted, notifRow(n))

	if got := len(v.Items()); got != 1 {
		t.Errorf("items = %d after duplicate insert, want 1", got)
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}
}

func TestUpdateEventFlipsUnread(t *testing.T) {
	principal := uuid.New()
	n := notif(principal, false)
	repo := &fakeRepo{items: []repository.Notification{n}, unread: 1}
	stream := newFakeStream()
	v := NewView(context.Background(), stream, repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	read := n
	read.IsRead = true
	stream.Emit(events.NotificationUpdated, notifRow(read))

	if unread, _ := v.Unread(); unread != 0 {
		t.Errorf("unread = %d after read update, want 0", unread)
	}
	if items := v.Items(); !items[0].IsRead {
		t.Error("item not marked read")
	}
}

func TestDeleteEventRemovesItem(t *testing.T) {
	principal := uuid.New()
	n := notif(principal, false)
	repo := &fakeRepo{items: []repository.Notification{n}, unread: 1}
	stream := newFakeStream()
	v := NewView(context.Background(), stream, repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	stream.Emit(events.NotificationDeleted, notifRow(n))

	if got := len(v.Items()); got != 0 {
		t.Errorf("items = %d after delete, want 0", got)
	}
	if unread, _ := v.Unread(); unread != 0 {
		t.Errorf("unread = %d, want 0", unread)
	}
}

func TestMarkReadRollsBackOnFailure(t *testing.T) {
	principal := uuid.New()
	n := notif(principal, false)
	repo := &fakeRepo{
		items:       []repository.Notification{n},
		unread:      1,
		markReadErr: errors.New("db down"),
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.MarkRead(context.Background(), n.ID); err == nil {
		t.Fatal("expected error")
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d after rollback, want 1", unread)
	}
	if items := v.Items(); items[0].IsRead {
		t.Error("item left marked read after rollback")
	}
}

func TestMarkAllReadRollsBackOnFailure(t *testing.T) {
	principal := uuid.New()
	a := notif(principal, false)
	b := notif(principal, true)
	repo := &fakeRepo{
		items:          []repository.Notification{a, b},
		unread:         1,
		markAllReadErr: errors.New("db down"),
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.MarkAllRead(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d after rollback, want 1", unread)
	}
	items := v.Items()
	if items[0].IsRead || !items[1].IsRead {
		t.Error("read flags not restored after rollback")
	}
}

func TestDeleteRestoresItemOnFailure(t *testing.T) {
	principal := uuid.New()
	n := notif(principal, false)
	repo := &fakeRepo{
		items:     []repository.Notification{n},
		unread:    1,
		deleteErr: errors.New("db down"),
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.Delete(context.Background(), n.ID); err == nil {
		t.Fatal("expected error")
	}
	items := v.Items()
	if len(items) != 1 || items[0].ID != n.ID {
		t.Fatal("item not restored after failed delete")
	}
	if unread, _ := v.Unread(); unread != 1 {
		t.Errorf("unread = %d after rollback, want 1", unread)
	}
}

func TestMarkAllReadZeroesUnread(t *testing.T) {
	principal := uuid.New()
	repo := &fakeRepo{
		items:  []repository.Notification{notif(principal, false), notif(principal, false)},
		unread: 2,
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.MarkAllRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	if unread, _ := v.Unread(); unread != 0 {
		t.Errorf("unread = %d, want 0", unread)
	}
	for _, item := range v.Items() {
		if !item.IsRead {
			t.Error("item left unread")
		}
	}
}
