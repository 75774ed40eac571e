package shares

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

func (s *fakeStream) Emit(variant events.Variant, row events.LocationShareRow) {
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
	mu        sync.Mutex
	items     []repository.LocationShare
	insertErr error
	deleteErr error
}

func (r *fakeRepo) InsertLocationShare(ctx context.Context, s *repository.LocationShare) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	s.ID = uuid.New()
	return nil
}

func (r *fakeRepo) ListIncomingShares(ctx context.Context, recipientID uuid.UUID, limit int) ([]repository.LocationShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.LocationShare, len(r.items))
	copy(out, r.items)
	return out, nil
}

func (r *fakeRepo) DeleteLocationShare(ctx context.Context, id, userID uuid.UUID) error {
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

func share(recipient uuid.UUID, expiresAt *time.Time) repository.LocationShare {
	return repository.LocationShare{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: recipient,
		LocationID:  uuid.New(),
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
}

func shareRow(s repository.LocationShare) events.LocationShareRow {
	return events.LocationShareRow{
		ID:          s.ID.String(),
		SenderID:    s.SenderID.String(),
		RecipientID: s.RecipientID.String(),
		LocationID:  s.LocationID.String(),
		Note:        s.Note,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
	}
}

func TestItemsFilterExpiredShares(t *testing.T) {
	principal := uuid.New()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	repo := &fakeRepo{items: []repository.LocationShare{
		share(principal, &past),
		share(principal, &future),
		share(principal, nil),
	}}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	items := v.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (expired filtered)", len(items))
	}
	for _, s := range items {
		if s.ExpiresAt != nil && !s.ExpiresAt.After(time.Now()) {
			t.Error("expired share surfaced")
		}
	}
}

func TestInsertEventPrependsForRecipientOnly(t *testing.T) {
	principal := uuid.New()
	stream := newFakeStream()
	v := NewView(context.Background(), stream, &fakeRepo{}, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	incoming := share(principal, nil)
	stream.Emit(events.LocationShareInserted, shareRow(incoming))
	stream.Emit(events.LocationShareInserted, shareRow(share(uuid.New(), nil)))

	items := v.Items()
	if len(items) != 1 || items[0].ID != incoming.ID {
		t.Fatalf("items = %v, want just the incoming share", items)
	}
}

func TestAlreadyExpiredInsertEventIsIgnored(t *testing.T) {
	principal := uuid.New()
	stream := newFakeStream()
	v := NewView(context.Background(), stream, &fakeRepo{}, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	past := time.Now().Add(-time.Second)
	stream.Emit(events.LocationShareInserted, shareRow(share(principal, &past)))

	if items := v.Items(); len(items) != 0 {
		t.Errorf("items = %v, want none", items)
	}
}

func TestDuplicateInsertEventIsNotDoubled(t *testing.T) {
	principal := uuid.New()
	stream := newFakeStream()
	v := NewView(context.Background(), stream, &fakeRepo{}, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	s := share(principal, nil)
	stream.Emit(events.LocationShareInserted, shareRow(s))
	stream.Emit(events.LocationShareInserted, shareRow(s))

	if items := v.Items(); len(items) != 1 {
		t.Errorf("items = %d after duplicate insert, want 1", len(items))
	}
}

func TestDeleteEventRemovesShare(t *testing.T) {
	principal := uuid.New()
	s := share(principal, nil)
	repo := &fakeRepo{items: []repository.LocationShare{s}}
	stream := newFakeStream()
	v := NewView(context.Background(), stream, repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	stream.Emit(events.LocationShareDeleted, shareRow(s))

	if items := v.Items(); len(items) != 0 {
		t.Errorf("items = %d after delete event, want 0", len(items))
	}
}

func TestDismissRollsBackOnFailure(t *testing.T) {
	principal := uuid.New()
	s := share(principal, nil)
	repo := &fakeRepo{
		items:     []repository.LocationShare{s},
		deleteErr: errors.New("db down"),
	}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.Dismiss(context.Background(), s.ID); err == nil {
		t.Fatal("expected error")
	}
	items := v.Items()
	if len(items) != 1 || items[0].ID != s.ID {
		t.Fatal("share not restored after failed dismiss")
	}
}

func TestDismissRemovesShare(t *testing.T) {
	principal := uuid.New()
	s := share(principal, nil)
	repo := &fakeRepo{items: []repository.LocationShare{s}}
	v := NewView(context.Background(), newFakeStream(), repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	if err := v.Dismiss(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	if items := v.Items(); len(items) != 0 {
		t.Errorf("items = %d after dismiss, want 0", len(items))
	}
}

func TestUpdateEventReplacesShare(t *testing.T) {
	principal := uuid.New()
	s := share(principal, nil)
	repo := &fakeRepo{items: []repository.LocationShare{s}}
	stream := newFakeStream()
	v := NewView(context.Background(), stream, repo, principal, time.Hour, nil)
	defer v.Close()
	waitReady(t, v)

	note := "check this place out"
	updated := s
	updated.Note = &note
	stream.Emit(events.LocationShareUpdated, shareRow(updated))

	items := v.Items()
	if len(items) != 1 || items[0].Note == nil || *items[0].Note != note {
		t.Errorf("items = %v, want updated note", items)
	}
}
