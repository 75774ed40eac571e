package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/gateway"
)

// fakeStream is a ChangeStream whose subscriptions are fed by the test.
type fakeStream struct {
	mu   sync.Mutex
	subs []*fakeSub

	// when set, Subscribe blocks until the channel is closed
	gate chan struct{}

	subscribeErr error
}

type fakeSub struct {
	principal string
	ctx       context.Context
	ch        chan gateway.ChangeNotification
	sub       *gateway.Subscription
}

func (s *fakeStream) Subscribe(ctx context.Context, principal string) (*gateway.Subscription, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}

	ch := make(chan gateway.ChangeNotification, 16)
	_, cancel := context.WithCancel(ctx)
	sub := gateway.NewSubscription(ch, cancel)

	fs := &fakeSub{principal: principal, ctx: ctx, ch: ch, sub: sub}
	go func() {
		<-sub.Done()
		close(ch)
	}()

	s.mu.Lock()
	s.subs = append(s.subs, fs)
	s.mu.Unlock()
	return sub, nil
}

func (s *fakeStream) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *fakeStream) lastSub() *fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	return s.subs[len(s.subs)-1]
}

func feedChange(t *testing.T, fs *fakeSub, collection string, op events.Op, row string) {
	t.Helper()
	select {
	case fs.ch <- gateway.ChangeNotification{
		Collection: collection,
		Op:         op,
		Row:        json.RawMessage(row),
	}:
	case <-time.After(time.Second):
		t.Fatal("timed out feeding change")
	}
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestSessionSurvivesEstablishingCallerCancel(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	if err := f.EnsureSessionForPrincipal(reqCtx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	cancelReq()

	fs := stream.lastSub()
	select {
	case <-fs.ctx.Done():
		t.Fatal("subscription context cancelled with the establishing request")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-fs.sub.Done():
		t.Fatal("subscription torn down with the establishing request")
	default:
	}
	if got := f.State(); got != StateLive {
		t.Errorf("state = %v, want live", got)
	}

	// The feed still delivers after the establishing request is gone.
	got := make(chan events.Event, 1)
	defer f.Subscribe(func(ev events.Event) { got <- ev })()
	feedChange(t, fs, "post_likes", events.OpInsert, `{"post_id":"p1"}`)
	if ev := waitEvent(t, got); ev.Variant != events.PostLikeInserted {
		t.Errorf("variant = %v, want PostLikeInserted", ev.Variant)
	}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	if got := stream.subscribeCount(); got != 1 {
		t.Errorf("subscribe calls = %d, want 1", got)
	}
	if got := f.State(); got != StateLive {
		t.Errorf("state = %v, want live", got)
	}
	if got := f.Principal(); got != "alice" {
		t.Errorf("principal = %q, want alice", got)
	}
}

func TestPrincipalChangeTearsDownOldSessionFirst(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure alice: %v", err)
	}
	aliceSub := stream.lastSub()

	if err := f.EnsureSessionForPrincipal(ctx, "bob"); err != nil {
		t.Fatalf("ensure bob: %v", err)
	}

	select {
	case <-aliceSub.sub.Done():
	default:
		t.Error("previous subscription still open after principal change")
	}

	if got := stream.subscribeCount(); got != 2 {
		t.Errorf("subscribe calls = %d, want 2", got)
	}
	if got := f.Principal(); got != "bob" {
		t.Errorf("principal = %q, want bob", got)
	}
	if stream.lastSub().principal != "bob" {
		t.Errorf("new subscription principal = %q, want bob", stream.lastSub().principal)
	}
}

func TestSignOutClearsSessionButKeepsHandlers(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	unsub := f.Subscribe(func(events.Event) {})
	defer unsub()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	sub := stream.lastSub()

	if err := f.EnsureSessionForPrincipal(ctx, ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	if got := f.State(); got != StateUninitialized {
		t.Errorf("state after sign-out = %v, want uninitialized", got)
	}
	if got := f.Principal(); got != "" {
		t.Errorf("principal after sign-out = %q, want empty", got)
	}
	select {
	case <-sub.sub.Done():
	default:
		t.Error("subscription still open after sign-out")
	}
	if got := f.HandlerCount(); got != 1 {
		t.Errorf("handler count after sign-out = %d, want 1", got)
	}
}

func TestBroadcastReachesAllHandlers(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	const handlers = 3
	got := make(chan events.Event, handlers)
	for i := 0; i < handlers; i++ {
		unsub := f.Subscribe(func(ev events.Event) { got <- ev })
		defer unsub()
	}

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	feedChange(t, stream.lastSub(), events.CollectionPostLikes, events.OpInsert,
		`{"post_id":"p1","user_id":"u1"}`)

	for i := 0; i < handlers; i++ {
		ev := waitEvent(t, got)
		if ev.Variant != events.PostLikeInserted {
			t.Errorf("variant = %q, want %q", ev.Variant, events.PostLikeInserted)
		}
		if ev.Principal != "alice" {
			t.Errorf("principal = %q, want alice", ev.Principal)
		}
		if ev.ID == "" {
			t.Error("event ID is empty")
		}
	}
}

func TestUnmappedChangeIsDropped(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	got := make(chan events.Event, 4)
	unsub := f.Subscribe(func(ev events.Event) { got <- ev })
	defer unsub()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	sub := stream.lastSub()

	// stories has no variant mapping; the follow insert after it must be
	// the first event handlers see
	feedChange(t, sub, events.CollectionStories, events.OpInsert, `{"id":"s1"}`)
	feedChange(t, sub, events.CollectionFollows, events.OpInsert, `{"follower_id":"u1"}`)

	ev := waitEvent(t, got)
	if ev.Variant != events.FollowInserted {
		t.Errorf("variant = %q, want %q", ev.Variant, events.FollowInserted)
	}
	select {
	case ev := <-got:
		t.Errorf("unexpected extra event %q", ev.Variant)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotBlockDelivery(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	got := make(chan events.Event, 1)
	unsubPanic := f.Subscribe(func(events.Event) { panic("handler exploded") })
	defer unsubPanic()
	unsub := f.Subscribe(func(ev events.Event) { got <- ev })
	defer unsub()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	feedChange(t, stream.lastSub(), events.CollectionMessages, events.OpInsert,
		`{"id":"m1"}`)

	ev := waitEvent(t, got)
	if ev.Variant != events.MessageInserted {
		t.Errorf("variant = %q, want %q", ev.Variant, events.MessageInserted)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := New(&fakeStream{}, nil, nil)

	unsubA := f.Subscribe(func(events.Event) {})
	unsubB := f.Subscribe(func(events.Event) {})

	unsubA()
	unsubA()
	if got := f.HandlerCount(); got != 1 {
		t.Errorf("handler count = %d, want 1", got)
	}
	unsubB()
	if got := f.HandlerCount(); got != 0 {
		t.Errorf("handler count = %d, want 0", got)
	}
}

func TestSignOutDuringEstablishSupersedesSession(t *testing.T) {
	gate := make(chan struct{})
	stream := &fakeStream{gate: gate}
	f := New(stream, nil, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.EnsureSessionForPrincipal(ctx, "alice") }()

	// wait for the establish attempt to park on the gate
	deadline := time.Now().Add(time.Second)
	for f.State() != StateEstablishing {
		if time.Now().After(deadline) {
			t.Fatal("session never entered establishing state")
		}
		time.Sleep(time.Millisecond)
	}

	stream.mu.Lock()
	stream.gate = nil
	stream.mu.Unlock()
	if err := f.EnsureSessionForPrincipal(ctx, ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("superseded ensure returned error: %v", err)
	}
	if got := f.State(); got != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", got)
	}
	// the late subscription must have been closed, not leaked
	sub := stream.lastSub()
	select {
	case <-sub.sub.Done():
	case <-time.After(time.Second):
		t.Error("superseded subscription never closed")
	}
}

func TestSubscribeErrorResetsSession(t *testing.T) {
	stream := &fakeStream{subscribeErr: fmt.Errorf("listener down")}
	f := New(stream, nil, nil)

	err := f.EnsureSessionForPrincipal(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error from failed subscribe")
	}
	if got := f.State(); got != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", got)
	}
	if got := f.Principal(); got != "" {
		t.Errorf("principal = %q, want empty", got)
	}
}

func TestClosedFeedResetsSession(t *testing.T) {
	stream := &fakeStream{}
	f := New(stream, nil, nil)
	ctx := context.Background()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	sub := stream.lastSub()
	close(sub.ch)

	deadline := time.Now().Add(2 * time.Second)
	for f.State() != StateUninitialized {
		if time.Now().After(deadline) {
			t.Fatal("session never reset after feed closed")
		}
		time.Sleep(time.Millisecond)
	}

	// a fresh ensure re-establishes
	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if got := stream.subscribeCount(); got != 2 {
		t.Errorf("subscribe calls = %d, want 2", got)
	}
}

func TestEventsAreAppendedToReplayBuffer(t *testing.T) {
	stream := &fakeStream{}
	replay := events.NewReplayBuffer(8)
	f := New(stream, replay, nil)
	ctx := context.Background()

	got := make(chan events.Event, 1)
	unsub := f.Subscribe(func(ev events.Event) { got <- ev })
	defer unsub()

	if err := f.EnsureSessionForPrincipal(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	feedChange(t, stream.lastSub(), events.CollectionNotifications, events.OpInsert,
		`{"id":"n1","user_id":"alice"}`)
	ev := waitEvent(t, got)

	buffered := replay.Since("alice", "", 10)
	if len(buffered) != 1 {
		t.Fatalf("replay buffer holds %d events, want 1", len(buffered))
	}
	if buffered[0].ID != ev.ID {
		t.Errorf("replayed event ID = %q, want %q", buffered[0].ID, ev.ID)
	}
}
