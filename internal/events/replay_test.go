package events

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func makeEvent(id, principal string, ts time.Time) Event {
	return Event{
		ID:        id,
		Variant:   NotificationInserted,
		Op:        OpInsert,
		Principal: principal,
		Timestamp: ts,
	}
}

func TestReplaySinceFiltersByPrincipal(t *testing.T) {
	b := NewReplayBuffer(10)
	now := time.Now()
	b.Append(makeEvent("e1", "alice", now))
	b.Append(makeEvent("e2", "bob", now))
	b.Append(makeEvent("e3", "alice", now))

	got := b.Since("alice", "", 10)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID != "e1" || got[1].ID != "e3" {
		t.Errorf("got IDs %q, %q; want e1, e3", got[0].ID, got[1].ID)
	}
}

func TestReplaySinceStartsAfterLastEventID(t *testing.T) {
	b := NewReplayBuffer(10)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		b.Append(makeEvent(fmt.Sprintf("e%d", i), "alice", now))
	}

	got := b.Since("alice", "e3", 10)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID != "e4" || got[1].ID != "e5" {
		t.Errorf("got IDs %q, %q; want e4, e5", got[0].ID, got[1].ID)
	}
}

func TestReplaySinceUnknownIDReturnsNothing(t *testing.T) {
	b := NewReplayBuffer(10)
	b.Append(makeEvent("e1", "alice", time.Now()))

	if got := b.Since("alice", "evicted", 10); got != nil {
		t.Errorf("got %d events for unknown id, want nil", len(got))
	}
}

func TestReplayAppendEvictsOldest(t *testing.T) {
	b := NewReplayBuffer(3)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		b.Append(makeEvent(fmt.Sprintf("e%d", i), "alice", now))
	}

	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Since("alice", "", 10)
	if got[0].ID != "e3" || got[2].ID != "e5" {
		t.Errorf("window = [%q..%q], want [e3..e5]", got[0].ID, got[2].ID)
	}
	// after eviction the id behaves like any unknown id
	if b.Since("alice", "e1", 10) != nil {
		t.Error("evicted last-event-id still resolved")
	}
}

func TestReplaySinceWithoutResumePointReturnsNewest(t *testing.T) {
	b := NewReplayBuffer(20)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		b.Append(makeEvent(fmt.Sprintf("e%d", i), "alice", now))
	}

	got := b.Since("alice", "", 2)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID != "e4" || got[1].ID != "e5" {
		t.Errorf("got IDs %q, %q; want e4, e5", got[0].ID, got[1].ID)
	}
}

func TestReplaySinceRespectsLimit(t *testing.T) {
	b := NewReplayBuffer(20)
	now := time.Now()
	for i := 1; i <= 10; i++ {
		b.Append(makeEvent(fmt.Sprintf("e%d", i), "alice", now))
	}

	got := b.Since("alice", "e2", 3)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].ID != "e3" {
		t.Errorf("first ID = %q, want e3", got[0].ID)
	}
}

func TestReplayTrimDropsExpiredEvents(t *testing.T) {
	b := NewReplayBuffer(10)
	b.Append(makeEvent("old", "alice", time.Now().Add(-2*time.Hour)))
	b.Append(makeEvent("new", "alice", time.Now()))

	b.Trim(time.Hour)

	got := b.Since("alice", "", 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("after trim got %v, want only the fresh event", got)
	}
}

func TestReplayOrderPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 50).Draw(t, "max")
		n := rapid.IntRange(0, 100).Draw(t, "n")

		b := NewReplayBuffer(max)
		now := time.Now()
		var ids []string
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("e%d", i)
			ids = append(ids, id)
			b.Append(makeEvent(id, "p", now))
		}

		got := b.Since("p", "", n+1)
		want := ids
		if len(want) > max {
			want = want[len(want)-max:]
		}
		if len(got) != len(want) {
			t.Fatalf("got %d events, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i].ID != want[i] {
				t.Fatalf("position %d: got %q, want %q", i, got[i].ID, want[i])
			}
		}
	})
}
