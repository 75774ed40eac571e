package events

import (
	"sync"
	"time"
)

// ReplayBuffer keeps a bounded window of recently broadcast events so a
// client that reconnects its stream can catch up via Last-Event-ID instead
// of waiting for its next backstop poll.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []Event
	max     int
}

// NewReplayBuffer creates a buffer holding at most max events.
func NewReplayBuffer(max int) *ReplayBuffer {
	if max <= 0 {
		max = 1000
	}
	return &ReplayBuffer{max: max}
}

// Append records an event, evicting the oldest entries once full.
func (b *ReplayBuffer) Append(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, ev)
	if len(b.entries) > b.max {
		overflow := len(b.entries) - b.max
		b.entries = append(b.entries[:0:0], b.entries[overflow:]...)
	}
}

// Since returns up to limit events for the principal that arrived after the
// event with lastEventID. An empty lastEventID returns the most recent
// events; an unknown id returns nothing (the caller falls back to a full
// refresh).
func (b *ReplayBuffer) Since(principal, lastEventID string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	start := 0
	if lastEventID != "" {
		found := false
		for i, ev := range b.entries {
			if ev.ID == lastEventID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	out := make([]Event, 0)
	for _, ev := range b.entries[start:] {
		if ev.Principal != principal {
			continue
		}
		out = append(out, ev)
		// A resume keeps the oldest entries so the sequence stays
		// contiguous from the resume point; without a resume point the
		// newest entries win.
		if lastEventID != "" && len(out) == limit {
			break
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Trim drops events older than the retention window.
func (b *ReplayBuffer) Trim(retention time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	i := 0
	for i < len(b.entries) && !b.entries[i].Timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		b.entries = append(b.entries[:0:0], b.entries[i:]...)
	}
}

// Len returns the number of buffered events.
func (b *ReplayBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
