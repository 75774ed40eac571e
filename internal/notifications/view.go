// Package notifications keeps a per-principal live view of the
// notification feed and unread count, fed by the fan-out bus with a
// periodic backstop poll.
package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/bus"
	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/repository"
)

// DefaultPollInterval is the backstop poll cadence for notification views.
const DefaultPollInterval = 30 * time.Second

const feedLimit = 50

// Repo is the slice of the notification repository the view needs.
type Repo interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// View is the live notification slice for one principal. The incremental
// event path is an optimization; the backstop poll re-reads the
// authoritative state and both must converge.
type View struct {
	repo      Repo
	principal uuid.UUID
	logger    *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64 // refresh sequence, stale responses are discarded

	mu     sync.RWMutex
	loaded bool
	items  []repository.Notification
	unread int
}

// NewView builds a view for the principal and starts its initial load,
// bus subscription, and backstop poll. A nil principal yields an inert
// view: empty state, no I/O.
func NewView(ctx context.Context, stream events.Stream, repo Repo, principal uuid.UUID, poll time.Duration, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		repo:      repo,
		principal: principal,
		logger:    logger.With("component", "notifications.view", "principal", principal),
		stop:      make(chan struct{}),
	}
	if principal == uuid.Nil {
		v.loaded = true
		return v
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	v.sub = bus.OnEvents(stream, []events.Variant{
		events.NotificationInserted,
		events.NotificationUpdated,
		events.NotificationDeleted,
	}, v.onEvent)

	go v.Refresh(ctx)

	v.ticker = time.NewTicker(poll)
	go func() {
		for {
			select {
			case <-v.ticker.C:
				v.Refresh(ctx)
			case <-v.stop:
				return
			}
		}
	}()
	return v
}

// Close stops the poll and releases the bus registration. Idempotent.
func (v *View) Close() {
	v.once.Do(func() {
		close(v.stop)
		if v.ticker != nil {
			v.ticker.Stop()
		}
		if v.sub != nil {
			v.sub.Close()
		}
	})
}

// Ready reports whether the initial load has completed. A ready view with
// zero notifications is "known to be empty", not "not yet known".
func (v *View) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Items returns the current feed, newest first.
func (v *View) Items() []repository.Notification {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]repository.Notification, len(v.items))
	copy(out, v.items)
	return out
}

// Unread returns the unread count and whether it is known yet.
func (v *View) Unread() (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unread, v.loaded
}

// Refresh re-reads the authoritative state. Read failures keep the
// current (possibly stale) state; a response that lost the race with a
// newer refresh is discarded.
func (v *View) Refresh(ctx context.Context) {
	if v.principal == uuid.Nil {
		return
	}
	seq := v.seq.Add(1)

	items, err := v.repo.ListByUser(ctx, v.principal, feedLimit)
	if err != nil {
		v.logger.Warn("notification refresh failed", "error", err)
		v.markLoadedEmptyOnce()
		return
	}
	unread, err := v.repo.UnreadCount(ctx, v.principal)
	if err != nil {
		v.logger.Warn("unread count refresh failed", "error", err)
		v.markLoadedEmptyOnce()
		return
	}

	if v.seq.Load() != seq {
		return // superseded by a newer refresh
	}

	v.mu.Lock()
	v.items = items
	v.unread = unread
	v.loaded = true
	v.mu.Unlock()
}

// markLoadedEmptyOnce resolves a failed initial load to a safe empty
// state instead of leaving the view undefined.
func (v *View) markLoadedEmptyOnce() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		v.items = nil
		v.unread = 0
		v.loaded = true
	}
}

// onEvent applies one bus event to the view.
func (v *View) onEvent(ev events.Event) {
	var row events.NotificationRow
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		v.logger.Warn("malformed notification payload, re-fetching", "error", err)
		go v.Refresh(context.Background())
		return
	}
	if row.UserID != v.principal.String() {
		return
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Variant {
	case events.NotificationInserted:
		for _, existing := range v.items {
			if existing.ID == id {
				return // echo of our own write, already applied
			}
		}
		v.items = append([]repository.Notification{rowToModel(id, row)}, v.items...)
		if len(v.items) > feedLimit {
			v.items = v.items[:feedLimit]
		}
		if !row.IsRead {
			v.unread++
		}
	case events.NotificationUpdated:
		for i := range v.items {
			if v.items[i].ID != id {
				continue
			}
			if v.items[i].IsRead != row.IsRead {
				if row.IsRead {
					v.unread--
				} else {
					v.unread++
				}
			}
			v.items[i] = rowToModel(id, row)
			break
		}
		if v.unread < 0 {
			v.unread = 0
		}
	case events.NotificationDeleted:
		for i := range v.items {
			if v.items[i].ID != id {
				continue
			}
			if !v.items[i].IsRead && v.unread > 0 {
				v.unread--
			}
			v.items = append(v.items[:i], v.items[i+1:]...)
			break
		}
	}
}

// MarkRead optimistically marks one notification read, rolling the patch
// back if persistence fails.
func (v *View) MarkRead(ctx context.Context, id uuid.UUID) error {
	inverse := v.applyReadPatch(id, true)

	if err := v.repo.MarkRead(ctx, id, v.principal); err != nil {
		inverse()
		return err
	}
	return nil
}

// MarkAllRead optimistically zeroes the unread count, reloading on
// failure.
func (v *View) MarkAllRead(ctx context.Context) error {
	v.mu.Lock()
	prevUnread := v.unread
	prevRead := make(map[uuid.UUID]bool, len(v.items))
	for i := range v.items {
		prevRead[v.items[i].ID] = v.items[i].IsRead
		v.items[i].IsRead = true
	}
	v.unread = 0
	v.mu.Unlock()

	if _, err := v.repo.MarkAllRead(ctx, v.principal); err != nil {
		v.mu.Lock()
		for i := range v.items {
			if wasRead, ok := prevRead[v.items[i].ID]; ok {
				v.items[i].IsRead = wasRead
			}
		}
		v.unread = prevUnread
		v.mu.Unlock()
		return err
	}
	return nil
}

// Delete optimistically removes one notification, restoring it on
// failure.
func (v *View) Delete(ctx context.Context, id uuid.UUID) error {
	v.mu.Lock()
	var removed *repository.Notification
	var removedAt int
	for i := range v.items {
		if v.items[i].ID == id {
			n := v.items[i]
			removed = &n
			removedAt = i
			v.items = append(v.items[:i], v.items[i+1:]...)
			if !n.IsRead && v.unread > 0 {
				v.unread--
			}
			break
		}
	}
	v.mu.Unlock()

	if err := v.repo.Delete(ctx, id, v.principal); err != nil {
		if removed != nil {
			v.mu.Lock()
			if removedAt > len(v.items) {
				removedAt = len(v.items)
			}
			v.items = append(v.items[:removedAt],
				append([]repository.Notification{*removed}, v.items[removedAt:]...)...)
			if !removed.IsRead {
				v.unread++
			}
			v.mu.Unlock()
		}
		return err
	}
	return nil
}

// applyReadPatch flips one item to read/unread and returns the inverse
// patch.
func (v *View) applyReadPatch(id uuid.UUID, read bool) (inverse func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.items {
		if v.items[i].ID != id || v.items[i].IsRead == read {
			continue
		}
		v.items[i].IsRead = read
		if read {
			v.unread--
		} else {
			v.unread++
		}
		if v.unread < 0 {
			v.unread = 0
		}
		return func() { v.applyReadPatch(id, !read) }
	}
	return func() {}
}

func rowToModel(id uuid.UUID, row events.NotificationRow) repository.Notification {
	n := repository.Notification{
		ID:        id,
		Kind:      row.Kind,
		Title:     row.Title,
		Body:      row.Body,
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
	}
	if userID, err := uuid.Parse(row.UserID); err == nil {
		n.UserID = userID
	}
	if row.ActorID != nil {
		if actorID, err := uuid.Parse(*row.ActorID); err == nil {
			n.ActorID = &actorID
		}
	}
	if row.EntityID != nil {
		if entityID, err := uuid.Parse(*row.EntityID); err == nil {
			n.EntityID = &entityID
		}
	}
	return n
}
