// Package shares keeps a per-principal live view of incoming location
// shares, fed by the fan-out bus with a periodic backstop poll. Expired
// shares never surface; they are filtered on read and on event apply.
package shares

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

// DefaultPollInterval is the backstop poll cadence for share views.
const DefaultPollInterval = 30 * time.Second

const feedLimit = 50

// Repo is the slice of the social repository the view needs.
type Repo interface {
	InsertLocationShare(ctx context.Context, s *repository.LocationShare) error
	ListIncomingShares(ctx context.Context, recipientID uuid.UUID, limit int) ([]repository.LocationShare, error)
	DeleteLocationShare(ctx context.Context, id, userID uuid.UUID) error
}

// View is the live incoming-share slice for one principal.
type View struct {
	repo      Repo
	principal uuid.UUID
	logger    *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu     sync.RWMutex
	loaded bool
	items  []repository.LocationShare
}

// NewView builds a view for the principal and starts its initial load,
// bus subscription, and backstop poll. A nil principal yields an inert
// view.
func NewView(ctx context.Context, stream events.Stream, repo Repo, principal uuid.UUID, poll time.Duration, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		repo:      repo,
		principal: principal,
		logger:    logger.With("component", "shares.view", "principal", principal),
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
		events.LocationShareInserted,
		events.LocationShareUpdated,
		events.LocationShareDeleted,
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

// Ready reports whether the initial load has completed.
func (v *View) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Items returns the current unexpired incoming shares, newest first.
func (v *View) Items() []repository.LocationShare {
	now := time.Now()
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]repository.LocationShare, 0, len(v.items))
	for _, s := range v.items {
		if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Refresh re-reads the authoritative share list. Stale responses are
// discarded.
func (v *View) Refresh(ctx context.Context) {
	if v.principal == uuid.Nil {
		return
	}
	seq := v.seq.Add(1)

	items, err := v.repo.ListIncomingShares(ctx, v.principal, feedLimit)
	if err != nil {
		v.logger.Warn("share refresh failed", "error", err)
		v.mu.Lock()
		v.loaded = true
		v.mu.Unlock()
		return
	}
	if v.seq.Load() != seq {
		return
	}

	v.mu.Lock()
	v.items = items
	v.loaded = true
	v.mu.Unlock()
}

// Send persists an outgoing share. The recipient's view picks it up via
// the change stream.
func (v *View) Send(ctx context.Context, share *repository.LocationShare) error {
	return v.repo.InsertLocationShare(ctx, share)
}

// Dismiss removes a share the principal sent or received. The local slice
// drops it immediately and the removal is rolled back on failure.
func (v *View) Dismiss(ctx context.Context, id uuid.UUID) error {
	v.mu.Lock()
	var removed *repository.LocationShare
	idx := -1
	for i := range v.items {
		if v.items[i].ID == id {
			item := v.items[i]
			removed = &item
			idx = i
			v.items = append(v.items[:i], v.items[i+1:]...)
			break
		}
	}
	v.mu.Unlock()

	if err := v.repo.DeleteLocationShare(ctx, id, v.principal); err != nil {
		if removed != nil {
			v.mu.Lock()
			if idx > len(v.items) {
				idx = len(v.items)
			}
			v.items = append(v.items[:idx], append([]repository.LocationShare{*removed}, v.items[idx:]...)...)
			v.mu.Unlock()
		}
		return err
	}
	return nil
}

func (v *View) onEvent(ev events.Event) {
	var row events.LocationShareRow
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		v.logger.Warn("malformed location-share payload, re-fetching", "error", err)
		go v.Refresh(context.Background())
		return
	}
	if row.RecipientID != v.principal.String() {
		return
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return
	}
	if ev.Variant == events.LocationShareInserted && row.ExpiresAt != nil && !row.ExpiresAt.After(time.Now()) {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	switch ev.Variant {
	case events.LocationShareInserted:
		for i := range v.items {
			if v.items[i].ID == id {
				return
			}
		}
		v.items = append([]repository.LocationShare{rowToModel(id, row)}, v.items...)
		if len(v.items) > feedLimit {
			v.items = v.items[:feedLimit]
		}
	case events.LocationShareUpdated:
		for i := range v.items {
			if v.items[i].ID == id {
				v.items[i] = rowToModel(id, row)
				break
			}
		}
	case events.LocationShareDeleted:
		for i := range v.items {
			if v.items[i].ID == id {
				v.items = append(v.items[:i], v.items[i+1:]...)
				break
			}
		}
	}
}

func rowToModel(id uuid.UUID, row events.LocationShareRow) repository.LocationShare {
	s := repository.LocationShare{
		ID:        id,
		Note:      row.Note,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}
	if sender, err := uuid.Parse(row.SenderID); err == nil {
		s.SenderID = sender
	}
	if recipient, err := uuid.Parse(row.RecipientID); err == nil {
		s.RecipientID = recipient
	}
	if location, err := uuid.Parse(row.LocationID); err == nil {
		s.LocationID = location
	}
	return s
}
