// Package engagement keeps live per-post and per-location engagement
// slices: like/comment/share counters, save/rating aggregates, location
// stats, and city engagement. Incremental event adjustments are an
// optimization; every slice converges to its repository read via a
// backstop poll.
package engagement

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

// DefaultPostPollInterval is the backstop poll cadence for post counters.
const DefaultPostPollInterval = 15 * time.Second

// PostRepo is the slice of the post repository the counters need.
type PostRepo interface {
	EngagementCounts(ctx context.Context, postID uuid.UUID) (repository.EngagementCounts, error)
	HasLiked(ctx context.Context, postID, userID uuid.UUID) (bool, error)
	InsertLike(ctx context.Context, like *repository.PostLike) error
	DeleteLike(ctx context.Context, postID, userID uuid.UUID) (uuid.UUID, error)
	InsertComment(ctx context.Context, c *repository.PostComment) error
	InsertShare(ctx context.Context, s *repository.PostShare) error
}

// PostCounter tracks the like/comment/share totals for one post.
type PostCounter struct {
	repo   PostRepo
	postID uuid.UUID
	logger *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu       sync.RWMutex
	loaded   bool
	likes    int
	comments int
	shares   int
	// rows already counted by an optimistic local adjustment; their
	// stream echo must not be applied twice
	pendingEcho map[string]struct{}
}

// NewPostCounter builds a counter for one post and starts its initial
// load, bus subscription, and backstop poll. A nil post id yields an
// inert counter.
func NewPostCounter(ctx context.Context, stream events.Stream, repo PostRepo, postID uuid.UUID, poll time.Duration, logger *slog.Logger) *PostCounter {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PostCounter{
		repo:        repo,
		postID:      postID,
		logger:      logger.With("component", "engagement.post_counter", "post", postID),
		stop:        make(chan struct{}),
		pendingEcho: make(map[string]struct{}),
	}
	if postID == uuid.Nil {
		c.loaded = true
		return c
	}
	if poll <= 0 {
		poll = DefaultPostPollInterval
	}

	c.sub = bus.OnEvents(stream, []events.Variant{
		events.PostLikeInserted, events.PostLikeDeleted,
		events.PostCommentInserted, events.PostCommentDeleted,
		events.PostShareInserted, events.PostShareDeleted,
	}, c.onEvent)

	go c.Refresh(ctx)

	c.ticker = time.NewTicker(poll)
	go func() {
		for {
			select {
			case <-c.ticker.C:
				c.Refresh(ctx)
			case <-c.stop:
				return
			}
		}
	}()
	return c
}

// Close stops the poll and releases the bus registration. Idempotent.
func (c *PostCounter) Close() {
	c.once.Do(func() {
		close(c.stop)
		if c.ticker != nil {
			c.ticker.Stop()
		}
		if c.sub != nil {
			c.sub.Close()
		}
	})
}

// Counts returns the current totals and whether they are known yet.
// "Not yet known" is distinct from "known to be zero".
func (c *PostCounter) Counts() (repository.EngagementCounts, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return repository.EngagementCounts{
		Likes:    c.likes,
		Comments: c.comments,
		Shares:   c.shares,
	}, c.loaded
}

// Refresh re-reads the authoritative totals. A response that lost the
// race with a newer refresh is discarded; read failures keep current
// state (initial failures resolve to zero).
func (c *PostCounter) Refresh(ctx context.Context) {
	if c.postID == uuid.Nil {
		return
	}
	seq := c.seq.Add(1)

	counts, err := c.repo.EngagementCounts(ctx, c.postID)
	if err != nil {
		c.logger.Warn("engagement refresh failed", "error", err)
		c.mu.Lock()
		c.loaded = true
		c.mu.Unlock()
		return
	}
	if c.seq.Load() != seq {
		return
	}

	c.mu.Lock()
	c.likes = counts.Likes
	c.comments = counts.Comments
	c.shares = counts.Shares
	c.loaded = true
	// authoritative read settles everything outstanding
	c.pendingEcho = make(map[string]struct{})
	c.mu.Unlock()
}

// onEvent applies one engagement event, scoped to this counter's post.
func (c *PostCounter) onEvent(ev events.Event) {
	var row struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		c.logger.Warn("malformed engagement payload, re-fetching", "error", err)
		go c.Refresh(context.Background())
		return
	}
	if row.PostID != c.postID.String() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.pendingEcho[row.ID]; dup {
		// echo of our own optimistic adjustment
		delete(c.pendingEcho, row.ID)
		return
	}

	switch ev.Variant {
	case events.PostLikeInserted:
		c.likes++
	case events.PostLikeDeleted:
		c.likes--
	case events.PostCommentInserted:
		c.comments++
	case events.PostCommentDeleted:
		c.comments--
	case events.PostShareInserted:
		c.shares++
	case events.PostShareDeleted:
		c.shares--
	}
	c.clampLocked()
}

// adjust applies an optimistic local delta and records the row id so the
// stream echo is not applied twice. Returns the inverse patch.
func (c *PostCounter) adjust(variant events.Variant, rowID string, delta int) (inverse func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch variant {
	case events.PostLikeInserted, events.PostLikeDeleted:
		c.likes += delta
	case events.PostCommentInserted, events.PostCommentDeleted:
		c.comments += delta
	case events.PostShareInserted, events.PostShareDeleted:
		c.shares += delta
	}
	c.clampLocked()
	if rowID != "" {
		c.pendingEcho[rowID] = struct{}{}
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch variant {
		case events.PostLikeInserted, events.PostLikeDeleted:
			c.likes -= delta
		case events.PostCommentInserted, events.PostCommentDeleted:
			c.comments -= delta
		case events.PostShareInserted, events.PostShareDeleted:
			c.shares -= delta
		}
		c.clampLocked()
		if rowID != "" {
			delete(c.pendingEcho, rowID)
		}
	}
}

// noteEcho records a row id whose stream echo must be skipped. Used when
// the row id only becomes known after the write returns; an echo that
// outruns the write is corrected by the next poll.
func (c *PostCounter) noteEcho(rowID string) {
	if rowID == "" {
		return
	}
	c.mu.Lock()
	c.pendingEcho[rowID] = struct{}{}
	c.mu.Unlock()
}

// clampLocked keeps counters non-negative; drift is corrected by the
// next authoritative refresh.
func (c *PostCounter) clampLocked() {
	if c.likes < 0 {
		c.likes = 0
	}
	if c.comments < 0 {
		c.comments = 0
	}
	if c.shares < 0 {
		c.shares = 0
	}
}
