package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
)

// defaultMaxViews bounds how many per-principal views stay warm before
// the least recently used one is closed.
const defaultMaxViews = 1000

// Manager lazily creates and caches one View per principal.
type Manager struct {
	stream events.Stream
	repo   Repo
	poll   time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	views    map[uuid.UUID]*entry
	maxViews int
}

type entry struct {
	view     *View
	lastUsed time.Time
}

// NewManager creates a view manager.
func NewManager(stream events.Stream, repo Repo, poll time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stream:   stream,
		repo:     repo,
		poll:     poll,
		logger:   logger,
		views:    make(map[uuid.UUID]*entry),
		maxViews: defaultMaxViews,
	}
}

// ViewFor returns the live view for the principal, creating it on first
// use.
func (m *Manager) ViewFor(ctx context.Context, principal uuid.UUID) *View {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.views[principal]; ok {
		e.lastUsed = time.Now()
		return e.view
	}

	if len(m.views) >= m.maxViews {
		m.evictOldestLocked()
	}

	v := NewView(ctx, m.stream, m.repo, principal, m.poll, m.logger)
	m.views[principal] = &entry{view: v, lastUsed: time.Now()}
	return v
}

// CloseAll closes every cached view.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for principal, e := range m.views {
		e.view.Close()
		delete(m.views, principal)
	}
}

func (m *Manager) evictOldestLocked() {
	var oldest uuid.UUID
	var oldestAt time.Time
	first := true
	for principal, e := range m.views {
		if first || e.lastUsed.Before(oldestAt) {
			oldest = principal
			oldestAt = e.lastUsed
			first = false
		}
	}
	if !first {
		m.views[oldest].view.Close()
		delete(m.views, oldest)
	}
}
