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

// DefaultStatsPollInterval is the backstop poll cadence for stats views.
// Post totals have no event variant and refresh only through this poll.
const DefaultStatsPollInterval = 60 * time.Second

// StatsView tracks the save/post totals for one location.
type StatsView struct {
	repo       LocationRepo
	locationID uuid.UUID
	logger     *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu     sync.RWMutex
	loaded bool
	stats  repository.LocationStats
}

// NewStatsView builds a stats view for one location. A nil location id
// yields an inert view.
func NewStatsView(ctx context.Context, stream events.Stream, repo LocationRepo, locationID uuid.UUID, poll time.Duration, logger *slog.Logger) *StatsView {
	if logger == nil {
		logger = slog.Default()
	}
	v := &StatsView{
		repo:       repo,
		locationID: locationID,
		logger:     logger.With("component", "engagement.stats_view", "location", locationID),
		stop:       make(chan struct{}),
	}
	if locationID == uuid.Nil {
		v.loaded = true
		return v
	}
	if poll <= 0 {
		poll = DefaultStatsPollInterval
	}

	v.sub = bus.OnEvents(stream, []events.Variant{
		events.SavedLocationInserted,
		events.SavedLocationDeleted,
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
func (v *StatsView) Close() {
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

// Stats returns the current totals and whether they are known yet.
func (v *StatsView) Stats() (repository.LocationStats, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats, v.loaded
}

// Refresh re-reads the authoritative totals.
func (v *StatsView) Refresh(ctx context.Context) {
	if v.locationID == uuid.Nil {
		return
	}
	seq := v.seq.Add(1)

	stats, err := v.repo.Stats(ctx, v.locationID)
	if err != nil {
		v.logger.Warn("location stats refresh failed", "error", err)
		v.mu.Lock()
		v.loaded = true
		v.mu.Unlock()
		return
	}
	if v.seq.Load() != seq {
		return
	}

	v.mu.Lock()
	v.stats = stats
	v.loaded = true
	v.mu.Unlock()
}

func (v *StatsView) onEvent(ev events.Event) {
	var row events.SavedLocationRow
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		v.logger.Warn("malformed saved-location payload, re-fetching", "error", err)
		go v.Refresh(context.Background())
		return
	}
	if row.LocationID != v.locationID.String() {
		return
	}

	v.mu.Lock()
	switch ev.Variant {
	case events.SavedLocationInserted:
		v.stats.Saves++
	case events.SavedLocationDeleted:
		if v.stats.Saves > 0 {
			v.stats.Saves--
		}
	}
	v.mu.Unlock()
}
