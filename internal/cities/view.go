// Package cities keeps a per-principal live histogram of saved-place
// cities, plus the principal's recent city searches in Redis.
package cities

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/bus"
	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/repository"
)

// DefaultPollInterval is the backstop poll cadence for histogram views.
const DefaultPollInterval = 60 * time.Second

// Repo is the slice of the location repository the histogram needs.
type Repo interface {
	SavedCityHistogram(ctx context.Context, userID uuid.UUID) ([]repository.CityCount, error)
}

// View is the live saved-city histogram for one principal. Buckets adjust
// incrementally on saved-place events and converge to the repository read
// via the backstop poll.
type View struct {
	repo      Repo
	principal uuid.UUID
	logger    *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu      sync.RWMutex
	loaded  bool
	buckets map[string]int
}

// NewView builds a histogram view for the principal and starts its
// initial load, bus subscription, and backstop poll. A nil principal
// yields an inert view.
func NewView(ctx context.Context, stream events.Stream, repo Repo, principal uuid.UUID, poll time.Duration, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		repo:      repo,
		principal: principal,
		logger:    logger.With("component", "cities.view", "principal", principal),
		stop:      make(chan struct{}),
		buckets:   make(map[string]int),
	}
	if principal == uuid.Nil {
		v.loaded = true
		return v
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	v.sub = bus.OnEvents(stream, []events.Variant{
		events.SavedPlaceInserted,
		events.SavedPlaceDeleted,
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

// Histogram returns the current buckets, largest first with ties broken
// by city name.
func (v *View) Histogram() []repository.CityCount {
	v.mu.RLock()
	out := make([]repository.CityCount, 0, len(v.buckets))
	for city, count := range v.buckets {
		out = append(out, repository.CityCount{City: city, Count: count})
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].City < out[j].City
	})
	return out
}

// Refresh re-reads the authoritative histogram. Stale responses are
// discarded.
func (v *View) Refresh(ctx context.Context) {
	if v.principal == uuid.Nil {
		return
	}
	seq := v.seq.Add(1)

	counts, err := v.repo.SavedCityHistogram(ctx, v.principal)
	if err != nil {
		v.logger.Warn("histogram refresh failed", "error", err)
		v.mu.Lock()
		v.loaded = true
		v.mu.Unlock()
		return
	}
	if v.seq.Load() != seq {
		return
	}

	buckets := make(map[string]int, len(counts))
	for _, c := range counts {
		buckets[c.City] = c.Count
	}

	v.mu.Lock()
	v.buckets = buckets
	v.loaded = true
	v.mu.Unlock()
}

func (v *View) onEvent(ev events.Event) {
	var row events.SavedPlaceRow
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		v.logger.Warn("malformed saved-place payload, re-fetching", "error", err)
		go v.Refresh(context.Background())
		return
	}
	if row.UserID != v.principal.String() || row.City == "" {
		return
	}

	v.mu.Lock()
	switch ev.Variant {
	case events.SavedPlaceInserted:
		v.buckets[row.City]++
	case events.SavedPlaceDeleted:
		if v.buckets[row.City] <= 1 {
			delete(v.buckets, row.City)
		} else {
			v.buckets[row.City]--
		}
	}
	v.mu.Unlock()
}
