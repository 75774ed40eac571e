package engagement

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spott-app/spott-backend/internal/bus"
	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/repository"
)

// DefaultCityPollInterval is the backstop poll cadence for city views.
const DefaultCityPollInterval = 60 * time.Second

// CityView tracks distinct-saver and post totals for one city. Distinct
// counts cannot be adjusted incrementally, so every relevant event
// triggers a re-fetch instead of a local patch.
type CityView struct {
	repo   LocationRepo
	city   string
	logger *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu     sync.RWMutex
	loaded bool
	eng    repository.CityEngagement
}

// NewCityView builds an engagement view for one city. An empty city
// yields an inert view.
func NewCityView(ctx context.Context, stream events.Stream, repo LocationRepo, city string, poll time.Duration, logger *slog.Logger) *CityView {
	if logger == nil {
		logger = slog.Default()
	}
	v := &CityView{
		repo:   repo,
		city:   city,
		logger: logger.With("component", "engagement.city_view", "city", city),
		stop:   make(chan struct{}),
	}
	if city == "" {
		v.loaded = true
		return v
	}
	if poll <= 0 {
		poll = DefaultCityPollInterval
	}

	v.sub = bus.OnEvents(stream, []events.Variant{
		events.SavedLocationInserted,
		events.SavedLocationDeleted,
	}, func(events.Event) {
		// The event does not say whether the saver was already counted;
		// re-fetch and let the repository do the distinct count.
		go v.Refresh(context.Background())
	})

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
func (v *CityView) Close() {
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

// Engagement returns the current totals and whether they are known yet.
func (v *CityView) Engagement() (repository.CityEngagement, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.eng, v.loaded
}

// Refresh re-reads the authoritative totals.
func (v *CityView) Refresh(ctx context.Context) {
	if v.city == "" {
		return
	}
	seq := v.seq.Add(1)

	eng, err := v.repo.CityEngagement(ctx, v.city)
	if err != nil {
		v.logger.Warn("city engagement refresh failed", "error", err)
		v.mu.Lock()
		v.loaded = true
		v.mu.Unlock()
		return
	}
	if v.seq.Load() != seq {
		return
	}

	v.mu.Lock()
	v.eng = eng
	v.loaded = true
	v.mu.Unlock()
}
