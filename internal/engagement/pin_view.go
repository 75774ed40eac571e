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

// DefaultPinPollInterval is the backstop poll cadence for pin views.
const DefaultPinPollInterval = 30 * time.Second

// LocationRepo is the slice of the location repository the views need.
type LocationRepo interface {
	PinAggregate(ctx context.Context, locationID uuid.UUID) (repository.PinAggregate, error)
	Stats(ctx context.Context, locationID uuid.UUID) (repository.LocationStats, error)
	CityEngagement(ctx context.Context, city string) (repository.CityEngagement, error)
	HasSaved(ctx context.Context, userID, locationID uuid.UUID) (bool, error)
	SaveLocation(ctx context.Context, s *repository.SavedLocation) error
	UnsaveLocation(ctx context.Context, userID, locationID uuid.UUID) (uuid.UUID, error)
}

// PinView tracks the save/rating aggregate for one location. Saves adjust
// incrementally; any event carrying a rating forces a re-aggregation,
// since a pooled mean cannot be patched without the authoritative rows.
type PinView struct {
	repo       LocationRepo
	locationID uuid.UUID
	logger     *slog.Logger

	sub    *bus.TypedSubscription
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	seq atomic.Uint64

	mu          sync.RWMutex
	loaded      bool
	saves       int
	ratingCount int
	ratingSum   float64
	// rows already counted by an optimistic local adjustment; their
	// stream echo must not be applied twice
	pendingEcho map[string]struct{}
}

// NewPinView builds a pin view for one location. A nil location id
// yields an inert view.
func NewPinView(ctx context.Context, stream events.Stream, repo LocationRepo, locationID uuid.UUID, poll time.Duration, logger *slog.Logger) *PinView {
	if logger == nil {
		logger = slog.Default()
	}
	v := &PinView{
		repo:        repo,
		locationID:  locationID,
		logger:      logger.With("component", "engagement.pin_view", "location", locationID),
		stop:        make(chan struct{}),
		pendingEcho: make(map[string]struct{}),
	}
	if locationID == uuid.Nil {
		v.loaded = true
		return v
	}
	if poll <= 0 {
		poll = DefaultPinPollInterval
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
func (v *PinView) Close() {
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

// Aggregate returns save count, rating count, and pooled mean rating,
// plus whether the values are known yet.
func (v *PinView) Aggregate() (saves, ratingCount int, average float64, ready bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	avg := 0.0
	if v.ratingCount > 0 {
		avg = v.ratingSum / float64(v.ratingCount)
	}
	return v.saves, v.ratingCount, avg, v.loaded
}

// Refresh re-reads the authoritative aggregate.
func (v *PinView) Refresh(ctx context.Context) {
	if v.locationID == uuid.Nil {
		return
	}
	seq := v.seq.Add(1)

	agg, err := v.repo.PinAggregate(ctx, v.locationID)
	if err != nil {
		v.logger.Warn("pin aggregate refresh failed", "error", err)
		v.mu.Lock()
		v.loaded = true
		v.mu.Unlock()
		return
	}
	if v.seq.Load() != seq {
		return
	}

	v.mu.Lock()
	v.saves = agg.Saves
	v.ratingCount = agg.RatingCount
	v.ratingSum = agg.RatingSum
	v.loaded = true
	// The authoritative read supersedes any outstanding echoes.
	v.pendingEcho = make(map[string]struct{})
	v.mu.Unlock()
}

func (v *PinView) onEvent(ev events.Event) {
	var row events.SavedLocationRow
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		v.logger.Warn("malformed saved-location payload, re-fetching", "error", err)
		go v.Refresh(context.Background())
		return
	}
	if row.LocationID != v.locationID.String() {
		return
	}

	if row.Rating != nil {
		// Rating pool changed; re-aggregate rather than patch the mean.
		go v.Refresh(context.Background())
		return
	}

	v.mu.Lock()
	if _, pending := v.pendingEcho[row.ID]; pending {
		// Already counted by the optimistic local adjustment.
		delete(v.pendingEcho, row.ID)
		v.mu.Unlock()
		return
	}
	switch ev.Variant {
	case events.SavedLocationInserted:
		v.saves++
	case events.SavedLocationDeleted:
		if v.saves > 0 {
			v.saves--
		}
	}
	v.mu.Unlock()
}

// adjustSaves applies an optimistic local delta to the save count.
// Returns the inverse patch.
func (v *PinView) adjustSaves(delta int) (inverse func()) {
	v.mu.Lock()
	v.saves += delta
	if v.saves < 0 {
		v.saves = 0
	}
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		v.saves -= delta
		if v.saves < 0 {
			v.saves = 0
		}
		v.mu.Unlock()
	}
}

// noteEcho records a row id whose stream echo must be skipped. An echo
// that outruns the write is corrected by the next poll.
func (v *PinView) noteEcho(rowID string) {
	if rowID == "" || rowID == uuid.Nil.String() {
		return
	}
	v.mu.Lock()
	v.pendingEcho[rowID] = struct{}{}
	v.mu.Unlock()
}
