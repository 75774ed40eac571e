package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/repository"
	"github.com/spott-app/spott-backend/internal/sanitizer"
)

var (
	ErrEmptyComment  = errors.New("comment body is empty")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// defaultMaxCounters caps the cached post counters. Counters rebuild from
// the database on next access, so eviction only costs a re-read.
const defaultMaxCounters = 2000

// Service owns the live engagement views and applies mutations
// optimistically. Each post, location and city gets at most one view,
// shared across every request that touches it.
type Service struct {
	ctx       context.Context
	stream    events.Stream
	posts     PostRepo
	locations LocationRepo
	sanitizer sanitizer.ContentSanitizer
	logger    *slog.Logger

	mu       sync.Mutex
	counters map[uuid.UUID]*PostCounter
	pins     map[uuid.UUID]*PinView
	stats    map[uuid.UUID]*StatsView
	cities   map[string]*CityView
}

// NewService creates the engagement service. ctx bounds the lifetime of
// every view the service creates.
func NewService(ctx context.Context, stream events.Stream, posts PostRepo, locations LocationRepo, san sanitizer.ContentSanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ctx:       ctx,
		stream:    stream,
		posts:     posts,
		locations: locations,
		sanitizer: san,
		logger:    logger.With("component", "engagement.service"),
		counters:  make(map[uuid.UUID]*PostCounter),
		pins:      make(map[uuid.UUID]*PinView),
		stats:     make(map[uuid.UUID]*StatsView),
		cities:    make(map[string]*CityView),
	}
}

// CounterFor returns the live counter for a post, creating it on first use.
func (s *Service) CounterFor(postID uuid.UUID) *PostCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[postID]; ok {
		return c
	}
	if len(s.counters) >= defaultMaxCounters {
		s.evictCountersLocked()
	}
	c := NewPostCounter(s.ctx, s.stream, s.posts, postID, 0, s.logger)
	s.counters[postID] = c
	return c
}

// PinsFor returns the live pin aggregate for a location.
func (s *Service) PinsFor(locationID uuid.UUID) *PinView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.pins[locationID]; ok {
		return v
	}
	v := NewPinView(s.ctx, s.stream, s.locations, locationID, 0, s.logger)
	s.pins[locationID] = v
	return v
}

// StatsFor returns the live save/post stats for a location.
func (s *Service) StatsFor(locationID uuid.UUID) *StatsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.stats[locationID]; ok {
		return v
	}
	v := NewStatsView(s.ctx, s.stream, s.locations, locationID, 0, s.logger)
	s.stats[locationID] = v
	return v
}

// CityFor returns the live engagement view for a city.
func (s *Service) CityFor(city string) *CityView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cities[city]; ok {
		return v
	}
	v := NewCityView(s.ctx, s.stream, s.locations, city, 0, s.logger)
	s.cities[city] = v
	return v
}

// evictCountersLocked drops half of the cached counters.
func (s *Service) evictCountersLocked() {
	n := len(s.counters) / 2
	for id, c := range s.counters {
		if n == 0 {
			break
		}
		c.Close()
		delete(s.counters, id)
		n--
	}
}

// ToggleLike likes or unlikes a post for the principal. The counter is
// adjusted before the write and rolled back if the write fails.
func (s *Service) ToggleLike(ctx context.Context, postID, userID uuid.UUID) (liked bool, err error) {
	liked, err = s.posts.HasLiked(ctx, postID, userID)
	if err != nil {
		return false, fmt.Errorf("checking like state: %w", err)
	}

	counter := s.CounterFor(postID)
	if liked {
		revert := counter.adjust(events.PostLikeDeleted, "", -1)
		rowID, derr := s.posts.DeleteLike(ctx, postID, userID)
		if derr != nil {
			revert()
			return true, fmt.Errorf("removing like: %w", derr)
		}
		if rowID != uuid.Nil {
			counter.noteEcho(rowID.String())
		}
		return false, nil
	}

	revert := counter.adjust(events.PostLikeInserted, "", +1)
	like := &repository.PostLike{PostID: postID, UserID: userID}
	if ierr := s.posts.InsertLike(ctx, like); ierr != nil {
		revert()
		return false, fmt.Errorf("inserting like: %w", ierr)
	}
	if like.ID != uuid.Nil {
		counter.noteEcho(like.ID.String())
	}
	return true, nil
}

// AddComment sanitizes and persists a comment, bumping the counter
// optimistically.
func (s *Service) AddComment(ctx context.Context, postID, userID uuid.UUID, body string) (*repository.PostComment, error) {
	clean := s.sanitizer.SanitizeText(body)
	if clean == "" {
		return nil, ErrEmptyComment
	}

	counter := s.CounterFor(postID)
	revert := counter.adjust(events.PostCommentInserted, "", +1)
	comment := &repository.PostComment{PostID: postID, UserID: userID, Body: clean}
	if err := s.posts.InsertComment(ctx, comment); err != nil {
		revert()
		return nil, fmt.Errorf("inserting comment: %w", err)
	}
	counter.noteEcho(comment.ID.String())
	return comment, nil
}

// RecordShare persists a share of a post.
func (s *Service) RecordShare(ctx context.Context, postID, userID uuid.UUID) error {
	counter := s.CounterFor(postID)
	revert := counter.adjust(events.PostShareInserted, "", +1)
	share := &repository.PostShare{PostID: postID, UserID: userID}
	if err := s.posts.InsertShare(ctx, share); err != nil {
		revert()
		return fmt.Errorf("inserting share: %w", err)
	}
	counter.noteEcho(share.ID.String())
	return nil
}

// SaveLocation pins a location for the principal with an optional rating.
func (s *Service) SaveLocation(ctx context.Context, locationID, userID uuid.UUID, rating *float64) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return ErrInvalidRating
	}

	pins := s.PinsFor(locationID)
	revert := pins.adjustSaves(+1)
	saved := &repository.SavedLocation{UserID: userID, LocationID: locationID, Rating: rating}
	if err := s.locations.SaveLocation(ctx, saved); err != nil {
		revert()
		return fmt.Errorf("saving location: %w", err)
	}
	pins.noteEcho(saved.ID.String())
	if rating != nil {
		// Ratings change the pooled mean, so force a re-read.
		go pins.Refresh(s.ctx)
	}
	return nil
}

// UnsaveLocation removes the principal's pin from a location.
func (s *Service) UnsaveLocation(ctx context.Context, locationID, userID uuid.UUID) error {
	pins := s.PinsFor(locationID)
	revert := pins.adjustSaves(-1)
	rowID, err := s.locations.UnsaveLocation(ctx, userID, locationID)
	if err != nil {
		revert()
		return fmt.Errorf("unsaving location: %w", err)
	}
	if rowID == uuid.Nil {
		// Nothing was saved; undo the optimistic decrement.
		revert()
		return nil
	}
	pins.noteEcho(rowID.String())
	return nil
}

// CloseAll tears down every cached view. Used on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.counters {
		c.Close()
		delete(s.counters, id)
	}
	for id, v := range s.pins {
		v.Close()
		delete(s.pins, id)
	}
	for id, v := range s.stats {
		v.Close()
		delete(s.stats, id)
	}
	for city, v := range s.cities {
		v.Close()
		delete(s.cities, city)
	}
}
