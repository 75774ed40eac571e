package locations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spott-app/spott-backend/internal/repository"
)

const defaultFeedLimit = 100

// Repo is the slice of the location repository the feed needs.
type Repo interface {
	ListWithStats(ctx context.Context, search string, limit int) ([]repository.LocationWithStats, error)
	AllSavedPlaces(ctx context.Context, search string, limit int) ([]repository.SavedPlace, error)
}

// Service builds the grouped location feed. Manual merge and split
// overrides persist across requests for the life of the process.
type Service struct {
	repo   Repo
	logger *slog.Logger

	mu     sync.RWMutex
	merges map[string]string
	splits map[string]struct{}
}

// NewService creates the location feed service.
func NewService(repo Repo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger.With("component", "locations.service"),
		merges: make(map[string]string),
		splits: make(map[string]struct{}),
	}
}

// Feed reads both source collections, folds them through the grouper
// with the current overrides, and returns the merged groups sorted by
// save count.
func (s *Service) Feed(ctx context.Context, search string, limit int) ([]Group, error) {
	if limit < 1 || limit > 500 {
		limit = defaultFeedLimit
	}

	locs, err := s.repo.ListWithStats(ctx, search, limit)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	places, err := s.repo.AllSavedPlaces(ctx, search, limit)
	if err != nil {
		return nil, fmt.Errorf("listing saved places: %w", err)
	}

	g := NewGrouper()
	s.mu.RLock()
	for from, into := range s.merges {
		g.ForceMerge(from, into)
	}
	for key := range s.splits {
		g.ForceSplit(key)
	}
	s.mu.RUnlock()

	for _, l := range locs {
		g.Add(RecordFromLocation(l))
	}
	for _, p := range places {
		g.Add(RecordFromSavedPlace(p))
	}

	groups := g.Groups()
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// Merge records a manual override folding the group at `from` into the
// group at `into`.
func (s *Service) Merge(from, into string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges[from] = into
	delete(s.splits, from)
	s.logger.Info("location merge override added", "from", from, "into", into)
}

// Split records a manual override keeping the key out of name+city
// folding, and drops any merge override for it.
func (s *Service) Split(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits[key] = struct{}{}
	delete(s.merges, key)
	s.logger.Info("location split override added", "key", key)
}
