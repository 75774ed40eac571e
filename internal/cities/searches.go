package cities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxRecentSearches caps the per-principal recent search list.
const maxRecentSearches = 5

// searchRetention expires idle search lists.
const searchRetention = 30 * 24 * time.Hour

// RecentSearches stores the last few city searches per principal in a
// Redis list, most recent first, deduplicated.
type RecentSearches struct {
	client *redis.Client
}

// NewRecentSearches creates a recent search store.
func NewRecentSearches(client *redis.Client) *RecentSearches {
	return &RecentSearches{client: client}
}

func searchKey(principal uuid.UUID) string {
	return "spott:recent_searches:" + principal.String()
}

// Record pushes a city to the front of the principal's recent searches.
// A city already in the list moves to the front instead of duplicating.
func (s *RecentSearches) Record(ctx context.Context, principal uuid.UUID, city string) error {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil
	}
	key := searchKey(principal)

	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, key, 0, city)
	pipe.LPush(ctx, key, city)
	pipe.LTrim(ctx, key, 0, maxRecentSearches-1)
	pipe.Expire(ctx, key, searchRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording recent search: %w", err)
	}
	return nil
}

// List returns the principal's recent searches, most recent first.
func (s *RecentSearches) List(ctx context.Context, principal uuid.UUID) ([]string, error) {
	out, err := s.client.LRange(ctx, searchKey(principal), 0, maxRecentSearches-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing recent searches: %w", err)
	}
	return out, nil
}

// Clear removes the principal's recent searches.
func (s *RecentSearches) Clear(ctx context.Context, principal uuid.UUID) error {
	if err := s.client.Del(ctx, searchKey(principal)).Err(); err != nil {
		return fmt.Errorf("clearing recent searches: %w", err)
	}
	return nil
}
