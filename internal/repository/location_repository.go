package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrLocationNotFound   = errors.New("location not found")
	ErrSavedPlaceNotFound = errors.New("saved place not found")
)

// LocationRepo persists canonical locations, saved places, and per-user
// location saves.
type LocationRepo struct {
	db *sqlx.DB
}

// NewLocationRepo creates a new LocationRepo.
func NewLocationRepo(db *sqlx.DB) *LocationRepo {
	return &LocationRepo{db: db}
}

// GetByID returns one canonical location.
func (r *LocationRepo) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	var loc Location
	query := `
		SELECT id, name, city, address, external_id, latitude, longitude, category, claimed_by, created_at
		FROM locations WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &loc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &loc, nil
}

// ListWithStats returns canonical locations together with their per-row
// save/post/rating aggregates, optionally filtered by a search term over
// name and city. This is the grouper's input for the locations side.
func (r *LocationRepo) ListWithStats(ctx context.Context, search string, limit int) ([]LocationWithStats, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	var out []LocationWithStats
	query := `
		SELECT l.id, l.name, l.city, l.address, l.external_id, l.latitude, l.longitude,
		       l.category, l.claimed_by, l.created_at,
		       COUNT(DISTINCT s.id)                      AS saves,
		       COUNT(DISTINCT p.id)                      AS posts,
		       COUNT(s.rating)                           AS rating_count,
		       COALESCE(SUM(s.rating), 0)                AS rating_sum
		FROM locations l
		LEFT JOIN user_saved_locations s ON s.location_id = l.id
		LEFT JOIN posts p ON p.location_id = l.id
		WHERE ($1 = '' OR l.name ILIKE '%' || $1 || '%' OR l.city ILIKE '%' || $1 || '%')
		GROUP BY l.id
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, search, limit); err != nil {
		return nil, fmt.Errorf("list locations with stats: %w", err)
	}
	return out, nil
}

// ClaimLocation marks a location claimed by a business profile.
func (r *LocationRepo) ClaimLocation(ctx context.Context, id, profileID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE locations SET claimed_by = $2 WHERE id = $1 AND claimed_by IS NULL`, id, profileID)
	if err != nil {
		return fmt.Errorf("claim location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLocationNotFound
	}
	return nil
}

// SaveLocation records a user's save of a canonical location, optionally
// with a rating. Saving twice updates the rating.
func (r *LocationRepo) SaveLocation(ctx context.Context, s *SavedLocation) error {
	query := `
		INSERT INTO user_saved_locations (user_id, location_id, rating)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, location_id) DO UPDATE SET rating = EXCLUDED.rating
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, s.UserID, s.LocationID, s.Rating).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	return nil
}

// UnsaveLocation removes a user's save of a location and returns the
// deleted row id, uuid.Nil when there was nothing to delete.
func (r *LocationRepo) UnsaveLocation(ctx context.Context, userID, locationID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	query := `DELETE FROM user_saved_locations WHERE user_id = $1 AND location_id = $2 RETURNING id`
	err := r.db.QueryRowxContext(ctx, query, userID, locationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("unsave location: %w", err)
	}
	return id, nil
}

// HasSaved reports whether the user has saved the location.
func (r *LocationRepo) HasSaved(ctx context.Context, userID, locationID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM user_saved_locations WHERE user_id = $1 AND location_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, userID, locationID); err != nil {
		return false, fmt.Errorf("has saved: %w", err)
	}
	return exists, nil
}

// PinAggregate returns the authoritative save/rating aggregate for one
// location: save count, rating count, and the pooled rating sum.
func (r *LocationRepo) PinAggregate(ctx context.Context, locationID uuid.UUID) (PinAggregate, error) {
	var agg PinAggregate
	query := `
		SELECT COUNT(*)                   AS saves,
		       COUNT(rating)              AS rating_count,
		       COALESCE(SUM(rating), 0)   AS rating_sum
		FROM user_saved_locations WHERE location_id = $1
	`
	if err := r.db.GetContext(ctx, &agg, query, locationID); err != nil {
		return PinAggregate{}, fmt.Errorf("pin aggregate: %w", err)
	}
	return agg, nil
}

// Stats returns the authoritative save/post totals for one location.
func (r *LocationRepo) Stats(ctx context.Context, locationID uuid.UUID) (LocationStats, error) {
	var stats LocationStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM user_saved_locations WHERE location_id = $1) AS saves,
			(SELECT COUNT(*) FROM posts WHERE location_id = $1)                AS posts
	`
	if err := r.db.GetContext(ctx, &stats, query, locationID); err != nil {
		return LocationStats{}, fmt.Errorf("location stats: %w", err)
	}
	return stats, nil
}

// CityEngagement returns distinct savers and post totals for one city.
func (r *LocationRepo) CityEngagement(ctx context.Context, city string) (CityEngagement, error) {
	var eng CityEngagement
	query := `
		SELECT
			(SELECT COUNT(DISTINCT s.user_id)
			 FROM user_saved_locations s
			 JOIN locations l ON l.id = s.location_id
			 WHERE l.city = $1)                              AS savers,
			(SELECT COUNT(*) FROM posts WHERE city = $1)     AS posts
	`
	if err := r.db.GetContext(ctx, &eng, query, city); err != nil {
		return CityEngagement{}, fmt.Errorf("city engagement: %w", err)
	}
	return eng, nil
}

// SavedCityHistogram returns, per city, how many places the user has
// saved, largest bucket first.
func (r *LocationRepo) SavedCityHistogram(ctx context.Context, userID uuid.UUID) ([]CityCount, error) {
	var out []CityCount
	query := `
		SELECT city, COUNT(*) AS count
		FROM saved_places
		WHERE user_id = $1 AND city <> ''
		GROUP BY city
		ORDER BY count DESC, city ASC
	`
	if err := r.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("saved city histogram: %w", err)
	}
	return out, nil
}

// ListSavedPlaces returns the user's saved places, newest first.
func (r *LocationRepo) ListSavedPlaces(ctx context.Context, userID uuid.UUID, limit int) ([]SavedPlace, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var out []SavedPlace
	query := `
		SELECT id, user_id, external_id, name, city, address, created_at
		FROM saved_places WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list saved places: %w", err)
	}
	return out, nil
}

// AllSavedPlaces returns saved place rows across all users, the grouper's
// input for the saved-places side.
func (r *LocationRepo) AllSavedPlaces(ctx context.Context, search string, limit int) ([]SavedPlace, error) {
	if limit < 1 || limit > 1000 {
		limit = 500
	}
	var out []SavedPlace
	query := `
		SELECT id, user_id, external_id, name, city, address, created_at
		FROM saved_places
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR city ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, search, limit); err != nil {
		return nil, fmt.Errorf("list all saved places: %w", err)
	}
	return out, nil
}

// InsertSavedPlace records a saved place.
func (r *LocationRepo) InsertSavedPlace(ctx context.Context, p *SavedPlace) error {
	query := `
		INSERT INTO saved_places (user_id, external_id, name, city, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.UserID, p.ExternalID, p.Name, p.City, p.Address,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert saved place: %w", err)
	}
	return nil
}

// DeleteSavedPlace removes a saved place, scoped to its owner.
func (r *LocationRepo) DeleteSavedPlace(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_places WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete saved place: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSavedPlaceNotFound
	}
	return nil
}
