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
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
)

// ProfileRepo persists user profiles.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Create inserts a profile and fills in its generated fields.
func (r *ProfileRepo) Create(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO profiles (username, display_name, email, password_hash, avatar_url, bio, city, is_business)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.Username, p.DisplayName, p.Email, p.PasswordHash, p.AvatarURL, p.Bio, p.City, p.IsBusiness,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProfileExists
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// GetByEmail returns one profile by email, including its password hash.
func (r *ProfileRepo) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	var p Profile
	query := `
		SELECT id, username, display_name, email, password_hash, avatar_url, bio, city, is_business,
		       created_at, updated_at, last_seen_at
		FROM profiles WHERE email = $1
	`
	if err := r.db.GetContext(ctx, &p, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile by email: %w", err)
	}
	return &p, nil
}

// EmailExists reports whether any profile uses the given email.
func (r *ProfileRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE email = $1)`
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, fmt.Errorf("email exists: %w", err)
	}
	return exists, nil
}

// UsernameExists reports whether any profile uses the given username.
func (r *ProfileRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE username = $1)`
	if err := r.db.GetContext(ctx, &exists, query, username); err != nil {
		return false, fmt.Errorf("username exists: %w", err)
	}
	return exists, nil
}

// GetByID returns one profile.
func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	query := `
		SELECT id, username, display_name, email, avatar_url, bio, city, is_business,
		       created_at, updated_at, last_seen_at
		FROM profiles WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// GetByUsername returns one profile by username.
func (r *ProfileRepo) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	query := `
		SELECT id, username, display_name, email, avatar_url, bio, city, is_business,
		       created_at, updated_at, last_seen_at
		FROM profiles WHERE username = $1
	`
	if err := r.db.GetContext(ctx, &p, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile by username: %w", err)
	}
	return &p, nil
}

// Update writes the mutable profile fields and bumps updated_at.
func (r *ProfileRepo) Update(ctx context.Context, p *Profile) error {
	query := `
		UPDATE profiles
		SET display_name = $2, avatar_url = $3, bio = $4, city = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.ID, p.DisplayName, p.AvatarURL, p.Bio, p.City,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// TouchLastSeen updates the profile's last-seen timestamp.
func (r *ProfileRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET last_seen_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}
