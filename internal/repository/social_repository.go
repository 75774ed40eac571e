package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrShareNotFound = errors.New("location share not found")
)

// SocialRepo persists follows, messages, location shares, stories, and
// interaction records.
type SocialRepo struct {
	db *sqlx.DB
}

// NewSocialRepo creates a new SocialRepo.
func NewSocialRepo(db *sqlx.DB) *SocialRepo {
	return &SocialRepo{db: db}
}

// InsertFollow records a follow. Duplicate follows are a no-op.
func (r *SocialRepo) InsertFollow(ctx context.Context, f *Follow) error {
	query := `
		INSERT INTO follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, followee_id) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, f.FollowerID, f.FolloweeID).
		Scan(&f.ID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

// DeleteFollow removes a follow.
func (r *SocialRepo) DeleteFollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID); err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}

// FollowCounts returns follower and followee totals for one profile.
func (r *SocialRepo) FollowCounts(ctx context.Context, profileID uuid.UUID) (followers, following int, err error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM follows WHERE followee_id = $1) AS followers,
			(SELECT COUNT(*) FROM follows WHERE follower_id = $1) AS following
	`
	row := r.db.QueryRowxContext(ctx, query, profileID)
	if err := row.Scan(&followers, &following); err != nil {
		return 0, 0, fmt.Errorf("follow counts: %w", err)
	}
	return followers, following, nil
}

// InsertMessage records a direct message and fills in generated fields.
func (r *SocialRepo) InsertMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (sender_id, recipient_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, is_read, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, m.SenderID, m.RecipientID, m.Body).
		Scan(&m.ID, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListConversation returns the messages between two users, oldest first.
func (r *SocialRepo) ListConversation(ctx context.Context, a, b uuid.UUID, limit int) ([]Message, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var out []Message
	query := `
		SELECT id, sender_id, recipient_id, body, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at ASC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &out, query, a, b, limit); err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return out, nil
}

// InsertLocationShare records an ephemeral location share.
func (r *SocialRepo) InsertLocationShare(ctx context.Context, s *LocationShare) error {
	query := `
		INSERT INTO location_shares (sender_id, recipient_id, location_id, note, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		s.SenderID, s.RecipientID, s.LocationID, s.Note, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert location share: %w", err)
	}
	return nil
}

// ListIncomingShares returns the recipient's unexpired shares, newest
// first. Expired rows are filtered here, not deleted.
func (r *SocialRepo) ListIncomingShares(ctx context.Context, recipientID uuid.UUID, limit int) ([]LocationShare, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var out []LocationShare
	query := `
		SELECT id, sender_id, recipient_id, location_id, note, expires_at, created_at
		FROM location_shares
		WHERE recipient_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, recipientID, limit); err != nil {
		return nil, fmt.Errorf("list incoming shares: %w", err)
	}
	return out, nil
}

// DeleteLocationShare removes a share, scoped to sender or recipient.
func (r *SocialRepo) DeleteLocationShare(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM location_shares WHERE id = $1 AND (sender_id = $2 OR recipient_id = $2)`,
		id, userID)
	if err != nil {
		return fmt.Errorf("delete location share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrShareNotFound
	}
	return nil
}

// CreateStory inserts a story and fills in generated fields.
func (r *SocialRepo) CreateStory(ctx context.Context, s *Story) error {
	query := `
		INSERT INTO stories (user_id, location_id, media_url, media_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		s.UserID, s.LocationID, s.MediaURL, s.MediaType, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// ListActiveStories returns a user's unexpired stories, newest first.
func (r *SocialRepo) ListActiveStories(ctx context.Context, userID uuid.UUID) ([]Story, error) {
	var out []Story
	query := `
		SELECT id, user_id, location_id, media_url, media_type, expires_at, created_at
		FROM stories
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("list active stories: %w", err)
	}
	return out, nil
}

// RecordInteraction appends an interaction record.
func (r *SocialRepo) RecordInteraction(ctx context.Context, i *Interaction) error {
	query := `
		INSERT INTO interactions (user_id, kind, entity_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, i.UserID, i.Kind, i.EntityID).
		Scan(&i.ID, &i.CreatedAt)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// ListRecentInteractions returns the user's latest interactions, newest
// first.
func (r *SocialRepo) ListRecentInteractions(ctx context.Context, userID uuid.UUID, limit int) ([]Interaction, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var out []Interaction
	query := `
		SELECT id, user_id, kind, entity_id, created_at
		FROM interactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list recent interactions: %w", err)
	}
	return out, nil
}

// FetchRowJSON re-reads one row of a tracked collection by primary key and
// returns it as JSON. Used by the change listener when a trigger payload
// exceeded the NOTIFY size limit.
func (r *SocialRepo) FetchRowJSON(ctx context.Context, collection, rowID string) (json.RawMessage, error) {
	switch collection {
	case "profiles", "posts", "locations", "saved_places", "user_saved_locations",
		"notifications", "follows", "messages", "post_likes", "post_comments",
		"post_shares", "location_shares", "stories", "interactions":
	default:
		return nil, fmt.Errorf("fetch row: unknown collection %q", collection)
	}

	var row json.RawMessage
	query := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE id = $1`, collection)
	if err := r.db.GetContext(ctx, &row, query, rowID); err != nil {
		return nil, fmt.Errorf("fetch row %s/%s: %w", collection, rowID, err)
	}
	return row, nil
}
