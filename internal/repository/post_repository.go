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
	ErrPostNotFound    = errors.New("post not found")
	ErrCommentNotFound = errors.New("comment not found")
)

// PostRepo persists posts and their engagement rows.
type PostRepo struct {
	db *sqlx.DB
}

// NewPostRepo creates a new PostRepo.
func NewPostRepo(db *sqlx.DB) *PostRepo {
	return &PostRepo{db: db}
}

// Create inserts a post and fills in its generated fields.
func (r *PostRepo) Create(ctx context.Context, p *Post) error {
	query := `
		INSERT INTO posts (user_id, location_id, caption, media_url, media_type, city)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.UserID, p.LocationID, p.Caption, p.MediaURL, p.MediaType, p.City,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// GetByID returns one post.
func (r *PostRepo) GetByID(ctx context.Context, id uuid.UUID) (*Post, error) {
	var p Post
	query := `
		SELECT id, user_id, location_id, caption, media_url, media_type, city, created_at, updated_at
		FROM posts WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &p, nil
}

// ListByUser returns a user's posts, newest first.
func (r *PostRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Post, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var out []Post
	query := `
		SELECT id, user_id, location_id, caption, media_url, media_type, city, created_at, updated_at
		FROM posts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return out, nil
}

// EngagementCounts returns the authoritative like/comment/share totals for
// one post. This is the backstop the incremental counters converge to.
func (r *PostRepo) EngagementCounts(ctx context.Context, postID uuid.UUID) (EngagementCounts, error) {
	var counts EngagementCounts
	query := `
		SELECT
			(SELECT COUNT(*) FROM post_likes    WHERE post_id = $1) AS likes,
			(SELECT COUNT(*) FROM post_comments WHERE post_id = $1) AS comments,
			(SELECT COUNT(*) FROM post_shares   WHERE post_id = $1) AS shares
	`
	if err := r.db.GetContext(ctx, &counts, query, postID); err != nil {
		return EngagementCounts{}, fmt.Errorf("post engagement counts: %w", err)
	}
	return counts, nil
}

// HasLiked reports whether the user has liked the post.
func (r *PostRepo) HasLiked(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM post_likes WHERE post_id = $1 AND user_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, postID, userID); err != nil {
		return false, fmt.Errorf("has liked: %w", err)
	}
	return exists, nil
}

// InsertLike records a like. Inserting a duplicate is a no-op.
func (r *PostRepo) InsertLike(ctx context.Context, like *PostLike) error {
	query := `
		INSERT INTO post_likes (post_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (post_id, user_id) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, like.PostID, like.UserID).
		Scan(&like.ID, &like.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // duplicate, already liked
	}
	if err != nil {
		return fmt.Errorf("insert like: %w", err)
	}
	return nil
}

// DeleteLike removes a like and returns the deleted row id, uuid.Nil
// when there was nothing to delete.
func (r *PostRepo) DeleteLike(ctx context.Context, postID, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	query := `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2 RETURNING id`
	err := r.db.QueryRowxContext(ctx, query, postID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("delete like: %w", err)
	}
	return id, nil
}

// InsertComment records a comment and fills in its generated fields.
func (r *PostRepo) InsertComment(ctx context.Context, c *PostComment) error {
	query := `
		INSERT INTO post_comments (post_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, c.PostID, c.UserID, c.Body).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// ListComments returns a post's comments, oldest first.
func (r *PostRepo) ListComments(ctx context.Context, postID uuid.UUID, limit int) ([]PostComment, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var out []PostComment
	query := `
		SELECT id, post_id, user_id, body, created_at
		FROM post_comments WHERE post_id = $1 ORDER BY created_at ASC LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &out, query, postID, limit); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return out, nil
}

// DeleteComment removes a comment, scoped to its author.
func (r *PostRepo) DeleteComment(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM post_comments WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// InsertShare records a share.
func (r *PostRepo) InsertShare(ctx context.Context, s *PostShare) error {
	query := `
		INSERT INTO post_shares (post_id, user_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, s.PostID, s.UserID).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// MediaKeysInUse reports, for each storage key, whether a post references it.
func (r *PostRepo) MediaKeysInUse(ctx context.Context, keys []string) (map[string]bool, error) {
	inUse := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return inUse, nil
	}
	for _, key := range keys {
		inUse[key] = false
	}

	query, args, err := sqlx.In(`SELECT media_url FROM posts WHERE media_url IN (?)`, keys)
	if err != nil {
		return nil, fmt.Errorf("media keys in use: %w", err)
	}
	query = r.db.Rebind(query)

	var used []string
	if err := r.db.SelectContext(ctx, &used, query, args...); err != nil {
		return nil, fmt.Errorf("media keys in use: %w", err)
	}
	for _, key := range used {
		inUse[key] = true
	}
	return inUse, nil
}
