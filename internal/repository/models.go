// Package repository provides PostgreSQL persistence for the SPOTT
// collections.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Profile represents a user profile row.
type Profile struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	AvatarURL    *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	Bio          *string    `db:"bio" json:"bio,omitempty"`
	City         *string    `db:"city" json:"city,omitempty"`
	IsBusiness   bool       `db:"is_business" json:"is_business"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastSeenAt   *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
}

// Post represents a photo/video post tagged to a place.
type Post struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	LocationID *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	Caption    *string    `db:"caption" json:"caption,omitempty"`
	MediaURL   string     `db:"media_url" json:"media_url"`
	MediaType  string     `db:"media_type" json:"media_type"`
	City       *string    `db:"city" json:"city,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Location represents a canonical place row.
type Location struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	City       string     `db:"city" json:"city"`
	Address    string     `db:"address" json:"address"`
	ExternalID *string    `db:"external_id" json:"external_id,omitempty"`
	Latitude   *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64   `db:"longitude" json:"longitude,omitempty"`
	Category   *string    `db:"category" json:"category,omitempty"`
	ClaimedBy  *uuid.UUID `db:"claimed_by" json:"claimed_by,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// SavedPlace represents a lightweight place saved from the external
// places lookup; it may carry no canonical location reference.
type SavedPlace struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	City       string    `db:"city" json:"city"`
	Address    string    `db:"address" json:"address"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SavedLocation represents a user's save (optionally with a rating) of a
// canonical location.
type SavedLocation struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	LocationID uuid.UUID `db:"location_id" json:"location_id"`
	Rating     *float64  `db:"rating" json:"rating,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Notification represents a notification row.
type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	ActorID   *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	Kind      string     `db:"kind" json:"kind"`
	Title     string     `db:"title" json:"title"`
	Body      string     `db:"body" json:"body"`
	EntityID  *uuid.UUID `db:"entity_id" json:"entity_id,omitempty"`
	IsRead    bool       `db:"is_read" json:"is_read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Follow represents a follower relationship.
type Follow struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FollowerID uuid.UUID `db:"follower_id" json:"follower_id"`
	FolloweeID uuid.UUID `db:"followee_id" json:"followee_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Message represents a direct message.
type Message struct {
	ID          uuid.UUID `db:"id" json:"id"`
	SenderID    uuid.UUID `db:"sender_id" json:"sender_id"`
	RecipientID uuid.UUID `db:"recipient_id" json:"recipient_id"`
	Body        string    `db:"body" json:"body"`
	IsRead      bool      `db:"is_read" json:"is_read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PostLike represents a like on a post.
type PostLike struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PostID    uuid.UUID `db:"post_id" json:"post_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PostComment represents a comment on a post.
type PostComment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PostID    uuid.UUID `db:"post_id" json:"post_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PostShare represents a share of a post.
type PostShare struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PostID    uuid.UUID `db:"post_id" json:"post_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LocationShare represents an ephemeral location share between users.
type LocationShare struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	SenderID    uuid.UUID  `db:"sender_id" json:"sender_id"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	LocationID  uuid.UUID  `db:"location_id" json:"location_id"`
	Note        *string    `db:"note" json:"note,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Story represents an ephemeral story post.
type Story struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	LocationID *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	MediaURL   string     `db:"media_url" json:"media_url"`
	MediaType  string     `db:"media_type" json:"media_type"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Interaction represents a recorded user interaction, used by the
// assistant's retrieval context and business analytics.
type Interaction struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Kind      string     `db:"kind" json:"kind"`
	EntityID  *uuid.UUID `db:"entity_id" json:"entity_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// EngagementCounts holds the like/comment/share totals for one post.
type EngagementCounts struct {
	Likes    int `db:"likes" json:"likes"`
	Comments int `db:"comments" json:"comments"`
	Shares   int `db:"shares" json:"shares"`
}

// PinAggregate holds the save/rating aggregate for one location.
type PinAggregate struct {
	Saves       int     `db:"saves" json:"saves"`
	RatingCount int     `db:"rating_count" json:"rating_count"`
	RatingSum   float64 `db:"rating_sum" json:"rating_sum"`
}

// LocationStats holds the save/post totals for one location.
type LocationStats struct {
	Saves int `db:"saves" json:"saves"`
	Posts int `db:"posts" json:"posts"`
}

// CityEngagement holds engagement totals for one city.
type CityEngagement struct {
	Savers int `db:"savers" json:"savers"`
	Posts  int `db:"posts" json:"posts"`
}

// CityCount is one bucket of a saved-city histogram.
type CityCount struct {
	City  string `db:"city" json:"city"`
	Count int    `db:"count" json:"count"`
}

// LocationWithStats pairs a canonical location row with its per-row
// aggregate, the input shape for the identity grouper.
type LocationWithStats struct {
	Location
	Saves       int     `db:"saves" json:"saves"`
	Posts       int     `db:"posts" json:"posts"`
	RatingCount int     `db:"rating_count" json:"rating_count"`
	RatingSum   float64 `db:"rating_sum" json:"rating_sum"`
}
