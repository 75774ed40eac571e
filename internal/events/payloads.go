package events

import "time"

// Payload record types, one per variant family. Each mirrors the row shape
// of the collection that produced the change.

// NotificationRow is the payload for notification.* events.
type NotificationRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ActorID   *string   `json:"actor_id,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	EntityID  *string   `json:"entity_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedLocationRow is the payload for saved_location.* events
// (rows of the user_saved_locations collection).
type SavedLocationRow struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LocationID string    `json:"location_id"`
	Rating     *float64  `json:"rating,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SavedPlaceRow is the payload for saved_place.* events. Place records come
// from an external places lookup and may carry only a name/city pair.
type SavedPlaceRow struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	City       string    `json:"city"`
	Address    string    `json:"address"`
	CreatedAt  time.Time `json:"created_at"`
}

// FollowRow is the payload for follow.* events.
type FollowRow struct {
	ID         string    `json:"id"`
	FollowerID string    `json:"follower_id"`
	FolloweeID string    `json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// PostLikeRow is the payload for post_like.* events.
type PostLikeRow struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostCommentRow is the payload for post_comment.* events.
type PostCommentRow struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PostShareRow is the payload for post_share.* events.
type PostShareRow struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRow is the payload for message.inserted events.
type MessageRow struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileRow is the payload for profile.updated events.
type ProfileRow struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	City        *string   `json:"city,omitempty"`
	IsBusiness  bool      `json:"is_business"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LocationShareRow is the payload for location_share.* events.
type LocationShareRow struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	LocationID  string     `json:"location_id"`
	Note        *string    `json:"note,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
