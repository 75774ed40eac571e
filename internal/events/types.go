// Package events defines the closed set of realtime event variants broadcast
// by the fan-out bus, together with the payload record carried by each one.
package events

import (
	"encoding/json"
	"time"
)

// Op is the operation kind of the underlying row change. It is tagged
// explicitly at the change-feed source; nothing in this tree infers the
// operation from which payload fields happen to be populated.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Variant identifies one case of the event union. The variant fully
// determines how Payload is to be interpreted.
type Variant string

const (
	NotificationInserted  Variant = "notification.inserted"
	NotificationUpdated   Variant = "notification.updated"
	NotificationDeleted   Variant = "notification.deleted"
	SavedLocationInserted Variant = "saved_location.inserted"
	SavedLocationDeleted  Variant = "saved_location.deleted"
	SavedPlaceInserted    Variant = "saved_place.inserted"
	SavedPlaceDeleted     Variant = "saved_place.deleted"
	FollowInserted        Variant = "follow.inserted"
	FollowDeleted         Variant = "follow.deleted"
	PostLikeInserted      Variant = "post_like.inserted"
	PostLikeDeleted       Variant = "post_like.deleted"
	PostCommentInserted   Variant = "post_comment.inserted"
	PostCommentDeleted    Variant = "post_comment.deleted"
	PostShareInserted     Variant = "post_share.inserted"
	PostShareDeleted      Variant = "post_share.deleted"
	MessageInserted       Variant = "message.inserted"
	ProfileUpdated        Variant = "profile.updated"
	LocationShareInserted Variant = "location_share.inserted"
	LocationShareUpdated  Variant = "location_share.updated"
	LocationShareDeleted  Variant = "location_share.deleted"
)

// Event is one normalized change notification as delivered to handlers.
type Event struct {
	ID        string          `json:"id"`
	Variant   Variant         `json:"type"`
	Op        Op              `json:"op"`
	Principal string          `json:"-"` // routing only, never sent to clients
	Payload   json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is invoked for every event the bus broadcasts. Handlers receive
// the full stream and filter by variant themselves; they must return
// quickly and defer heavy work.
type Handler func(Event)

// Stream is the read side of the fan-out bus as seen by consumers.
type Stream interface {
	// Subscribe registers a handler for every broadcast event and returns
	// an idempotent unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())
}
