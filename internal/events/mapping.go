package events

// Collection names as they appear on the change feed.
const (
	CollectionProfiles       = "profiles"
	CollectionPosts          = "posts"
	CollectionLocations      = "locations"
	CollectionSavedPlaces    = "saved_places"
	CollectionSavedLocations = "user_saved_locations"
	CollectionNotifications  = "notifications"
	CollectionFollows        = "follows"
	CollectionMessages       = "messages"
	CollectionPostLikes      = "post_likes"
	CollectionPostComments   = "post_comments"
	CollectionPostShares     = "post_shares"
	CollectionLocationShares = "location_shares"
	CollectionStories        = "stories"
	CollectionInteractions   = "interactions"
)

type mappingKey struct {
	collection string
	op         Op
}

// variantByChange is the closed normalization table. A raw change whose
// (collection, op) pair is absent here is dropped at the bus boundary.
var variantByChange = map[mappingKey]Variant{
	{CollectionNotifications, OpInsert}:  NotificationInserted,
	{CollectionNotifications, OpUpdate}:  NotificationUpdated,
	{CollectionNotifications, OpDelete}:  NotificationDeleted,
	{CollectionSavedLocations, OpInsert}: SavedLocationInserted,
	{CollectionSavedLocations, OpDelete}: SavedLocationDeleted,
	{CollectionSavedPlaces, OpInsert}:    SavedPlaceInserted,
	{CollectionSavedPlaces, OpDelete}:    SavedPlaceDeleted,
	{CollectionFollows, OpInsert}:        FollowInserted,
	{CollectionFollows, OpDelete}:        FollowDeleted,
	{CollectionPostLikes, OpInsert}:      PostLikeInserted,
	{CollectionPostLikes, OpDelete}:      PostLikeDeleted,
	{CollectionPostComments, OpInsert}:   PostCommentInserted,
	{CollectionPostComments, OpDelete}:   PostCommentDeleted,
	{CollectionPostShares, OpInsert}:     PostShareInserted,
	{CollectionPostShares, OpDelete}:     PostShareDeleted,
	{CollectionMessages, OpInsert}:       MessageInserted,
	{CollectionProfiles, OpUpdate}:       ProfileUpdated,
	{CollectionLocationShares, OpInsert}: LocationShareInserted,
	{CollectionLocationShares, OpUpdate}: LocationShareUpdated,
	{CollectionLocationShares, OpDelete}: LocationShareDeleted,
}

// Normalize maps a raw (collection, op) pair to its event variant.
// The second return is false when the pair has no mapping.
func Normalize(collection string, op Op) (Variant, bool) {
	v, ok := variantByChange[mappingKey{collection, op}]
	return v, ok
}
