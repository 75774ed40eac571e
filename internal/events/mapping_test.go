package events

import "testing"

func TestNormalizeKnownChanges(t *testing.T) {
	cases := []struct {
		collection string
		op         Op
		want       Variant
	}{
		{CollectionNotifications, OpInsert, NotificationInserted},
		{CollectionNotifications, OpUpdate, NotificationUpdated},
		{CollectionNotifications, OpDelete, NotificationDeleted},
		{CollectionSavedLocations, OpInsert, SavedLocationInserted},
		{CollectionSavedLocations, OpDelete, SavedLocationDeleted},
		{CollectionSavedPlaces, OpInsert, SavedPlaceInserted},
		{CollectionSavedPlaces, OpDelete, SavedPlaceDeleted},
		{CollectionFollows, OpInsert, FollowInserted},
		{CollectionFollows, OpDelete, FollowDeleted},
		{CollectionPostLikes, OpInsert, PostLikeInserted},
		{CollectionPostLikes, OpDelete, PostLikeDeleted},
		{CollectionPostComments, OpInsert, PostCommentInserted},
		{CollectionPostComments, OpDelete, PostCommentDeleted},
		{CollectionPostShares, OpInsert, PostShareInserted},
		{CollectionPostShares, OpDelete, PostShareDeleted},
		{CollectionMessages, OpInsert, MessageInserted},
		{CollectionProfiles, OpUpdate, ProfileUpdated},
		{CollectionLocationShares, OpInsert, LocationShareInserted},
		{CollectionLocationShares, OpUpdate, LocationShareUpdated},
		{CollectionLocationShares, OpDelete, LocationShareDeleted},
	}

	for _, tc := range cases {
		got, ok := Normalize(tc.collection, tc.op)
		if !ok {
			t.Errorf("Normalize(%q, %q) unmapped, want %q", tc.collection, tc.op, tc.want)
			continue
		}
		if got != tc.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tc.collection, tc.op, got, tc.want)
		}
	}
}

func TestNormalizeRejectsUnmappedChanges(t *testing.T) {
	cases := []struct {
		collection string
		op         Op
	}{
		{CollectionStories, OpInsert},
		{CollectionInteractions, OpInsert},
		{CollectionPosts, OpInsert},
		{CollectionLocations, OpUpdate},
		{CollectionMessages, OpDelete},
		{CollectionProfiles, OpInsert},
		{CollectionFollows, OpUpdate},
		{"unknown_table", OpInsert},
		{CollectionNotifications, Op("TRUNCATE")},
	}

	for _, tc := range cases {
		if v, ok := Normalize(tc.collection, tc.op); ok {
			t.Errorf("Normalize(%q, %q) = %q, want unmapped", tc.collection, tc.op, v)
		}
	}
}
