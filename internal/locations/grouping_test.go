package locations

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

func strPtr(s string) *string { return &s }

func newRecord(name, city string) Record {
	return Record{RowID: uuid.New(), Name: name, City: city, Saves: 1}
}

func TestKeyPrefersExternalID(t *testing.T) {
	r := newRecord("Cafe Roma", "Lisbon")
	r.ExternalID = strPtr("place-123")
	if got := Key(r); got != "gp:place-123" {
		t.Errorf("key = %q, want gp:place-123", got)
	}

	r.ExternalID = nil
	r.Address = "Rua Augusta 10"
	if got := Key(r); got != "nc:cafe roma|lisbon|rua augusta 10" {
		t.Errorf("key = %q", got)
	}
}

func TestKeyNormalizesCaseAndWhitespace(t *testing.T) {
	a := newRecord("Cafe Roma", "Lisbon")
	b := newRecord("  cafe   ROMA ", "lisbon")
	if Key(a) != Key(b) {
		t.Errorf("keys differ: %q vs %q", Key(a), Key(b))
	}
}

func TestKeyCutsAddressFragmentOnRuneBoundary(t *testing.T) {
	r := newRecord("Pastéis", "Lisboa")
	// 19 runes then a multibyte one straddling the fragment cutoff
	r.Address = "rua das amoreiras nºqq"
	got := Key(r)
	if !utf8.ValidString(got) {
		t.Fatalf("key is not valid UTF-8: %q", got)
	}
	if want := "nc:pastéis|lisboa|rua das amoreiras nº"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestGroupsMergeMatchingNameAndCity(t *testing.T) {
	g := NewGrouper()
	a := newRecord("Cafe Roma", "Lisbon")
	b := newRecord("cafe roma", "Lisbon")
	c := newRecord("Cafe Roma", "Porto")
	g.AddAll([]Record{a, b, c})

	groups := g.Groups()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	// the merged Lisbon group has two saves and sorts first
	if groups[0].Saves != 2 || len(groups[0].RowIDs) != 2 {
		t.Errorf("merged group saves = %d, rows = %d; want 2, 2",
			groups[0].Saves, len(groups[0].RowIDs))
	}
	if groups[1].City != "Porto" {
		t.Errorf("second group city = %q, want Porto", groups[1].City)
	}
}

func TestFallbackRecordJoinsExternalGroup(t *testing.T) {
	g := NewGrouper()
	ext := newRecord("Cafe Roma", "Lisbon")
	ext.ExternalID = strPtr("place-123")
	ext.Posts = 3
	plain := newRecord("cafe roma", "lisbon")
	g.Add(plain)
	g.Add(ext)

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	grp := groups[0]
	if grp.Key != "gp:place-123" {
		t.Errorf("key = %q, want gp:place-123", grp.Key)
	}
	if grp.Saves != 2 || grp.Posts != 3 {
		t.Errorf("saves = %d, posts = %d; want 2, 3", grp.Saves, grp.Posts)
	}
	if grp.ExternalID == nil || *grp.ExternalID != "place-123" {
		t.Error("external id lost in merge")
	}
}

func TestDistinctExternalIDsStaySeparate(t *testing.T) {
	g := NewGrouper()
	a := newRecord("Cafe Roma", "Lisbon")
	a.ExternalID = strPtr("place-1")
	b := newRecord("Cafe Roma", "Lisbon")
	b.ExternalID = strPtr("place-2")
	g.AddAll([]Record{a, b})

	if groups := g.Groups(); len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
}

func TestForceMergeCombinesGroups(t *testing.T) {
	g := NewGrouper()
	a := newRecord("Il Forno", "Rome")
	b := newRecord("Forno Antico", "Rome")
	g.AddAll([]Record{a, b})

	g.ForceMerge(Key(b), Key(a))

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Saves != 2 {
		t.Errorf("saves = %d, want 2", groups[0].Saves)
	}
}

func TestForceSplitKeepsRecordsApart(t *testing.T) {
	g := NewGrouper()
	ext := newRecord("Cafe Roma", "Lisbon")
	ext.ExternalID = strPtr("place-123")
	plain := newRecord("Cafe Roma", "Lisbon")
	plain.Address = "somewhere else entirely"
	g.AddAll([]Record{ext, plain})

	g.ForceSplit(Key(plain))

	if groups := g.Groups(); len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
}

func TestAverageRatingPoolsIndividualRatings(t *testing.T) {
	g := NewGrouper()
	a := newRecord("Cafe Roma", "Lisbon")
	a.RatingCount = 2
	a.RatingSum = 9 // 4.5 + 4.5
	b := newRecord("cafe roma", "Lisbon")
	b.RatingCount = 1
	b.RatingSum = 3
	g.AddAll([]Record{a, b})

	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if got := groups[0].AverageRating(); math.Abs(got-4.0) > 1e-9 {
		t.Errorf("average rating = %v, want 4.0", got)
	}

	empty := Group{}
	if empty.AverageRating() != 0 {
		t.Error("empty group average not zero")
	}
}

func TestGroupsOrderedBySaves(t *testing.T) {
	g := NewGrouper()
	popular := newRecord("Busy Bar", "Lisbon")
	popular.Saves = 10
	quiet := newRecord("Quiet Cafe", "Lisbon")
	quiet.Saves = 2
	g.AddAll([]Record{quiet, popular})

	groups := g.Groups()
	if groups[0].Name != "Busy Bar" || groups[1].Name != "Quiet Cafe" {
		t.Errorf("order = %q, %q; want Busy Bar first", groups[0].Name, groups[1].Name)
	}
}

// Grouping output must not depend on the order records were added.
func TestGroupsOrderInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := []string{"Cafe Roma", "cafe roma", "Il Forno", "Quiet Cafe"}
		cities := []string{"Lisbon", "Porto"}
		externals := []*string{nil, strPtr("place-1"), strPtr("place-2")}

		n := rapid.IntRange(1, 12).Draw(t, "n")
		records := make([]Record, n)
		for i := range records {
			records[i] = Record{
				RowID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("row-%d", i))),
				Name:       rapid.SampledFrom(names).Draw(t, "name"),
				City:       rapid.SampledFrom(cities).Draw(t, "city"),
				ExternalID: rapid.SampledFrom(externals).Draw(t, "ext"),
				Saves:      rapid.IntRange(0, 5).Draw(t, "saves"),
				Posts:      rapid.IntRange(0, 5).Draw(t, "posts"),
			}
		}

		perm := rapid.Permutation(records).Draw(t, "perm")

		base := NewGrouper()
		base.AddAll(records)
		shuffled := NewGrouper()
		shuffled.AddAll(perm)

		want := base.Groups()
		got := shuffled.Groups()
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("grouping depends on insertion order:\nwant %+v\ngot  %+v", want, got)
		}
	})
}
