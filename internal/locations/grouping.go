// Package locations merges place records from the canonical locations
// collection and the lighter saved-places collection into one display
// entity per real-world place, and serves the grouped discovery feed.
package locations

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/repository"
)

// addrFragmentLen bounds how much of the normalized address participates
// in the fallback key.
const addrFragmentLen = 20

// Record is the neutral input shape for the grouper, produced from
// either source collection.
type Record struct {
	RowID      uuid.UUID
	ExternalID *string
	Name       string
	City       string
	Address    string
	Latitude   *float64
	Longitude  *float64
	Category   *string
	ClaimedBy  *uuid.UUID

	Saves       int
	Posts       int
	RatingCount int
	RatingSum   float64
}

// RecordFromLocation converts a canonical location row with its
// aggregates into a grouper record.
func RecordFromLocation(l repository.LocationWithStats) Record {
	return Record{
		RowID:       l.ID,
		ExternalID:  l.ExternalID,
		Name:        l.Name,
		City:        l.City,
		Address:     l.Address,
		Latitude:    l.Latitude,
		Longitude:   l.Longitude,
		Category:    l.Category,
		ClaimedBy:   l.ClaimedBy,
		Saves:       l.Saves,
		Posts:       l.Posts,
		RatingCount: l.RatingCount,
		RatingSum:   l.RatingSum,
	}
}

// RecordFromSavedPlace converts a saved place into a grouper record.
// Each saved place contributes one save.
func RecordFromSavedPlace(p repository.SavedPlace) Record {
	return Record{
		RowID:      p.ID,
		ExternalID: p.ExternalID,
		Name:       p.Name,
		City:       p.City,
		Address:    p.Address,
		Saves:      1,
	}
}

// Group is one merged place with aggregates pooled across every source
// row folded into it.
type Group struct {
	Key        string     `json:"key"`
	ExternalID *string    `json:"external_id,omitempty"`
	Name       string     `json:"name"`
	City       string     `json:"city"`
	Address    string     `json:"address"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Category   *string    `json:"category,omitempty"`
	ClaimedBy  *uuid.UUID `json:"claimed_by,omitempty"`

	RowIDs      []uuid.UUID `json:"row_ids"`
	Saves       int         `json:"saves"`
	Posts       int         `json:"posts"`
	RatingCount int         `json:"rating_count"`
	ratingSum   float64
}

// AverageRating is the mean of all individual ratings pooled across the
// merged rows, zero when no ratings exist.
func (g *Group) AverageRating() float64 {
	if g.RatingCount == 0 {
		return 0
	}
	return g.ratingSum / float64(g.RatingCount)
}

// Grouper folds records into canonical groups. Records are collected on
// Add and grouped in a canonical order on Groups, so the same input set
// produces the same groups and aggregates regardless of insertion order.
type Grouper struct {
	records []Record

	// manual overrides applied during grouping, keyed by canonical key
	forceMerge map[string]string
	forceSplit map[string]struct{}
}

// NewGrouper creates an empty grouper.
func NewGrouper() *Grouper {
	return &Grouper{
		forceMerge: make(map[string]string),
		forceSplit: make(map[string]struct{}),
	}
}

// Key computes the canonical key for a record: the external place id
// when present, otherwise normalized name, city and a short address
// fragment.
func Key(r Record) string {
	if r.ExternalID != nil && *r.ExternalID != "" {
		return "gp:" + *r.ExternalID
	}
	addr := normalize(r.Address)
	// Cut on a rune boundary; the key is exposed to clients and must
	// stay valid UTF-8 for addresses in any script.
	if runes := []rune(addr); len(runes) > addrFragmentLen {
		addr = string(runes[:addrFragmentLen])
	}
	return "nc:" + normalize(r.Name) + "|" + normalize(r.City) + "|" + addr
}

func nameCityKey(r Record) string {
	return normalize(r.Name) + "|" + normalize(r.City)
}

// normalize lowercases and collapses interior whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Add collects one record for grouping.
func (g *Grouper) Add(r Record) {
	g.records = append(g.records, r)
}

// AddAll collects a batch of records.
func (g *Grouper) AddAll(rs []Record) {
	g.records = append(g.records, rs...)
}

// ForceMerge records that every record resolving to key `from` belongs
// to the group at key `into`.
func (g *Grouper) ForceMerge(from, into string) {
	if from == "" || into == "" || from == into {
		return
	}
	g.forceMerge[from] = into
}

// ForceSplit prevents records keyed `key` from being folded into a group
// through the name+city index. Records sharing the exact canonical key
// still merge.
func (g *Grouper) ForceSplit(key string) {
	if key == "" {
		return
	}
	g.forceSplit[key] = struct{}{}
}

// resolve follows force-merge aliases to a terminal key.
func (g *Grouper) resolve(key string) string {
	seen := map[string]struct{}{}
	for {
		next, ok := g.forceMerge[key]
		if !ok {
			return key
		}
		if _, cyc := seen[key]; cyc {
			return key
		}
		seen[key] = struct{}{}
		key = next
	}
}

// Groups performs the grouping and returns the merged groups sorted by
// aggregated save count, descending, ties broken by name then key.
//
// Grouping runs in two deterministic passes. Externally keyed records go
// first, smallest key wins the name+city index, so a fallback record
// always lands in the same external group no matter what order the
// records arrived in.
func (g *Grouper) Groups() []Group {
	external := make([]Record, 0, len(g.records))
	fallback := make([]Record, 0, len(g.records))
	for _, r := range g.records {
		if strings.HasPrefix(g.resolve(Key(r)), "gp:") {
			external = append(external, r)
		} else {
			fallback = append(fallback, r)
		}
	}
	byKeyThenRow := func(rs []Record) {
		sort.Slice(rs, func(i, j int) bool {
			ki, kj := g.resolve(Key(rs[i])), g.resolve(Key(rs[j]))
			if ki != kj {
				return ki < kj
			}
			return rs[i].RowID.String() < rs[j].RowID.String()
		})
	}
	byKeyThenRow(external)
	byKeyThenRow(fallback)

	groups := make(map[string]*Group)
	// normalized name+city to the canonical key holding that place, so
	// a fallback-keyed record joins the group that carries the external
	// id for the same name and city
	nameCity := make(map[string]string)

	for _, r := range external {
		key := g.resolve(Key(r))
		if _, split := g.forceSplit[key]; !split {
			if _, taken := nameCity[nameCityKey(r)]; !taken {
				nameCity[nameCityKey(r)] = key
			}
		}
		mergeInto(groups, key, r)
	}
	for _, r := range fallback {
		key := g.resolve(Key(r))
		if _, split := g.forceSplit[key]; !split {
			if anchor, ok := nameCity[nameCityKey(r)]; ok {
				key = anchor
			} else {
				nameCity[nameCityKey(r)] = key
			}
		}
		mergeInto(groups, key, r)
	}

	out := make([]Group, 0, len(groups))
	for _, grp := range groups {
		sort.Slice(grp.RowIDs, func(i, j int) bool {
			return grp.RowIDs[i].String() < grp.RowIDs[j].String()
		})
		out = append(out, *grp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Saves != out[j].Saves {
			return out[i].Saves > out[j].Saves
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// mergeInto folds one record into the group at key, creating it when
// absent. Known field values win over unknown ones; aggregates sum.
func mergeInto(groups map[string]*Group, key string, r Record) {
	dst, ok := groups[key]
	if !ok {
		groups[key] = &Group{
			Key:         key,
			ExternalID:  r.ExternalID,
			Name:        r.Name,
			City:        r.City,
			Address:     r.Address,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			Category:    r.Category,
			ClaimedBy:   r.ClaimedBy,
			RowIDs:      []uuid.UUID{r.RowID},
			Saves:       r.Saves,
			Posts:       r.Posts,
			RatingCount: r.RatingCount,
			ratingSum:   r.RatingSum,
		}
		return
	}

	if dst.ExternalID == nil && r.ExternalID != nil {
		dst.ExternalID = r.ExternalID
	}
	if dst.Name == "" {
		dst.Name = r.Name
	}
	if dst.City == "" {
		dst.City = r.City
	}
	if len(r.Address) > len(dst.Address) {
		dst.Address = r.Address
	}
	if dst.Latitude == nil {
		dst.Latitude = r.Latitude
	}
	if dst.Longitude == nil {
		dst.Longitude = r.Longitude
	}
	if dst.Category == nil {
		dst.Category = r.Category
	}
	if dst.ClaimedBy == nil {
		dst.ClaimedBy = r.ClaimedBy
	}

	dst.RowIDs = append(dst.RowIDs, r.RowID)
	dst.Saves += r.Saves
	dst.Posts += r.Posts
	dst.RatingCount += r.RatingCount
	dst.ratingSum += r.RatingSum
}
