package region

import (
	"errors"
	"log"

	"github.com/paulmach/orb"

	"github.com/TobiSchelling/TumorPatch/internal/geometry"
	"github.com/TobiSchelling/TumorPatch/internal/tiles"
)

// ErrNoTumorRegions is returned when a selector is built without regions.
var ErrNoTumorRegions = errors.New("no tumor regions")

// Selector filters tiles down to those overlapping at least one tumor region.
type Selector struct {
	regions []orb.Polygon
	bounds  []orb.Bound
}

// NewSelector creates a selector over independent, never-merged regions.
func NewSelector(regions []orb.Polygon) (*Selector, error) {
	if len(regions) == 0 {
		return nil, ErrNoTumorRegions
	}
	s := &Selector{
		regions: regions,
		bounds:  make([]orb.Bound, len(regions)),
	}
	for i, r := range regions {
		s.bounds[i] = r.Bound()
	}
	return s, nil
}

// FromPoints builds a selector from raw annotation coordinate lists.
func FromPoints(markups [][][2]float64) (*Selector, error) {
	regions := make([]orb.Polygon, 0, len(markups))
	for _, m := range markups {
		p, err := geometry.RegionFromPoints(m)
		if err != nil {
			return nil, err
		}
		regions = append(regions, p)
	}
	return NewSelector(regions)
}

// Len returns the number of regions.
func (s *Selector) Len() int {
	return len(s.regions)
}

// Matches reports whether a tile box overlaps any region.
func (s *Selector) Matches(box orb.Polygon) bool {
	tb := box.Bound()
	for i, r := range s.regions {
		// Bound-disjoint shapes cannot satisfy any overlap sub-predicate.
		if !s.bounds[i].Intersects(tb) {
			continue
		}
		if geometry.Overlaps(box, r) {
			return true
		}
	}
	return false
}

// Select returns the tiles of set overlapping at least one region.
func (s *Selector) Select(set *tiles.Set) map[tiles.Key]tiles.Record {
	out := make(map[tiles.Key]tiles.Record)
	for _, key := range set.Order {
		rec := set.Records[key]
		if s.Matches(rec.Box) {
			out[key] = rec
		}
	}
	log.Printf("Selected %d of %d tiles across %d tumor regions", len(out), set.Len(), len(s.regions))
	return out
}
