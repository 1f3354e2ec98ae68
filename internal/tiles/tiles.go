package tiles

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/paulmach/orb"

	"github.com/TobiSchelling/TumorPatch/internal/geometry"
)

// Key identifies a tile by its origin, e.g. "x4096_y8192".
type Key string

// MakeKey builds the composite key for a tile origin.
func MakeKey(minX, minY int) Key {
	return Key(fmt.Sprintf("x%d_y%d", minX, minY))
}

// Record is the metadata of one pre-computed analysis tile.
type Record struct {
	Key           Key
	ImageWidth    int
	ImageHeight   int
	TileWidth     int
	TileHeight    int
	MinX          int
	MinY          int
	OutFilePrefix string
	Source        string
	// Box is the tile's bounding polygon in normalized 0..1 slide space.
	Box orb.Polygon
}

// Set holds deduplicated tile records in first-seen order.
type Set struct {
	Records    map[Key]Record
	Order      []Key
	Duplicates int
}

// NewSet creates an empty tile set.
func NewSet() *Set {
	return &Set{Records: make(map[Key]Record)}
}

// Add inserts a record unless its key is already present. Returns false and
// counts a duplicate when the key was seen before.
func (s *Set) Add(r Record) bool {
	if _, ok := s.Records[r.Key]; ok {
		s.Duplicates++
		return false
	}
	s.Records[r.Key] = r
	s.Order = append(s.Order, r.Key)
	return true
}

// Len returns the number of unique tiles.
func (s *Set) Len() int {
	return len(s.Order)
}

type metadata struct {
	ImageWidth    *float64 `json:"image_width"`
	ImageHeight   *float64 `json:"image_height"`
	TileWidth     *float64 `json:"tile_width"`
	TileHeight    *float64 `json:"tile_height"`
	TileMinX      *float64 `json:"tile_minx"`
	TileMinY      *float64 `json:"tile_miny"`
	OutFilePrefix string   `json:"out_file_prefix"`
}

// Load reads one metadata file per path, in the order given, and
// deduplicates by tile origin.
func Load(paths []string) (*Set, error) {
	set := NewSet()
	for _, path := range paths {
		r, err := ReadRecord(path)
		if err != nil {
			return nil, err
		}
		set.Add(r)
	}
	log.Printf("Loaded %d tile records (%d duplicates discarded)", set.Len(), set.Duplicates)
	return set, nil
}

// ReadRecord parses a single tile metadata file.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("reading tile metadata: %w", err)
	}

	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Record{}, fmt.Errorf("parsing tile metadata %s: %w", path, err)
	}

	r := Record{OutFilePrefix: m.OutFilePrefix, Source: path}
	fields := []struct {
		name string
		v    *float64
		dst  *int
	}{
		{"image_width", m.ImageWidth, &r.ImageWidth},
		{"image_height", m.ImageHeight, &r.ImageHeight},
		{"tile_width", m.TileWidth, &r.TileWidth},
		{"tile_height", m.TileHeight, &r.TileHeight},
		{"tile_minx", m.TileMinX, &r.MinX},
		{"tile_miny", m.TileMinY, &r.MinY},
	}
	for _, f := range fields {
		if f.v == nil {
			return Record{}, fmt.Errorf("tile metadata %s: missing %s", path, f.name)
		}
		if *f.v != math.Trunc(*f.v) {
			return Record{}, fmt.Errorf("tile metadata %s: %s is not an integer: %v", path, f.name, *f.v)
		}
		*f.dst = int(*f.v)
	}
	if r.ImageWidth <= 0 || r.ImageHeight <= 0 {
		return Record{}, fmt.Errorf("tile metadata %s: image dimensions must be positive", path)
	}

	r.Key = MakeKey(r.MinX, r.MinY)
	r.Box = geometry.NormalizedBox(
		float64(r.MinX), float64(r.MinY),
		float64(r.TileWidth), float64(r.TileHeight),
		float64(r.ImageWidth), float64(r.ImageHeight),
	)
	return r, nil
}
