package objects

import (
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TobiSchelling/TumorPatch/internal/tiles"
)

// TileFeatureSet is a selected tile joined with the objects detected in it.
type TileFeatureSet struct {
	Tile   tiles.Record
	Rows   []Row
	Tables []string
}

// TablesFor returns the tables whose file name contains the tile key, in
// the order given.
func TablesFor(key tiles.Key, tablePaths []string) []string {
	var out []string
	for _, p := range tablePaths {
		if strings.Contains(filepath.Base(p), string(key)) {
			out = append(out, p)
		}
	}
	return out
}

// Join loads and concatenates the object tables of every selected tile.
// Tiles without any object rows are left out of the result.
func Join(selected map[tiles.Key]tiles.Record, tablePaths []string) (map[tiles.Key]*TileFeatureSet, error) {
	keys := make([]string, 0, len(selected))
	for k := range selected {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	out := make(map[tiles.Key]*TileFeatureSet, len(selected))
	emptyTables := 0
	for _, k := range keys {
		key := tiles.Key(k)
		set := &TileFeatureSet{Tile: selected[key]}
		for _, path := range TablesFor(key, tablePaths) {
			rows, err := LoadTable(path)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				emptyTables++
				continue
			}
			set.Rows = append(set.Rows, rows...)
			set.Tables = append(set.Tables, path)
		}
		if len(set.Rows) > 0 {
			out[key] = set
		}
	}

	log.Printf("Joined object tables for %d of %d selected tiles (%d empty tables skipped)",
		len(out), len(selected), emptyTables)
	return out, nil
}
