package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TobiSchelling/TumorPatch/internal/database"
	"github.com/TobiSchelling/TumorPatch/internal/tiles"
)

// TileSummary aggregates the records written for one tile.
type TileSummary struct {
	Key         tiles.Key
	Patches     int
	WithObjects int
	NucleusArea float64
	MeanPercent database.Measure

	percentSum   float64
	percentCount int
}

// Tally accumulates per-tile summaries as records are persisted.
type Tally struct {
	tiles map[tiles.Key]*TileSummary
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{tiles: make(map[tiles.Key]*TileSummary)}
}

// Add counts one persisted record.
func (t *Tally) Add(f *database.PatchFeature) {
	key := tiles.MakeKey(f.TileMinX, f.TileMinY)
	s, ok := t.tiles[key]
	if !ok {
		s = &TileSummary{Key: key}
		t.tiles[key] = s
	}
	s.Patches++
	s.NucleusArea += f.NucleusArea
	if f.NucleusArea > 0 {
		s.WithObjects++
	}
	if f.PercentNuclearMaterial.Valid {
		s.percentSum += f.PercentNuclearMaterial.Float64
		s.percentCount++
	}
}

// Tiles returns the summaries ordered by tile key.
func (t *Tally) Tiles() []TileSummary {
	out := make([]TileSummary, 0, len(t.tiles))
	for _, s := range t.tiles {
		summary := *s
		if s.percentCount > 0 {
			summary.MeanPercent = database.NewMeasure(s.percentSum / float64(s.percentCount))
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Input is everything a run report is composed from.
type Input struct {
	RunID     string
	CaseID    string
	Annotator string
	PatchSize int
	Regions   int
	Counts    database.RunCounts
	Tiles     []TileSummary
}

// Compose renders the markdown report of a run.
func Compose(in Input) string {
	var sections []string

	sections = append(sections, fmt.Sprintf(
		"# %s\n\n"+
			"- **Run:** `%s`\n"+
			"- **Annotator:** %s\n"+
			"- **Patch size:** %d px\n"+
			"- **Tumor regions:** %d",
		in.CaseID, in.RunID, in.Annotator, in.PatchSize, in.Regions,
	))

	c := in.Counts
	sections = append(sections, fmt.Sprintf(
		"## Tiles\n\n"+
			"| Scanned | Duplicates | Selected | Joined |\n"+
			"|---:|---:|---:|---:|\n"+
			"| %d | %d | %d | %d |",
		c.TilesScanned, c.Duplicates, c.TilesSelected, c.TilesJoined,
	))

	sections = append(sections, patchSection(c.PatchesWritten, in.Tiles))

	return strings.Join(sections, "\n\n---\n\n") + "\n"
}

func patchSection(written int, summaries []TileSummary) string {
	if len(summaries) == 0 {
		return fmt.Sprintf("## Patches\n\n%d patch records written.", written)
	}

	var total float64
	var n int
	var b strings.Builder
	fmt.Fprintf(&b, "## Patches\n\n%d patch records written.\n\n", written)
	b.WriteString("| Tile | Patches | With nuclei | Nucleus area | Mean % nuclear material |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "| %s | %d | %d | %.2f | %s |\n", s.Key, s.Patches, s.WithObjects, s.NucleusArea, s.MeanPercent)
		if s.MeanPercent.Valid {
			total += s.MeanPercent.Float64 * float64(s.Patches)
			n += s.Patches
		}
	}
	if n > 0 {
		fmt.Fprintf(&b, "\nMean percent nuclear material over all patches: %.2f", total/float64(n))
	}
	return strings.TrimRight(b.String(), "\n")
}
