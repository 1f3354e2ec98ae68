package patch

import (
	"fmt"
	"log"

	"github.com/paulmach/orb"

	"github.com/TobiSchelling/TumorPatch/internal/geometry"
	"github.com/TobiSchelling/TumorPatch/internal/objects"
)

// Options control how a tile is cut into patches.
type Options struct {
	// Size is the patch edge length in pixels.
	Size int
	// SkipMalformed excludes objects with unparsable boundaries instead of
	// failing the whole tile.
	SkipMalformed bool
}

// Patch is one S×S cell of a tile grid.
type Patch struct {
	// Index is the 1-based sequence number within the tile, columns outer
	// and rows inner.
	Index int
	Col   int
	Row   int
	MinX  int
	MinY  int
	Size  int
	// TileMinX and TileMinY are the origin of the owning tile.
	TileMinX int
	TileMinY int
	// Objects are the rows whose boundary lies within or intersects the patch.
	Objects []objects.Row
	// OverlapArea is the summed object area inside the patch, in pixels².
	OverlapArea float64
	// NucleusArea is OverlapArea divided by Size.
	NucleusArea float64
}

// Bound returns the patch box in absolute slide pixels.
func (p Patch) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(p.MinX), float64(p.MinY)},
		Max: orb.Point{float64(p.MinX + p.Size), float64(p.MinY + p.Size)},
	}
}

// Grid returns the number of whole patches that fit a tile. Remainder pixels
// at the far edges are not covered.
func Grid(tileWidth, tileHeight, size int) (cols, rows int) {
	if size <= 0 {
		return 0, 0
	}
	return max(tileWidth/size, 0), max(tileHeight/size, 0)
}

type shape struct {
	row   objects.Row
	poly  orb.MultiPolygon
	bound orb.Bound
	area  float64
}

// Decompose cuts a tile into its patch grid and assigns each object to every
// patch it overlaps, accumulating the overlapping area.
func Decompose(set *objects.TileFeatureSet, opts Options) ([]Patch, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("patch size must be positive, got %d", opts.Size)
	}

	shapes, err := parseShapes(set, opts.SkipMalformed)
	if err != nil {
		return nil, err
	}

	tile := set.Tile
	cols, rows := Grid(tile.TileWidth, tile.TileHeight, opts.Size)
	patches := make([]Patch, 0, cols*rows)

	index := 0
	for col := 1; col <= cols; col++ {
		for row := 1; row <= rows; row++ {
			index++
			p := Patch{
				Index: index,
				Col:   col,
				Row:   row,
				MinX:  tile.MinX + (col-1)*opts.Size,
				MinY:  tile.MinY + (row-1)*opts.Size,
				Size:  opts.Size,

				TileMinX: tile.MinX,
				TileMinY: tile.MinY,
			}
			assign(&p, shapes)
			patches = append(patches, p)
		}
	}
	return patches, nil
}

func assign(p *Patch, shapes []shape) {
	box := p.Bound()
	boxPoly := box.ToPolygon()

	for _, s := range shapes {
		if !s.bound.Intersects(box) {
			continue
		}
		within := geometry.Within(s.poly, boxPoly)
		if !within && !geometry.Intersects(s.poly, boxPoly) {
			continue
		}

		p.Objects = append(p.Objects, s.row)
		if within {
			p.OverlapArea += s.area
		} else {
			p.OverlapArea += geometry.BoxIntersectionArea(s.poly, box)
		}
	}
	p.NucleusArea = p.OverlapArea / float64(p.Size)
}

func parseShapes(set *objects.TileFeatureSet, skipMalformed bool) ([]shape, error) {
	tile := set.Tile
	shapes := make([]shape, 0, len(set.Rows))
	skipped := 0
	for i, row := range set.Rows {
		raw, err := geometry.ParsePolygon(row.Polygon, float64(tile.ImageWidth), float64(tile.ImageHeight), false)
		if err != nil {
			if skipMalformed {
				skipped++
				continue
			}
			return nil, fmt.Errorf("tile %s object %d: %w", tile.Key, i+1, err)
		}

		poly := geometry.Repair(raw)
		if len(poly) == 0 {
			continue
		}
		shapes = append(shapes, shape{
			row:   row,
			poly:  poly,
			bound: poly.Bound(),
			area:  geometry.Area(poly),
		})
	}
	if skipped > 0 {
		log.Printf("Tile %s: skipped %d objects with malformed boundaries", tile.Key, skipped)
	}
	return shapes, nil
}
