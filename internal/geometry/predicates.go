package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-geos"
)

// GEOS rejects linear rings with fewer closed points.
const minClosedRing = 4

var geosContext = geos.NewContext()

// Overlaps is the four-way spatial relevance test: either shape within the
// other, or either intersecting the other. The redundancy tolerates floating
// point ambiguity on shared boundaries.
func Overlaps(a, b orb.Geometry) bool {
	return Within(a, b) || Intersects(a, b) || Within(b, a) || Intersects(b, a)
}

// Intersects reports whether a and b share at least one point. Boundaries
// are part of the shapes, so touching counts.
func Intersects(a, b orb.Geometry) bool {
	pa, pb := polygons(a), polygons(b)
	if isEmpty(pa) || isEmpty(pb) || !pa.Bound().Intersects(pb.Bound()) {
		return false
	}
	ga, gb := toGEOS(pa), toGEOS(pb)
	if ga == nil || gb == nil {
		return false
	}
	return ga.Intersects(gb)
}

// Within reports whether no point of a lies outside b and the two shapes
// share interior area.
func Within(a, b orb.Geometry) bool {
	pa, pb := polygons(a), polygons(b)
	if isEmpty(pa) || isEmpty(pb) || !containsBound(pb.Bound(), pa.Bound()) {
		return false
	}
	ga, gb := toGEOS(pa), toGEOS(pb)
	if ga == nil || gb == nil {
		return false
	}
	return ga.Within(gb)
}

// Area returns the planar area of a polygonal geometry.
func Area(g orb.Geometry) float64 {
	var total float64
	for _, p := range polygons(g) {
		total += planar.Area(p)
	}
	return total
}

// BoxIntersectionArea returns the area of g clipped to the box.
func BoxIntersectionArea(g orb.Geometry, box orb.Bound) float64 {
	mp := polygons(g)
	if isEmpty(mp) || !mp.Bound().Intersects(box) {
		return 0
	}
	return Area(clip.MultiPolygon(box, mp.Clone()))
}

func polygons(g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.MultiPolygon:
		return v
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.Ring:
		return orb.MultiPolygon{{v}}
	case orb.Bound:
		return orb.MultiPolygon{v.ToPolygon()}
	default:
		return nil
	}
}

func isEmpty(mp orb.MultiPolygon) bool {
	for _, p := range mp {
		if len(p) > 0 && len(p[0]) > 0 {
			return false
		}
	}
	return true
}

func containsBound(outer, inner orb.Bound) bool {
	return inner.Min[0] >= outer.Min[0] && inner.Min[1] >= outer.Min[1] &&
		inner.Max[0] <= outer.Max[0] && inner.Max[1] <= outer.Max[1]
}

// toGEOS builds a GEOS polygon or multipolygon. Polygons whose shell is too
// short to form a ring are left out; nil means nothing was left.
func toGEOS(g orb.Geometry) *geos.Geom {
	var polys []*geos.Geom
	for _, p := range polygons(g) {
		if coords := polygonCoords(p); coords != nil {
			polys = append(polys, geosContext.NewPolygon(coords))
		}
	}
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	default:
		return geosContext.NewCollection(geos.TypeIDMultiPolygon, polys)
	}
}

func polygonCoords(p orb.Polygon) [][][]float64 {
	var coords [][][]float64
	for i, r := range p {
		r = closeRing(append(orb.Ring(nil), r...))
		if len(r) < minClosedRing {
			if i == 0 {
				return nil
			}
			continue
		}
		ring := make([][]float64, len(r))
		for j, pt := range r {
			ring[j] = []float64{pt[0], pt[1]}
		}
		coords = append(coords, ring)
	}
	return coords
}

func fromGEOS(g *geos.Geom) orb.MultiPolygon {
	out := orb.MultiPolygon{}
	if g == nil || g.IsEmpty() {
		return out
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		out = append(out, polygonFromGEOS(g))
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		for i := 0; i < g.NumGeometries(); i++ {
			out = append(out, fromGEOS(g.Geometry(i))...)
		}
	}
	return out
}

func polygonFromGEOS(g *geos.Geom) orb.Polygon {
	p := orb.Polygon{orient(ringFromGEOS(g.ExteriorRing()), orb.CCW)}
	for i := 0; i < g.NumInteriorRings(); i++ {
		p = append(p, orient(ringFromGEOS(g.InteriorRing(i)), orb.CW))
	}
	return p
}

func ringFromGEOS(r *geos.Geom) orb.Ring {
	coords := r.CoordSeq().ToCoords()
	ring := make(orb.Ring, len(coords))
	for i, c := range coords {
		ring[i] = orb.Point{c[0], c[1]}
	}
	return ring
}
