package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	pairSeparator = ":"
	minRingPoints = 3
	stripBrackets = "[]"
	quadSegments  = 8
)

// ErrParse reports a boundary encoding that cannot be turned into a polygon.
var ErrParse = errors.New("malformed polygon encoding")

// ParseError describes the token that broke a boundary encoding.
type ParseError struct {
	Raw   string
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("parsing polygon %q: token %q: %v", truncate(e.Raw, 60), e.Token, e.Err)
	}
	return fmt.Sprintf("parsing polygon %q: %v", truncate(e.Raw, 60), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes every ParseError match ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ParsePolygon converts a "[x1:y1:x2:y2:...]" boundary encoding into a polygon.
// Tokens are paired left to right and a trailing odd token is dropped. When
// normalize is set, x is divided by imageWidth and y by imageHeight.
// An empty encoding yields an empty polygon.
func ParsePolygon(raw string, imageWidth, imageHeight float64, normalize bool) (orb.Polygon, error) {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(stripBrackets, r) {
			return -1
		}
		return r
	}, raw)

	tokens := strings.Split(cleaned, pairSeparator)
	pairs := len(tokens) / 2

	ring := make(orb.Ring, 0, pairs+1)
	for i := 0; i+1 < len(tokens); i += 2 {
		x, err := strconv.ParseFloat(strings.TrimSpace(tokens[i]), 64)
		if err != nil {
			return nil, &ParseError{Raw: raw, Token: tokens[i], Err: err}
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(tokens[i+1]), 64)
		if err != nil {
			return nil, &ParseError{Raw: raw, Token: tokens[i+1], Err: err}
		}
		if normalize {
			x /= imageWidth
			y /= imageHeight
		}
		ring = append(ring, orb.Point{x, y})
	}

	if len(ring) == 0 {
		return orb.Polygon{}, nil
	}
	if len(ring) < minRingPoints {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("%d vertices, need at least %d", len(ring), minRingPoints)}
	}
	return orb.Polygon{closeRing(ring)}, nil
}

// RegionFromPoints builds a polygon from an annotation's coordinate list.
func RegionFromPoints(points [][2]float64) (orb.Polygon, error) {
	if len(points) < minRingPoints {
		return nil, &ParseError{Err: fmt.Errorf("region has %d vertices, need at least %d", len(points), minRingPoints)}
	}
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p[0], p[1]})
	}
	return orb.Polygon{closeRing(ring)}, nil
}

// NormalizedBox returns the axis-aligned box of a tile in 0..1 slide space.
func NormalizedBox(minX, minY, width, height, imageWidth, imageHeight float64) orb.Polygon {
	x0, y0 := minX/imageWidth, minY/imageHeight
	x1, y1 := (minX+width)/imageWidth, (minY+height)/imageHeight
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

// Repair cleans a polygon with a zero-width buffer. Duplicate vertices
// vanish, zero-area rings are discarded and a self-intersecting ring keeps
// only the lobes the buffer resolves as interior. Shells come back
// counter-clockwise and holes clockwise.
func Repair(p orb.Polygon) orb.MultiPolygon {
	g := toGEOS(p)
	if g == nil {
		return orb.MultiPolygon{}
	}
	return fromGEOS(g.Buffer(0, quadSegments))
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

func orient(r orb.Ring, want orb.Orientation) orb.Ring {
	if r.Orientation() != want {
		r.Reverse()
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
