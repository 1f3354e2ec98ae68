package annotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	// ErrUnreachable reports that the annotation store could not be read.
	ErrUnreachable = errors.New("annotation store unreachable")
	// ErrEmpty reports that no tumor regions exist for the case and annotator.
	ErrEmpty = errors.New("no tumor annotations found")
)

// Source returns the tumor-region coordinate lists of a case.
type Source interface {
	TumorRegions(ctx context.Context, caseID, executionID string) ([][][2]float64, error)
}

// ExecutionID returns the execution identity under which an annotator's
// tumor regions are stored.
func ExecutionID(annotator string) string {
	return annotator + "_Tumor_Region"
}

// GeoJSONFile reads annotations from a FeatureCollection whose features carry
// provenance.image.case_id and provenance.analysis.execution_id properties.
type GeoJSONFile struct {
	Path string
}

// NewGeoJSONFile creates a file-backed annotation source.
func NewGeoJSONFile(path string) *GeoJSONFile {
	return &GeoJSONFile{Path: path}
}

// TumorRegions returns the outer ring of every matching polygon feature.
func (g *GeoJSONFile) TumorRegions(ctx context.Context, caseID, executionID string) ([][][2]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(g.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing annotations %s: %w", g.Path, err)
	}

	var regions [][][2]float64
	for _, f := range fc.Features {
		if nested(f.Properties, "provenance", "image", "case_id") != caseID ||
			nested(f.Properties, "provenance", "analysis", "execution_id") != executionID {
			continue
		}
		switch geom := f.Geometry.(type) {
		case orb.Polygon:
			regions = appendRing(regions, geom)
		case orb.MultiPolygon:
			for _, p := range geom {
				regions = appendRing(regions, p)
			}
		}
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("%w for case %s by %s", ErrEmpty, caseID, executionID)
	}
	log.Printf("Tumor markup count: %d", len(regions))
	return regions, nil
}

func appendRing(regions [][][2]float64, p orb.Polygon) [][][2]float64 {
	if len(p) == 0 {
		return regions
	}
	pts := make([][2]float64, len(p[0]))
	for i, pt := range p[0] {
		pts[i] = [2]float64{pt[0], pt[1]}
	}
	return append(regions, pts)
}

func nested(props geojson.Properties, path ...string) string {
	var cur any = map[string]any(props)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}
