package record

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/TobiSchelling/TumorPatch/internal/database"
	"github.com/TobiSchelling/TumorPatch/internal/histology"
	"github.com/TobiSchelling/TumorPatch/internal/objects"
	"github.com/TobiSchelling/TumorPatch/internal/patch"
)

// TumorFlag marks every record as coming from a tumor region.
const TumorFlag = "tumor"

// Measure is a value that may be not applicable.
type Measure = database.Measure

// Provenance is the per-run context stamped on every record.
type Provenance struct {
	RunID       string
	CaseID      string
	Annotator   string
	ImageWidth  int
	ImageHeight int
	MPPX        float64
	MPPY        float64
	PatchSize   int
}

// PatchArea returns the physical area of one patch in square microns.
func (p Provenance) PatchArea() float64 {
	s := float64(p.PatchSize)
	return s * s * p.MPPX * p.MPPY
}

// Builder assembles feature records from geometric and pixel aggregates.
type Builder struct {
	Provenance Provenance
}

// Build returns the feature record of one patch.
func (b *Builder) Build(p patch.Patch, pixels histology.Stats, now time.Time) *database.PatchFeature {
	prov := b.Provenance
	area := prov.PatchArea()

	f := &database.PatchFeature{
		RunID:       prov.RunID,
		CaseID:      prov.CaseID,
		ImageWidth:  prov.ImageWidth,
		ImageHeight: prov.ImageHeight,
		MPPX:        prov.MPPX,
		MPPY:        prov.MPPY,
		User:        prov.Annotator,
		TumorFlag:   TumorFlag,

		PatchIndex: p.Index,
		PatchMinX:  p.MinX,
		PatchMinY:  p.MinY,
		PatchSize:  p.Size,

		PatchPolygonArea:       area,
		NucleusArea:            p.NucleusArea,
		PercentNuclearMaterial: database.NewMeasure(p.NucleusArea / area * 100),

		GrayscalePatchMean:   pixels.Grayscale.Mean,
		GrayscalePatchStd:    pixels.Grayscale.Std,
		HematoxylinPatchMean: pixels.Hematoxylin.Mean,
		HematoxylinPatchStd:  pixels.Hematoxylin.Std,

		TileMinX: p.TileMinX,
		TileMinY: p.TileMinY,
		Datetime: now,
	}

	g, h := pixels.Grayscale.Percentiles, pixels.Hematoxylin.Percentiles
	f.GrayscalePercentile10, f.GrayscalePercentile25, f.GrayscalePercentile50 = g[0], g[1], g[2]
	f.GrayscalePercentile75, f.GrayscalePercentile90 = g[3], g[4]
	f.HematoxylinPercentile10, f.HematoxylinPercentile25, f.HematoxylinPercentile50 = h[0], h[1], h[2]
	f.HematoxylinPercentile75, f.HematoxylinPercentile90 = h[3], h[4]

	rows := p.Objects
	f.FlatnessMean, f.FlatnessStd = Describe(column(rows, func(r objects.Row) float64 { return r.Flatness }))
	f.PerimeterMean, f.PerimeterStd = Describe(column(rows, func(r objects.Row) float64 { return r.Perimeter }))
	f.CircularityMean, f.CircularityStd = Describe(column(rows, func(r objects.Row) float64 { return r.Circularity }))
	f.RGradientMeanMean, f.RGradientMeanStd = Describe(column(rows, func(r objects.Row) float64 { return r.RGradientMean }))
	f.BGradientMeanMean, f.BGradientMeanStd = Describe(column(rows, func(r objects.Row) float64 { return r.BGradientMean }))
	f.RCytoIntensityMeanMean, f.RCytoIntensityMeanStd = Describe(column(rows, func(r objects.Row) float64 { return r.RCytoIntensityMean }))
	f.BCytoIntensityMeanMean, f.BCytoIntensityMeanStd = Describe(column(rows, func(r objects.Row) float64 { return r.BCytoIntensityMean }))
	f.ElongationMean, f.ElongationStd = Describe(column(rows, func(r objects.Row) float64 { return r.Elongation }))

	return f
}

// Describe returns the mean and sample standard deviation of the values,
// ignoring missing (NaN) entries. The mean needs one value and the standard
// deviation two; otherwise the measure is not applicable.
func Describe(values []float64) (mean, std Measure) {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) >= 1 {
		mean = database.NewMeasure(stat.Mean(present, nil))
	}
	if len(present) >= 2 {
		std = database.NewMeasure(stat.StdDev(present, nil))
	}
	return mean, std
}

func column(rows []objects.Row, get func(objects.Row) float64) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = get(r)
	}
	return out
}
