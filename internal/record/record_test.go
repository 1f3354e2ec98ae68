package record

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TumorPatch/internal/histology"
	"github.com/TobiSchelling/TumorPatch/internal/objects"
	"github.com/TobiSchelling/TumorPatch/internal/patch"
)

func testBuilder() *Builder {
	return &Builder{Provenance: Provenance{
		RunID:       "run-1",
		CaseID:      "TCGA-01",
		Annotator:   "alice",
		ImageWidth:  1000,
		ImageHeight: 800,
		MPPX:        0.5,
		MPPY:        0.5,
		PatchSize:   10,
	}}
}

func TestDescribe(t *testing.T) {
	mean, std := Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.True(t, mean.Valid)
	require.True(t, std.Valid)
	assert.InDelta(t, 5, mean.Float64, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7), std.Float64, 1e-12)
}

func TestDescribeSingleValue(t *testing.T) {
	mean, std := Describe([]float64{3})
	assert.True(t, mean.Valid)
	assert.Equal(t, 3.0, mean.Float64)
	assert.False(t, std.Valid)
}

func TestDescribeEmpty(t *testing.T) {
	mean, std := Describe(nil)
	assert.False(t, mean.Valid)
	assert.False(t, std.Valid)
}

func TestDescribeSkipsMissing(t *testing.T) {
	mean, std := Describe([]float64{1, math.NaN(), 3})
	assert.InDelta(t, 2, mean.Float64, 1e-12)
	assert.InDelta(t, math.Sqrt2, std.Float64, 1e-12)
}

func TestBuild(t *testing.T) {
	p := patch.Patch{
		Index: 1, Col: 1, Row: 1,
		MinX: 100, MinY: 200, Size: 10,
		TileMinX: 100, TileMinY: 200,
		Objects: []objects.Row{
			{Flatness: 0.2, Perimeter: 10, Elongation: 1},
			{Flatness: 0.4, Perimeter: 20, Elongation: 3},
		},
		OverlapArea: 100,
		NucleusArea: 10,
	}
	pixels := histology.Stats{
		Grayscale:   histology.ChannelStats{Mean: 124, Std: 2, Percentiles: [5]float64{1, 2, 3, 4, 5}},
		Hematoxylin: histology.ChannelStats{Mean: 50, Std: 1, Percentiles: [5]float64{6, 7, 8, 9, 10}},
	}
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	f := testBuilder().Build(p, pixels, now)

	assert.Equal(t, "run-1", f.RunID)
	assert.Equal(t, "alice", f.User)
	assert.Equal(t, TumorFlag, f.TumorFlag)
	assert.Equal(t, 1, f.PatchIndex)
	assert.Equal(t, 100, f.PatchMinX)
	assert.Equal(t, 200, f.TileMinY)
	assert.InDelta(t, 25, f.PatchPolygonArea, 1e-12)
	assert.InDelta(t, 10, f.NucleusArea, 1e-12)
	require.True(t, f.PercentNuclearMaterial.Valid)
	assert.InDelta(t, 40, f.PercentNuclearMaterial.Float64, 1e-12)

	assert.Equal(t, 124.0, f.GrayscalePatchMean)
	assert.Equal(t, 3.0, f.GrayscalePercentile50)
	assert.Equal(t, 10.0, f.HematoxylinPercentile90)

	assert.InDelta(t, 0.3, f.FlatnessMean.Float64, 1e-12)
	assert.InDelta(t, 15, f.PerimeterMean.Float64, 1e-12)
	assert.InDelta(t, math.Sqrt(2), f.ElongationStd.Float64, 1e-12)
	assert.Equal(t, now, f.Datetime)
}

func TestBuildEmptyPatch(t *testing.T) {
	p := patch.Patch{Index: 4, Size: 10}
	f := testBuilder().Build(p, histology.Stats{}, time.Now())

	assert.Zero(t, f.NucleusArea)
	assert.True(t, f.PercentNuclearMaterial.Valid)
	assert.Zero(t, f.PercentNuclearMaterial.Float64)
	assert.False(t, f.FlatnessMean.Valid)
	assert.False(t, f.ElongationStd.Valid)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"flatness_segment_mean":"n/a"`)
	assert.Contains(t, string(data), `"tumorFlag":"tumor"`)
}

func TestBuildPercentUnclamped(t *testing.T) {
	p := patch.Patch{Index: 1, Size: 10, NucleusArea: 50}
	f := testBuilder().Build(p, histology.Stats{}, time.Now())
	assert.InDelta(t, 200, f.PercentNuclearMaterial.Float64, 1e-12)
}

func TestBuildZeroResolution(t *testing.T) {
	b := testBuilder()
	b.Provenance.MPPX = 0
	f := b.Build(patch.Patch{Index: 1, Size: 10, NucleusArea: 1}, histology.Stats{}, time.Now())
	assert.False(t, f.PercentNuclearMaterial.Valid)
}
