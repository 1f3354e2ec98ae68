package annotation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"provenance": {"image": {"case_id": "CASE-1"}, "analysis": {"execution_id": "alice_Tumor_Region"}}},
      "geometry": {"type": "Polygon", "coordinates": [[[0.1, 0.1], [0.4, 0.1], [0.4, 0.4], [0.1, 0.4], [0.1, 0.1]]]}
    },
    {
      "type": "Feature",
      "properties": {"provenance": {"image": {"case_id": "CASE-1"}, "analysis": {"execution_id": "alice_Tumor_Region"}}},
      "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[0.5, 0.5], [0.6, 0.5], [0.6, 0.6], [0.5, 0.5]]],
        [[[0.7, 0.7], [0.8, 0.7], [0.8, 0.8], [0.7, 0.7]]]
      ]}
    },
    {
      "type": "Feature",
      "properties": {"provenance": {"image": {"case_id": "CASE-1"}, "analysis": {"execution_id": "bob_Tumor_Region"}}},
      "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}
    },
    {
      "type": "Feature",
      "properties": {"provenance": {"image": {"case_id": "CASE-2"}, "analysis": {"execution_id": "alice_Tumor_Region"}}},
      "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}
    }
  ]
}`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annotations.geojson")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	return path
}

func TestExecutionID(t *testing.T) {
	assert.Equal(t, "alice_Tumor_Region", ExecutionID("alice"))
}

func TestTumorRegionsFiltersByCaseAndAnnotator(t *testing.T) {
	src := NewGeoJSONFile(writeFixture(t))

	regions, err := src.TumorRegions(context.Background(), "CASE-1", ExecutionID("alice"))
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, [2]float64{0.1, 0.1}, regions[0][0])
	assert.Len(t, regions[0], 5)
	assert.Equal(t, [2]float64{0.7, 0.7}, regions[2][0])
}

func TestTumorRegionsEmpty(t *testing.T) {
	src := NewGeoJSONFile(writeFixture(t))
	_, err := src.TumorRegions(context.Background(), "CASE-3", ExecutionID("alice"))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestTumorRegionsUnreachable(t *testing.T) {
	src := NewGeoJSONFile(filepath.Join(t.TempDir(), "missing.geojson"))
	_, err := src.TumorRegions(context.Background(), "CASE-1", ExecutionID("alice"))
	assert.ErrorIs(t, err, ErrUnreachable)
}
