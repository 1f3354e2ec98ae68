package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/TumorPatch/internal/annotation"
	"github.com/TobiSchelling/TumorPatch/internal/config"
	"github.com/TobiSchelling/TumorPatch/internal/database"
	"github.com/TobiSchelling/TumorPatch/internal/geometry"
)

const caseID = "CASE-1"

const annotations = `{"type": "FeatureCollection", "features": [{
  "type": "Feature",
  "properties": {"provenance": {"image": {"case_id": "CASE-1"}, "analysis": {"execution_id": "alice_Tumor_Region"}}},
  "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [0.4, 0], [0.4, 0.4], [0, 0.4], [0, 0]]]}
}]}`

const tableHeader = "Perimeter,Flatness,Circularity,r_GradientMean,b_GradientMean,b_cytoIntensityMean," +
	"r_cytoIntensityMean,r_IntensityMean,r_cytoGradientMean,Elongation,Polygon\n"

type fixture struct {
	root string
	cfg  *config.Config
	db   *database.DB
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeTile(t *testing.T, path string, minX, minY int) {
	t.Helper()
	writeFile(t, path, fmt.Sprintf(`{"image_width": 40, "image_height": 40, "tile_width": 20, "tile_height": 20,
		"tile_minx": %d, "tile_miny": %d, "out_file_prefix": "%s"}`, minX, minY, caseID))
}

// newFixture lays out a 40x40 slide with three tiles (one listed twice), a
// tumor region covering the first tile and one object in its top-left patch.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	slideDir := filepath.Join(root, "work", caseID)

	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 120, B: 180, A: 255})
		}
	}
	if err := os.MkdirAll(slideDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(filepath.Join(slideDir, caseID+".png"))
	if err != nil {
		t.Fatalf("create slide: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode slide: %v", err)
	}
	f.Close()

	writeTile(t, filepath.Join(slideDir, "a", "tile-x0_y0.json"), 0, 0)
	writeTile(t, filepath.Join(slideDir, "a", "tile-x20_y0.json"), 20, 0)
	writeTile(t, filepath.Join(slideDir, "a", "tile-x20_y20.json"), 20, 20)
	writeTile(t, filepath.Join(slideDir, "b", "tile-x0_y0.json"), 0, 0)

	writeFile(t, filepath.Join(slideDir, "a", "CASE-1-x0_y0-features.csv"),
		tableHeader+"40,0.2,0.9,1,2,3,4,5,6,1.5,[0:0:10:0:10:10:0:10]\n")
	writeFile(t, filepath.Join(slideDir, "a", "CASE-1-x20_y0-features.csv"), tableHeader)

	annPath := filepath.Join(root, "annotations.geojson")
	writeFile(t, annPath, annotations)

	cfg := config.Default()
	cfg.Run = config.Run{CaseID: caseID, Annotator: "alice", PatchSize: 10}
	cfg.Data = config.Data{WorkDir: filepath.Join(root, "work"), SlideExtension: ".png"}
	cfg.Slide = config.Slide{MPPX: 0.5, MPPY: 0.5}
	cfg.Annotations.Path = annPath
	cfg.Output.Database = filepath.Join(root, "features.db")
	cfg.Processing.Workers = 2

	db, err := database.Open(cfg.Output.Database)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &fixture{root: root, cfg: cfg, db: db}
}

func stageOf(t *testing.T, err error) string {
	t.Helper()
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StageError, got %T: %v", err, err)
	}
	return se.Stage
}

func TestRunEndToEnd(t *testing.T) {
	fx := newFixture(t)

	result, err := New(fx.cfg, fx.db).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := result.Counts
	if c.TilesScanned != 4 || c.Duplicates != 1 || c.TilesSelected != 1 || c.TilesJoined != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
	if c.PatchesWritten != 4 {
		t.Fatalf("expected 4 patches written, got %d", c.PatchesWritten)
	}

	features, err := fx.db.GetPatchFeatures(result.RunID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(features) != 4 {
		t.Fatalf("expected 4 records, got %d", len(features))
	}

	first := features[0]
	if first.PatchIndex != 1 || first.PatchMinX != 0 || first.PatchMinY != 0 {
		t.Errorf("unexpected first patch %d at (%d,%d)", first.PatchIndex, first.PatchMinX, first.PatchMinY)
	}
	if first.NucleusArea != 10 {
		t.Errorf("expected nucleus area 10, got %v", first.NucleusArea)
	}
	if first.PatchPolygonArea != 25 {
		t.Errorf("expected patch area 25, got %v", first.PatchPolygonArea)
	}
	if !first.PercentNuclearMaterial.Valid || first.PercentNuclearMaterial.Float64 != 40 {
		t.Errorf("expected 40%% nuclear material, got %v", first.PercentNuclearMaterial)
	}
	if !first.FlatnessMean.Valid || first.FlatnessMean.Float64 != 0.2 {
		t.Errorf("expected flatness mean 0.2, got %v", first.FlatnessMean)
	}
	if first.FlatnessStd.Valid {
		t.Error("expected flatness std n/a for a single object")
	}
	if first.ImageWidth != 40 || first.User != "alice" || first.TumorFlag != "tumor" {
		t.Errorf("unexpected provenance %+v", first)
	}

	for _, f := range features[1:] {
		if f.NucleusArea != 0 {
			t.Errorf("patch %d: expected nucleus area 0, got %v", f.PatchIndex, f.NucleusArea)
		}
	}
	if features[3].PatchMinX != 10 || features[3].PatchMinY != 10 {
		t.Errorf("expected last patch at (10,10), got (%d,%d)", features[3].PatchMinX, features[3].PatchMinY)
	}

	run, err := fx.db.GetRun(result.RunID)
	if err != nil || run == nil {
		t.Fatalf("expected run row: %v", err)
	}
	if run.Status != database.StatusCompleted || run.PatchesWritten != 4 {
		t.Errorf("unexpected run row %+v", run)
	}
	if run.ReportMarkdown == nil || !strings.Contains(*run.ReportMarkdown, "x0_y0") {
		t.Error("expected stored report to mention the tile")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	fx := newFixture(t)

	result, err := New(fx.cfg, fx.db).DryRun(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := result.Steps[len(result.Steps)-1]
	if !strings.Contains(last.Summary, "Would write 4 patch records") {
		t.Errorf("unexpected dry-run summary %q", last.Summary)
	}

	stats, err := fx.db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Runs != 0 || stats.PatchFeatures != 0 {
		t.Errorf("expected no writes, got %+v", stats)
	}
}

func TestRunMissingParameter(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Run.Annotator = ""

	_, err := New(fx.cfg, fx.db).Run(context.Background())
	if stageOf(t, err) != StageValidate {
		t.Errorf("expected validate stage, got %v", err)
	}
	if !errors.Is(err, config.ErrMissingParameter) {
		t.Errorf("expected ErrMissingParameter, got %v", err)
	}
}

func TestRunNoAnnotations(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Run.Annotator = "bob"

	result, err := New(fx.cfg, fx.db).Run(context.Background())
	if stageOf(t, err) != StageAnnotations {
		t.Errorf("expected annotations stage, got %v", err)
	}
	if !errors.Is(err, annotation.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}

	run, _ := fx.db.GetRun(result.RunID)
	if run == nil || run.Status != database.StatusFailed || run.Error == nil {
		t.Errorf("expected failed run row, got %+v", run)
	}
}

func TestRunMalformedObject(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, filepath.Join(fx.cfg.SlideDir(), "b", "CASE-1-x0_y0-extra.csv"),
		tableHeader+"1,1,1,1,1,1,1,1,1,1,[1:2:abc:4:5:6]\n")

	_, err := New(fx.cfg, fx.db).Run(context.Background())
	if stageOf(t, err) != StageDecompose {
		t.Errorf("expected decompose stage, got %v", err)
	}
	if !errors.Is(err, geometry.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}

	fx.cfg.Processing.SkipMalformedObjects = true
	result, err := New(fx.cfg, fx.db).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error with skipping enabled: %v", err)
	}
	if result.Counts.PatchesWritten != 4 {
		t.Errorf("expected 4 patches, got %d", result.Counts.PatchesWritten)
	}
}

func TestRunMissingSlide(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Data.SlideExtension = ".tif"

	_, err := New(fx.cfg, fx.db).Run(context.Background())
	if stageOf(t, err) != StageSlide {
		t.Errorf("expected slide stage, got %v", err)
	}
}

type staticSource struct {
	regions [][][2]float64
}

func (s staticSource) TumorRegions(context.Context, string, string) ([][][2]float64, error) {
	return s.regions, nil
}

func TestRunNoSelectedTiles(t *testing.T) {
	fx := newFixture(t)
	// The region lies where no tile was generated.
	far := staticSource{regions: [][][2]float64{{{0.05, 0.9}, {0.1, 0.9}, {0.1, 0.95}, {0.05, 0.95}}}}

	result, err := New(fx.cfg, fx.db).WithSource(far).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Counts.TilesSelected != 0 || result.Counts.PatchesWritten != 0 {
		t.Errorf("expected nothing selected, got %+v", result.Counts)
	}
}
