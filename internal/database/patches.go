package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var featureColumns = []string{
	"run_id", "case_id", "image_width", "image_height", "mpp_x", "mpp_y", "user", "tumor_flag",
	"patch_index", "patch_min_x_pixel", "patch_min_y_pixel", "patch_size",
	"patch_polygon_area", "nucleus_area", "percent_nuclear_material",
	"grayscale_patch_mean", "grayscale_patch_std", "hematoxylin_patch_mean", "hematoxylin_patch_std",
	"grayscale_patch_percentile_10", "grayscale_patch_percentile_25", "grayscale_patch_percentile_50",
	"grayscale_patch_percentile_75", "grayscale_patch_percentile_90",
	"hematoxylin_patch_percentile_10", "hematoxylin_patch_percentile_25", "hematoxylin_patch_percentile_50",
	"hematoxylin_patch_percentile_75", "hematoxylin_patch_percentile_90",
	"flatness_segment_mean", "flatness_segment_std",
	"perimeter_segment_mean", "perimeter_segment_std",
	"circularity_segment_mean", "circularity_segment_std",
	"r_gradient_mean_segment_mean", "r_gradient_mean_segment_std",
	"b_gradient_mean_segment_mean", "b_gradient_mean_segment_std",
	"r_cyto_intensity_mean_segment_mean", "r_cyto_intensity_mean_segment_std",
	"b_cyto_intensity_mean_segment_mean", "b_cyto_intensity_mean_segment_std",
	"elongation_segment_mean", "elongation_segment_std",
	"tile_minx", "tile_miny", "datetime",
}

var (
	insertFeatureSQL = fmt.Sprintf(
		"INSERT INTO patch_features (%s) VALUES (%s)",
		strings.Join(featureColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(featureColumns)), ", "),
	)
	selectFeatureSQL = fmt.Sprintf(
		"SELECT id, %s FROM patch_features",
		strings.Join(featureColumns, ", "),
	)
)

// fields returns pointers to the record fields in featureColumns order.
func (f *PatchFeature) fields() []any {
	return []any{
		&f.RunID, &f.CaseID, &f.ImageWidth, &f.ImageHeight, &f.MPPX, &f.MPPY, &f.User, &f.TumorFlag,
		&f.PatchIndex, &f.PatchMinX, &f.PatchMinY, &f.PatchSize,
		&f.PatchPolygonArea, &f.NucleusArea, &f.PercentNuclearMaterial,
		&f.GrayscalePatchMean, &f.GrayscalePatchStd, &f.HematoxylinPatchMean, &f.HematoxylinPatchStd,
		&f.GrayscalePercentile10, &f.GrayscalePercentile25, &f.GrayscalePercentile50,
		&f.GrayscalePercentile75, &f.GrayscalePercentile90,
		&f.HematoxylinPercentile10, &f.HematoxylinPercentile25, &f.HematoxylinPercentile50,
		&f.HematoxylinPercentile75, &f.HematoxylinPercentile90,
		&f.FlatnessMean, &f.FlatnessStd,
		&f.PerimeterMean, &f.PerimeterStd,
		&f.CircularityMean, &f.CircularityStd,
		&f.RGradientMeanMean, &f.RGradientMeanStd,
		&f.BGradientMeanMean, &f.BGradientMeanStd,
		&f.RCytoIntensityMeanMean, &f.RCytoIntensityMeanStd,
		&f.BCytoIntensityMeanMean, &f.BCytoIntensityMeanStd,
		&f.ElongationMean, &f.ElongationStd,
		&f.TileMinX, &f.TileMinY, &f.Datetime,
	}
}

// values returns the insert arguments in featureColumns order.
func (f *PatchFeature) values() []any {
	ptrs := f.fields()
	vals := make([]any, len(ptrs))
	for i, p := range ptrs {
		switch v := p.(type) {
		case *string:
			vals[i] = *v
		case *int:
			vals[i] = *v
		case *float64:
			vals[i] = *v
		case *Measure:
			vals[i] = *v
		case *time.Time:
			vals[i] = v.UTC().Format(time.RFC3339Nano)
		}
	}
	return vals
}

// InsertPatchFeature writes exactly one feature record.
func (db *DB) InsertPatchFeature(ctx context.Context, f *PatchFeature) error {
	result, err := db.conn.ExecContext(ctx, insertFeatureSQL, f.values()...)
	if err != nil {
		return fmt.Errorf("%w: patch %d of tile x%d_y%d: %v", ErrWrite, f.PatchIndex, f.TileMinX, f.TileMinY, err)
	}
	f.ID, _ = result.LastInsertId()
	return nil
}

// GetPatchFeatures returns the records of a run ordered by tile and patch index.
func (db *DB) GetPatchFeatures(runID string) ([]PatchFeature, error) {
	rows, err := db.conn.Query(
		selectFeatureSQL+" WHERE run_id = ? ORDER BY tile_minx, tile_miny, patch_index", runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeatures(rows)
}

// CountPatchFeatures returns the number of records written by a run.
func (db *DB) CountPatchFeatures(runID string) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM patch_features WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

func scanFeatures(rows *sql.Rows) ([]PatchFeature, error) {
	var features []PatchFeature
	for rows.Next() {
		var f PatchFeature
		var datetime string
		dest := append([]any{&f.ID}, f.fields()...)
		dest[len(dest)-1] = &datetime
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, datetime)
		if err != nil {
			return nil, fmt.Errorf("parsing datetime of record %d: %w", f.ID, err)
		}
		f.Datetime = t
		features = append(features, f)
	}
	return features, rows.Err()
}
