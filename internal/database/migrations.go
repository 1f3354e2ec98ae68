package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "patch feature records",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS patch_features (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    case_id TEXT NOT NULL,
    image_width INTEGER NOT NULL,
    image_height INTEGER NOT NULL,
    mpp_x REAL NOT NULL,
    mpp_y REAL NOT NULL,
    user TEXT NOT NULL,
    tumor_flag TEXT NOT NULL DEFAULT 'tumor',
    patch_index INTEGER NOT NULL,
    patch_min_x_pixel INTEGER NOT NULL,
    patch_min_y_pixel INTEGER NOT NULL,
    patch_size INTEGER NOT NULL,
    patch_polygon_area REAL NOT NULL,
    nucleus_area REAL NOT NULL,
    percent_nuclear_material REAL,
    grayscale_patch_mean REAL NOT NULL,
    grayscale_patch_std REAL NOT NULL,
    hematoxylin_patch_mean REAL NOT NULL,
    hematoxylin_patch_std REAL NOT NULL,
    grayscale_patch_percentile_10 REAL NOT NULL,
    grayscale_patch_percentile_25 REAL NOT NULL,
    grayscale_patch_percentile_50 REAL NOT NULL,
    grayscale_patch_percentile_75 REAL NOT NULL,
    grayscale_patch_percentile_90 REAL NOT NULL,
    hematoxylin_patch_percentile_10 REAL NOT NULL,
    hematoxylin_patch_percentile_25 REAL NOT NULL,
    hematoxylin_patch_percentile_50 REAL NOT NULL,
    hematoxylin_patch_percentile_75 REAL NOT NULL,
    hematoxylin_patch_percentile_90 REAL NOT NULL,
    flatness_segment_mean REAL,
    flatness_segment_std REAL,
    perimeter_segment_mean REAL,
    perimeter_segment_std REAL,
    circularity_segment_mean REAL,
    circularity_segment_std REAL,
    r_gradient_mean_segment_mean REAL,
    r_gradient_mean_segment_std REAL,
    b_gradient_mean_segment_mean REAL,
    b_gradient_mean_segment_std REAL,
    r_cyto_intensity_mean_segment_mean REAL,
    r_cyto_intensity_mean_segment_std REAL,
    b_cyto_intensity_mean_segment_mean REAL,
    b_cyto_intensity_mean_segment_std REAL,
    elongation_segment_mean REAL,
    elongation_segment_std REAL,
    tile_minx INTEGER NOT NULL,
    tile_miny INTEGER NOT NULL,
    datetime TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patch_features_case ON patch_features(case_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run tracking",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    annotator TEXT NOT NULL,
    patch_size INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
    started_at TEXT NOT NULL,
    finished_at TEXT,
    tiles_scanned INTEGER DEFAULT 0,
    duplicates INTEGER DEFAULT 0,
    tiles_selected INTEGER DEFAULT 0,
    tiles_joined INTEGER DEFAULT 0,
    patches_written INTEGER DEFAULT 0,
    error TEXT,
    report_markdown TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_case ON runs(case_id);
`); err != nil {
				return err
			}

			// Column may already exist when the migration re-runs.
			if !hasColumn(tx, "patch_features", "run_id") {
				if _, err := tx.Exec("ALTER TABLE patch_features ADD COLUMN run_id TEXT REFERENCES runs(id)"); err != nil {
					return err
				}
			}

			_, err := tx.Exec(`
CREATE UNIQUE INDEX IF NOT EXISTS idx_patch_features_run_tile_patch
    ON patch_features(run_id, tile_minx, tile_miny, patch_index);
`)
			return err
		},
	},
}

// hasColumn reports whether table has the named column.
func hasColumn(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil && name == column {
			return true
		}
	}
	return false
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
