package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// NotApplicable is the rendering of a measure that has no value.
const NotApplicable = "n/a"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Measure is a float that may be not applicable. It is stored as NULL and
// rendered as "n/a" in JSON.
type Measure struct {
	Float64 float64
	Valid   bool
}

// NewMeasure returns a valid measure unless v is NaN or infinite.
func NewMeasure(v float64) Measure {
	return Measure{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

// Value implements driver.Valuer.
func (m Measure) Value() (driver.Value, error) {
	if !m.Valid {
		return nil, nil
	}
	return m.Float64, nil
}

// Scan implements sql.Scanner.
func (m *Measure) Scan(src any) error {
	var n sql.NullFloat64
	if err := n.Scan(src); err != nil {
		return err
	}
	*m = Measure{Float64: n.Float64, Valid: n.Valid}
	return nil
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return json.Marshal(NotApplicable)
	}
	return json.Marshal(m.Float64)
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != NotApplicable {
			return fmt.Errorf("invalid measure %q", s)
		}
		*m = Measure{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = NewMeasure(v)
	return nil
}

func (m Measure) String() string {
	if !m.Valid {
		return NotApplicable
	}
	return strconv.FormatFloat(m.Float64, 'f', 4, 64)
}

// PatchFeature is one persisted feature record for a tumor patch.
type PatchFeature struct {
	ID          int64   `json:"-"`
	RunID       string  `json:"run_id"`
	CaseID      string  `json:"case_id"`
	ImageWidth  int     `json:"image_width"`
	ImageHeight int     `json:"image_height"`
	MPPX        float64 `json:"mpp_x"`
	MPPY        float64 `json:"mpp_y"`
	User        string  `json:"user"`
	TumorFlag   string  `json:"tumorFlag"`

	PatchIndex int `json:"patch_index"`
	PatchMinX  int `json:"patch_min_x_pixel"`
	PatchMinY  int `json:"patch_min_y_pixel"`
	PatchSize  int `json:"patch_size"`

	PatchPolygonArea       float64 `json:"patch_polygon_area"`
	NucleusArea            float64 `json:"nucleus_area"`
	PercentNuclearMaterial Measure `json:"percent_nuclear_material"`

	GrayscalePatchMean   float64 `json:"grayscale_patch_mean"`
	GrayscalePatchStd    float64 `json:"grayscale_patch_std"`
	HematoxylinPatchMean float64 `json:"hematoxylin_patch_mean"`
	HematoxylinPatchStd  float64 `json:"hematoxylin_patch_std"`

	GrayscalePercentile10   float64 `json:"grayscale_patch_percentile_10"`
	GrayscalePercentile25   float64 `json:"grayscale_patch_percentile_25"`
	GrayscalePercentile50   float64 `json:"grayscale_patch_percentile_50"`
	GrayscalePercentile75   float64 `json:"grayscale_patch_percentile_75"`
	GrayscalePercentile90   float64 `json:"grayscale_patch_percentile_90"`
	HematoxylinPercentile10 float64 `json:"hematoxylin_patch_percentile_10"`
	HematoxylinPercentile25 float64 `json:"hematoxylin_patch_percentile_25"`
	HematoxylinPercentile50 float64 `json:"hematoxylin_patch_percentile_50"`
	HematoxylinPercentile75 float64 `json:"hematoxylin_patch_percentile_75"`
	HematoxylinPercentile90 float64 `json:"hematoxylin_patch_percentile_90"`

	FlatnessMean           Measure `json:"flatness_segment_mean"`
	FlatnessStd            Measure `json:"flatness_segment_std"`
	PerimeterMean          Measure `json:"perimeter_segment_mean"`
	PerimeterStd           Measure `json:"perimeter_segment_std"`
	CircularityMean        Measure `json:"circularity_segment_mean"`
	CircularityStd         Measure `json:"circularity_segment_std"`
	RGradientMeanMean      Measure `json:"r_GradientMean_segment_mean"`
	RGradientMeanStd       Measure `json:"r_GradientMean_segment_std"`
	BGradientMeanMean      Measure `json:"b_GradientMean_segment_mean"`
	BGradientMeanStd       Measure `json:"b_GradientMean_segment_std"`
	RCytoIntensityMeanMean Measure `json:"r_cytoIntensityMean_segment_mean"`
	RCytoIntensityMeanStd  Measure `json:"r_cytoIntensityMean_segment_std"`
	BCytoIntensityMeanMean Measure `json:"b_cytoIntensityMean_segment_mean"`
	BCytoIntensityMeanStd  Measure `json:"b_cytoIntensityMean_segment_std"`
	ElongationMean         Measure `json:"elongation_segment_mean"`
	ElongationStd          Measure `json:"elongation_segment_std"`

	TileMinX int       `json:"tile_minx"`
	TileMinY int       `json:"tile_miny"`
	Datetime time.Time `json:"datetime"`
}

// Run is one execution of the pipeline for a case.
type Run struct {
	ID             string
	CaseID         string
	Annotator      string
	PatchSize      int
	Status         string
	StartedAt      string
	FinishedAt     *string
	TilesScanned   int
	Duplicates     int
	TilesSelected  int
	TilesJoined    int
	PatchesWritten int
	Error          *string
	ReportMarkdown *string
}

// RunCounts are the counters recorded when a run finishes.
type RunCounts struct {
	TilesScanned   int
	Duplicates     int
	TilesSelected  int
	TilesJoined    int
	PatchesWritten int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Runs          int
	CompletedRuns int
	FailedRuns    int
	Cases         int
	PatchFeatures int
}
