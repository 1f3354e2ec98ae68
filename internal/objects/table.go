package objects

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Columns are the object-table columns projected into each Row, in order.
var Columns = []string{
	"Perimeter", "Flatness", "Circularity", "r_GradientMean", "b_GradientMean",
	"b_cytoIntensityMean", "r_cytoIntensityMean", "r_IntensityMean", "r_cytoGradientMean",
	"Elongation", "Polygon",
}

// Row is one detected object (nucleus) of a tile.
type Row struct {
	Perimeter          float64
	Flatness           float64
	Circularity        float64
	RGradientMean      float64
	BGradientMean      float64
	BCytoIntensityMean float64
	RCytoIntensityMean float64
	RIntensityMean     float64
	RCytoGradientMean  float64
	Elongation         float64
	// Polygon is the boundary encoding, e.g. "[x1:y1:x2:y2:...]".
	Polygon string
}

func (r *Row) numeric() []*float64 {
	return []*float64{
		&r.Perimeter, &r.Flatness, &r.Circularity, &r.RGradientMean, &r.BGradientMean,
		&r.BCytoIntensityMean, &r.RCytoIntensityMean, &r.RIntensityMean, &r.RCytoGradientMean,
		&r.Elongation,
	}
}

// LoadTable reads an object table and projects it to Columns. An empty file
// or a header-only file yields no rows and no error.
func LoadTable(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening object table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	positions := make([]int, len(Columns))
	for i, col := range Columns {
		pos, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("object table %s: missing column %q", path, col)
		}
		positions[i] = pos
	}
	polygonPos := positions[len(positions)-1]

	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", path, line, err)
		}

		var row Row
		for i, dst := range row.numeric() {
			v, err := parseCell(rec, positions[i])
			if err != nil {
				return nil, fmt.Errorf("object table %s line %d column %s: %w", path, line, Columns[i], err)
			}
			*dst = v
		}
		if polygonPos < len(rec) {
			row.Polygon = rec[polygonPos]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseCell converts a numeric cell. Blank cells become NaN and are skipped
// by the descriptor statistics.
func parseCell(rec []string, pos int) (float64, error) {
	if pos >= len(rec) {
		return math.NaN(), nil
	}
	s := strings.TrimSpace(rec[pos])
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
