package tiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DataFiles lists the per-tile inputs found under a slide directory.
type DataFiles struct {
	Metadata []string
	Tables   []string
}

// Discover scans the immediate sub-directories of slideDir for tile metadata
// (*json) and object tables (*csv). Both lists are sorted lexicographically.
func Discover(slideDir string) (*DataFiles, error) {
	root, err := filepath.Abs(slideDir)
	if err != nil {
		return nil, fmt.Errorf("resolving slide directory: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading slide directory: %w", err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(folders)

	files := &DataFiles{}
	for _, folder := range folders {
		names, err := os.ReadDir(folder)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", folder, err)
		}
		for _, n := range names {
			if n.IsDir() {
				continue
			}
			path := filepath.Join(folder, n.Name())
			switch {
			case strings.HasSuffix(n.Name(), "json"):
				files.Metadata = append(files.Metadata, path)
			case strings.HasSuffix(n.Name(), "csv"):
				files.Tables = append(files.Tables, path)
			}
		}
	}

	sort.Strings(files.Metadata)
	sort.Strings(files.Tables)
	return files, nil
}
