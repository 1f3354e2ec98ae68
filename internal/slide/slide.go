package slide

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"github.com/TobiSchelling/TumorPatch/internal/histology"
)

// ErrClosed is returned by reads on a closed slide.
var ErrClosed = errors.New("slide is closed")

// Slide is a single-resolution slide image held in memory. Region reads are
// serialized so the type can be shared by concurrent workers.
type Slide struct {
	mu     sync.Mutex
	path   string
	img    image.Image
	width  int
	height int
	mppX   float64
	mppY   float64
}

// Path returns the slide file for a case inside the slide directory.
func Path(slideDir, caseID, extension string) string {
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return filepath.Join(slideDir, caseID+extension)
}

// Open decodes the slide at path. Flat image formats carry no physical
// resolution, so microns per pixel are supplied by the caller.
func Open(path string, mppX, mppY float64) (*Slide, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Slide{
		path:   path,
		img:    img,
		width:  b.Dx(),
		height: b.Dy(),
		mppX:   roundMPP(mppX),
		mppY:   roundMPP(mppY),
	}, nil
}

func decode(path string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening slide: %w", err)
		}
		defer f.Close()
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decoding slide %s: %w", path, err)
		}
		return img, nil
	default:
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening slide %s: %w", path, err)
		}
		return img, nil
	}
}

// Dimensions returns the base-resolution width and height in pixels.
func (s *Slide) Dimensions() (width, height int) {
	return s.width, s.height
}

// MPP returns microns per pixel along x and y, rounded to 4 decimals.
func (s *Slide) MPP() (x, y float64) {
	return s.mppX, s.mppY
}

// ReadRegion returns a copy of the requested rectangle. Rectangles reaching
// outside the slide are an error.
func (s *Slide) ReadRegion(ctx context.Context, x, y, width, height int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return nil, &histology.ReadError{X: x, Y: y, Width: width, Height: height, Err: ErrClosed}
	}

	rect := image.Rect(x, y, x+width, y+height).Add(s.img.Bounds().Min)
	if width <= 0 || height <= 0 || !rect.In(s.img.Bounds()) {
		return nil, &histology.ReadError{X: x, Y: y, Width: width, Height: height,
			Err: fmt.Errorf("outside slide bounds %dx%d", s.width, s.height)}
	}
	return imaging.Crop(s.img, rect), nil
}

// Close releases the decoded image.
func (s *Slide) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
	return nil
}

func roundMPP(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
