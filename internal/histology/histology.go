package histology

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrRead reports a failed slide region read.
var ErrRead = errors.New("slide region read failed")

// ReadError carries the rectangle whose read failed.
type ReadError struct {
	X, Y, Width, Height int
	Err                 error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading region (%d,%d) %dx%d: %v", e.X, e.Y, e.Width, e.Height, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Is makes every ReadError match ErrRead.
func (e *ReadError) Is(target error) bool { return target == ErrRead }

// Reader reads base-resolution pixel regions from a slide.
type Reader interface {
	ReadRegion(ctx context.Context, x, y, width, height int) (*image.NRGBA, error)
}

// PercentileLevels are the auxiliary percentiles reported per channel.
var PercentileLevels = [5]float64{10, 25, 50, 75, 90}

// ChannelStats summarizes one intensity channel of a patch.
type ChannelStats struct {
	Mean        float64
	Std         float64
	Percentiles [5]float64
}

// Stats holds the pixel-derived features of a patch.
type Stats struct {
	Grayscale   ChannelStats
	Hematoxylin ChannelStats
}

// Extract reads one size×size region at (x, y) and computes its statistics.
func Extract(ctx context.Context, r Reader, x, y, size int) (Stats, error) {
	img, err := r.ReadRegion(ctx, x, y, size, size)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			return Stats{}, err
		}
		return Stats{}, &ReadError{X: x, Y: y, Width: size, Height: size, Err: err}
	}
	if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
		return Stats{}, &ReadError{X: x, Y: y, Width: size, Height: size,
			Err: fmt.Errorf("got %dx%d pixels", b.Dx(), b.Dy())}
	}
	return Compute(img), nil
}

// Compute derives grayscale and hematoxylin statistics from an image.
func Compute(img *image.NRGBA) Stats {
	return Stats{
		Grayscale:   summarize(Grayscale(img)),
		Hematoxylin: summarize(Rescale(SeparateStains(img))),
	}
}

// Grayscale converts to 8-bit luma using the ITU-R 601-2 weights, rounded
// the same way as common imaging libraries.
func Grayscale(img *image.NRGBA) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			out = append(out, float64((r*19595+g*38470+bl*7471+0x8000)>>16))
		}
	}
	return out
}

func summarize(values []float64) ChannelStats {
	var cs ChannelStats
	if len(values) == 0 {
		return cs
	}
	cs.Mean, cs.Std = stat.PopMeanStdDev(values, nil)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	for i, p := range PercentileLevels {
		cs.Percentiles[i] = stat.Quantile(p/100, stat.LinInterp, sorted, nil)
	}
	return cs
}
