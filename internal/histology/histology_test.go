package histology

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func halves(size int) *image.NRGBA {
	img := solid(size, size, color.NRGBA{255, 255, 255, 255})
	for y := 0; y < size; y++ {
		for x := 0; x < size/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
		}
	}
	return img
}

type fakeReader struct {
	img *image.NRGBA
	err error
}

func (f *fakeReader) ReadRegion(_ context.Context, x, y, w, h int) (*image.NRGBA, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func TestGrayscaleLuma(t *testing.T) {
	img := solid(2, 2, color.NRGBA{200, 100, 50, 255})
	gray := Grayscale(img)
	require.Len(t, gray, 4)
	// 0.299*200 + 0.587*100 + 0.114*50 = 124.2
	assert.Equal(t, 124.0, gray[0])
}

func TestComputeConstantPatch(t *testing.T) {
	s := Compute(solid(8, 8, color.NRGBA{255, 255, 255, 255}))
	assert.Equal(t, 255.0, s.Grayscale.Mean)
	assert.Zero(t, s.Grayscale.Std)
	assert.Zero(t, s.Hematoxylin.Mean)
	assert.Zero(t, s.Hematoxylin.Std)
}

func TestComputeHalves(t *testing.T) {
	s := Compute(halves(8))

	assert.InDelta(t, 127.5, s.Grayscale.Mean, 1e-9)
	assert.InDelta(t, 127.5, s.Grayscale.Std, 1e-9)

	// Black carries the most hematoxylin, white none; min-max rescaling
	// pins them to 255 and 0.
	assert.InDelta(t, 127.5, s.Hematoxylin.Mean, 1e-9)
	assert.InDelta(t, 127.5, s.Hematoxylin.Std, 1e-9)

	for _, cs := range []ChannelStats{s.Grayscale, s.Hematoxylin} {
		for i := 1; i < len(cs.Percentiles); i++ {
			assert.GreaterOrEqual(t, cs.Percentiles[i], cs.Percentiles[i-1])
		}
		assert.GreaterOrEqual(t, cs.Percentiles[0], 0.0)
		assert.LessOrEqual(t, cs.Percentiles[4], 255.0)
	}
}

func TestSeparateStainsHematoxylinDominant(t *testing.T) {
	// A typical hematoxylin-stained purple carries more H than a pink
	// eosin-dominant pixel.
	purple := SeparateStains(solid(1, 1, color.NRGBA{90, 60, 160, 255}))
	pink := SeparateStains(solid(1, 1, color.NRGBA{230, 150, 190, 255}))
	require.Len(t, purple, 1)
	require.Len(t, pink, 1)
	assert.Greater(t, purple[0], pink[0])
	assert.GreaterOrEqual(t, pink[0], 0.0)
}

func TestRescaleTruncates(t *testing.T) {
	assert.Equal(t, []float64{0, 127, 255}, Rescale([]float64{0, 1, 2}))
	assert.Equal(t, []float64{0, 0}, Rescale([]float64{3, 3}))
	assert.Empty(t, Rescale(nil))
}

func TestRescaleReachesTop(t *testing.T) {
	black := SeparateStains(solid(1, 1, color.NRGBA{0, 0, 0, 255}))
	require.Len(t, black, 1)
	require.Positive(t, black[0])

	assert.Equal(t, []float64{0, 255}, Rescale([]float64{0, black[0]}))
	assert.Equal(t, []float64{0, 255}, Rescale([]float64{0, 1.210167311189283}))
}

func TestExtractWrapsReadErrors(t *testing.T) {
	_, err := Extract(context.Background(), &fakeReader{err: errors.New("decoder exploded")}, 5, 6, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRead)

	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 5, re.X)
	assert.Equal(t, 6, re.Y)
}

func TestExtractRejectsShortRead(t *testing.T) {
	_, err := Extract(context.Background(), &fakeReader{img: solid(4, 4, color.NRGBA{A: 255})}, 0, 0, 8)
	assert.ErrorIs(t, err, ErrRead)
}

func TestExtract(t *testing.T) {
	s, err := Extract(context.Background(), &fakeReader{img: halves(8)}, 0, 0, 8)
	require.NoError(t, err)
	assert.InDelta(t, 127.5, s.Grayscale.Mean, 1e-9)
}
