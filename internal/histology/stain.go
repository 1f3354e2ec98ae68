package histology

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ruifrok & Johnston stain vectors: rows are hematoxylin, eosin and DAB
// expressed in RGB optical density.
var rgbFromHED = mat.NewDense(3, 3, []float64{
	0.65, 0.70, 0.29,
	0.07, 0.99, 0.11,
	0.27, 0.57, 0.78,
})

var hedFromRGB = mustInverse(rgbFromHED)

// minIntensity keeps the optical density finite for black pixels.
const minIntensity = 1e-6

func mustInverse(m mat.Matrix) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		panic(fmt.Sprintf("stain matrix is singular: %v", err))
	}
	return &inv
}

// SeparateStains projects RGB pixels onto the HED stain basis and returns
// the hematoxylin channel, one value per pixel in row-major order. Negative
// stain amounts are clipped to zero.
func SeparateStains(img *image.NRGBA) []float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return nil
	}

	logAdjust := math.Log(minIntensity)
	od := make([]float64, 0, n*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			for _, c := range px {
				v := math.Max(float64(c)/255, minIntensity)
				od = append(od, math.Log(v)/logAdjust)
			}
		}
	}

	var hed mat.Dense
	hed.Mul(mat.NewDense(n, 3, od), hedFromRGB)

	h := mat.Col(nil, 0, &hed)
	for i, v := range h {
		if v < 0 {
			h[i] = 0
		}
	}
	return h
}

// Rescale maps values linearly onto 0..255 using their own min and max and
// truncates to whole 8-bit levels. A constant channel maps to zero.
func Rescale(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return out
	}
	for i, v := range values {
		out[i] = float64(uint8((v - lo) / (hi - lo) * 255))
	}
	return out
}
