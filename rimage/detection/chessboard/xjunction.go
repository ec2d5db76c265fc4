package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

const xJunctionSamples = 32

// sampleBilinear samples a luminance matrix at a real valued location. ok is false outside of it.
func sampleBilinear(m *mat.Dense, x, y float64) (float64, bool) {
	h, w := m.Dims()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0)*(1-fx) + m.At(y0, x1)*fx
	bottom := m.At(y1, x0)*(1-fx) + m.At(y1, x1)*fx
	return top*(1-fy) + bottom*fy, true
}

// isXJunction verifies that the neighborhood of p looks like the meeting point of four alternating
// chessboard squares: the intensity along a circle around p alternates dark/light exactly four
// times and diametrically opposite samples mostly agree. Corners of isolated squares, edges and
// T junctions fail the test.
func isXJunction(img *mat.Dense, p r2.Point, radius, minContrast float64) bool {
	var samples [xJunctionSamples]float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range samples {
		angle := 2 * math.Pi * float64(i) / xJunctionSamples
		v, ok := sampleBilinear(img, p.X+radius*math.Cos(angle), p.Y+radius*math.Sin(angle))
		if !ok {
			return false
		}
		samples[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < minContrast {
		return false
	}
	thresh := (lo + hi) / 2
	transitions, agreeing := 0, 0
	for i := range samples {
		bright := samples[i] >= thresh
		if bright != (samples[(i+1)%xJunctionSamples] >= thresh) {
			transitions++
		}
		if bright == (samples[(i+xJunctionSamples/2)%xJunctionSamples] >= thresh) {
			agreeing++
		}
	}
	return transitions == 4 && agreeing*4 >= xJunctionSamples*3
}
