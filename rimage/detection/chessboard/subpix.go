package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage"
)

// SubPixConfiguration is the termination criteria of the sub-pixel corner refinement.
type SubPixConfiguration struct {
	WindowSize    int     `json:"window"`     // side of the square search window
	MaxIterations int     `json:"iterations"` // maximum number of refinement steps
	Epsilon       float64 `json:"epsilon"`    // stop once a step moves the corner less than this, in pixels
}

// DefaultSubPixConf stores the default refinement criteria: an 11x11 window, 30 iterations or 0.1 px.
var DefaultSubPixConf = SubPixConfiguration{
	WindowSize:    11,
	MaxIterations: 30,
	Epsilon:       0.1,
}

// refineCorners moves every corner to the point where the image gradients in its window are
// orthogonal to the vectors joining it to their pixels: sum(g gᵀ)·q = sum(g gᵀ·p). The window
// shrinks to fit within 40% of spacing so that neighboring corners stay out of it.
func refineCorners(img *mat.Dense, corners []r2.Point, spacing float64, cfg SubPixConfiguration) ([]r2.Point, error) {
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY)
	if err != nil {
		return nil, err
	}
	h, w := img.Dims()

	half := cfg.WindowSize / 2
	if limit := int(0.4 * spacing); spacing > 0 && limit < half {
		half = limit
	}
	if half < 2 {
		half = 2
	}
	sigma := float64(half)
	weights := make([]float64, (2*half+1)*(2*half+1))
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			weights[(dy+half)*(2*half+1)+dx+half] = math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
		}
	}

	refined := make([]r2.Point, len(corners))
	for i, start := range corners {
		q := start
		for iter := 0; iter < cfg.MaxIterations; iter++ {
			cx, cy := int(math.Round(q.X)), int(math.Round(q.Y))
			var a11, a12, a22, b1, b2 float64
			for dy := -half; dy <= half; dy++ {
				y := cy + dy
				if y < 0 || y >= h {
					continue
				}
				for dx := -half; dx <= half; dx++ {
					x := cx + dx
					if x < 0 || x >= w {
						continue
					}
					wt := weights[(dy+half)*(2*half+1)+dx+half]
					gx, gy := gX.At(y, x), gY.At(y, x)
					gxx, gxy, gyy := wt*gx*gx, wt*gx*gy, wt*gy*gy
					a11 += gxx
					a12 += gxy
					a22 += gyy
					b1 += gxx*float64(x) + gxy*float64(y)
					b2 += gxy*float64(x) + gyy*float64(y)
				}
			}
			det := a11*a22 - a12*a12
			if math.Abs(det) < 1e-12 {
				break
			}
			next := r2.Point{X: (a22*b1 - a12*b2) / det, Y: (a11*b2 - a12*b1) / det}
			moved := next.Sub(q).Norm()
			q = next
			if moved < cfg.Epsilon {
				break
			}
		}
		if q.Sub(start).Norm() > float64(half) || math.IsNaN(q.X) || math.IsNaN(q.Y) {
			q = start
		}
		refined[i] = q
	}
	return refined, nil
}
