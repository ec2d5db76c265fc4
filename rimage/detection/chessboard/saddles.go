package chessboard

import (
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage"
	"go.viam.com/procam/utils"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into a relevant saddle points map.
type SaddleConfiguration struct {
	BlurRadius     int     `json:"blur-radius"`     // radius of the gaussian smoothing applied before differentiation
	BlurSigma      float64 `json:"blur-sigma"`      // standard deviation of the gaussian smoothing
	ScoreThreshold float64 `json:"score-threshold"` // fraction of the strongest saddle score under which points are pruned
	NMSWindowSize  int     `json:"win-size"`        // half window size for non-maximum suppression
	XRadius        float64 `json:"x-radius"`        // radius of the circle sampled to verify X junctions
	MinContrast    float64 `json:"min-contrast"`    // minimum gray level spread on that circle
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurRadius:     3,
	BlurSigma:      1.2,
	ScoreThreshold: 0.02,
	NMSWindowSize:  4,
	XRadius:        4,
	MinContrast:    20,
}

// Saddle is a candidate chessboard corner.
type Saddle struct {
	Point r2.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
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
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// SaddleMap returns the negated Hessian determinant of img clipped at zero: positive values mark
// saddle shaped neighborhoods.
func SaddleMap(img *mat.Dense) (*mat.Dense, error) {
	hessian, err := computePixelWiseHessianDeterminant(img)
	if err != nil {
		return nil, err
	}
	hessian.Apply(func(r, c int, v float64) float64 {
		if v > 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, nil
}

// NonMaxSuppression keeps the strict local maxima of img within a (2*winSize+1) square window and
// zeroes everything else. Plateaus keep their first pixel in row major order.
func NonMaxSuppression(img *mat.Dense, winSize int) *mat.Dense {
	h, w := img.Dims()
	imgSup := mat.NewDense(h, w, nil)
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		v := img.At(y, x)
		if v <= 0 {
			return
		}
		for ny := utils.ClampInt(y-winSize, 0, h-1); ny <= utils.ClampInt(y+winSize, 0, h-1); ny++ {
			for nx := utils.ClampInt(x-winSize, 0, w-1); nx <= utils.ClampInt(x+winSize, 0, w-1); nx++ {
				n := img.At(ny, nx)
				if n > v || (n == v && (ny < y || (ny == y && nx < x))) {
					return
				}
			}
		}
		imgSup.Set(y, x, v)
	})
	return imgSup
}

// GetSaddleMapPoints gets the saddle map of a luminance image and the list of its strongest local
// maxima, sorted by decreasing score.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []Saddle, error) {
	saddleMap, err := SaddleMap(img)
	if err != nil {
		return nil, nil, err
	}
	thresh := conf.ScoreThreshold * mat.Max(saddleMap)
	pruned := mat.DenseCopyOf(saddleMap)
	pruned.Apply(func(r, c int, v float64) float64 {
		if v < thresh {
			return 0
		}
		return v
	}, pruned)
	nms := NonMaxSuppression(pruned, conf.NMSWindowSize)

	nRows, _ := nms.Dims()
	rows := make([][]Saddle, nRows)
	err = utils.ParallelForEachRow(nRows, func(y int) error {
		for x, v := range nms.RawRowView(y) {
			if v > 0 {
				rows[y] = append(rows[y], Saddle{Point: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	var saddles []Saddle
	for _, row := range rows {
		saddles = append(saddles, row...)
	}
	sort.SliceStable(saddles, func(i, j int) bool {
		return saddles[i].Score > saddles[j].Score
	})
	return saddleMap, saddles, nil
}

// visualization functions

// PlotSaddleMap plots polygonal contours and saddle points on a black image.
func PlotSaddleMap(saddlePoints []r2.Point, contours [][]r2.Point, iw, ih int) image.Image {
	dc := gg.NewContext(iw, ih)
	dc.SetColor(color.Black)
	dc.Clear()

	// Draw contours
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(1)
	for _, c := range contours {
		for i, pt := range c {
			p2 := c[(i+1)%len(c)]
			dc.DrawLine(pt.X, pt.Y, p2.X, p2.Y)
			dc.Stroke()
		}
	}
	// Draw Saddle Points
	dc.SetColor(color.RGBA{
		R: 255,
		G: 0,
		B: 0,
		A: 255,
	})
	for _, pt := range saddlePoints {
		dc.DrawPoint(pt.X, pt.Y, 2.5)
		dc.Fill()
	}
	return dc.Image()
}
