package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/procam/rimage"
)

// ErrNotFound is reported for frames in which the full chessboard could not be located.
var ErrNotFound = errors.New("chessboard not found")

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle SaddleConfiguration `json:"saddle"`
	Grid   GridConfiguration   `json:"grid"`
	SubPix SubPixConfiguration `json:"subpix"`
}

// DefaultDetectionConf stores the default parameters for chessboard detection.
var DefaultDetectionConf = DetectionConfiguration{
	Saddle: DefaultSaddleConf,
	Grid:   DefaultGridConf,
	SubPix: DefaultSubPixConf,
}

// Result is the outcome of a chessboard search. When Found, Corners holds every interior corner in
// row major order from the top left corner of the board; otherwise it holds the Count corners
// that could be placed on the grid.
type Result struct {
	Found      bool
	Corners    []r2.Point
	Count      int
	Candidates []r2.Point
	Hull       []r2.Point
}

// Err returns nil for a full detection and a wrapped ErrNotFound otherwise.
func (r Result) Err() error {
	if r.Found {
		return nil
	}
	return errors.Wrapf(ErrNotFound, "only %d corners located", r.Count)
}

// FindChessboardCorners locates the size.X by size.Y interior corners of a chessboard in img.
// Failing to find the board is not an error: the Result reports Found=false.
func FindChessboardCorners(img image.Image, size image.Point, cfg DetectionConfiguration) (Result, error) {
	if size.X < 2 || size.Y < 2 {
		return Result{}, errors.Errorf("chessboard must have at least 2x2 interior corners, got %v", size)
	}
	n := size.X * size.Y

	gray := rimage.ConvertToGrayFloat(img)
	gauss := rimage.GetGaussian(cfg.Saddle.BlurRadius, cfg.Saddle.BlurSigma)
	blurred, err := rimage.ConvolveGrayFloat64(gray, &gauss)
	if err != nil {
		return Result{}, err
	}
	_, saddles, err := GetSaddleMapPoints(blurred, &cfg.Saddle)
	if err != nil {
		return Result{}, err
	}
	saddles = lo.Filter(saddles, func(s Saddle, _ int) bool {
		return isXJunction(blurred, s.Point, cfg.Saddle.XRadius, cfg.Saddle.MinContrast)
	})

	result := Result{Candidates: lo.Map(saddles, func(s Saddle, _ int) r2.Point { return s.Point })}
	if len(saddles) < n {
		result.Count = len(saddles)
		result.Corners = result.Candidates
		return result, nil
	}

	// the strongest candidates are the most likely board corners
	if limit := 2*n + cfg.Grid.MaxOutlierRetries; len(saddles) > limit {
		saddles = saddles[:limit]
	}

	var best *gridAssignment
	var bestPts []r2.Point
	for retry := 0; retry <= cfg.Grid.MaxOutlierRetries && len(saddles) >= n; retry++ {
		pts := lo.Map(saddles, func(s Saddle, _ int) r2.Point { return s.Point })
		hull := convexHull(pts)
		result.Hull = lo.Map(hull, func(i, _ int) r2.Point { return pts[i] })

		if len(hull) <= cfg.Grid.MaxHullVertices {
			if quad, ok := maxAreaQuad(pts, hull); ok {
				g := fitGrid(pts, quad, size, cfg.Grid.AssignTolerance)
				if g != nil && (best == nil || g.count > best.count) {
					best, bestPts = g, pts
				}
				if g != nil && g.count == n {
					break
				}
			}
		}
		saddles = dropWeakestHullVertex(saddles, hull)
	}

	if best == nil {
		return result, nil
	}
	result.Count = best.count
	if best.count < n {
		result.Corners = make([]r2.Point, 0, best.count)
		for _, i := range best.nodes {
			if i >= 0 {
				result.Corners = append(result.Corners, bestPts[i])
			}
		}
		return result, nil
	}

	ordered := orderedCorners(bestPts, best)
	refined, err := refineCorners(gray, ordered, minNeighborDistance(ordered, size), cfg.SubPix)
	if err != nil {
		return Result{}, err
	}
	result.Found = true
	result.Corners = refined
	return result, nil
}

func dropWeakestHullVertex(saddles []Saddle, hull []int) []Saddle {
	if len(hull) == 0 {
		return saddles[:len(saddles)-1]
	}
	weakest := hull[0]
	for _, i := range hull[1:] {
		if saddles[i].Score < saddles[weakest].Score {
			weakest = i
		}
	}
	out := make([]Saddle, 0, len(saddles)-1)
	out = append(out, saddles[:weakest]...)
	return append(out, saddles[weakest+1:]...)
}

// minNeighborDistance is the smallest distance between two grid neighbors of row major corners.
func minNeighborDistance(corners []r2.Point, size image.Point) float64 {
	best := math.Inf(1)
	for r := 0; r < size.Y; r++ {
		for c := 0; c < size.X; c++ {
			p := corners[r*size.X+c]
			if c+1 < size.X {
				best = math.Min(best, p.Sub(corners[r*size.X+c+1]).Norm())
			}
			if r+1 < size.Y {
				best = math.Min(best, p.Sub(corners[(r+1)*size.X+c]).Norm())
			}
		}
	}
	return best
}

// DebugImage renders the candidates, hull and located corners of a search over a black canvas.
func DebugImage(r Result, canvas image.Point) image.Image {
	contours := [][]r2.Point{}
	if len(r.Hull) > 0 {
		contours = append(contours, r.Hull)
	}
	return rimage.DrawChessboardCorners(PlotSaddleMap(r.Candidates, contours, canvas.X, canvas.Y),
		image.Point{}, r.Corners, false)
}
