package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/procam/utils"
)

const (
	minHomographyPoints = 4

	// ratio of the smallest to the largest principal spread under which points count as collinear
	collinearityThreshold = 1e-6

	maxHomographyCondition = 1e12
)

// HomographyOptions tunes EstimateHomographyWithOptions.
type HomographyOptions struct {
	// Refine minimizes the forward reprojection error after the linear estimate.
	Refine bool
	// CheckConditioning rejects collinear correspondences and ill conditioned results with
	// ErrDegenerateHomography.
	CheckConditioning bool
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct
// linear transform. Four correspondences determine it exactly; more are fit in the least squares
// sense.
func EstimateHomography(src, dst []r2.Point) (Homography, error) {
	return EstimateHomographyWithOptions(src, dst, HomographyOptions{})
}

// EstimateHomographyRefined is EstimateHomography followed by a nonlinear minimization of the
// reprojection error in dst.
func EstimateHomographyRefined(src, dst []r2.Point) (Homography, error) {
	return EstimateHomographyWithOptions(src, dst, HomographyOptions{Refine: true})
}

// EstimateHomographyWithOptions computes the src -> dst homography.
func EstimateHomographyWithOptions(src, dst []r2.Point, opts HomographyOptions) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, utils.NewDimensionMismatchError("homography correspondences", len(src), len(dst))
	}
	if len(src) < minHomographyPoints {
		return Homography{}, errors.Errorf("need at least %d correspondences to estimate a homography, got %d",
			minHomographyPoints, len(src))
	}
	if opts.CheckConditioning {
		if err := checkCollinear(src); err != nil {
			return Homography{}, errors.Wrap(err, "source points")
		}
		if err := checkCollinear(dst); err != nil {
			return Homography{}, errors.Wrap(err, "destination points")
		}
	}

	h, err := linearHomography(src, dst)
	if err != nil {
		return Homography{}, err
	}
	if opts.Refine {
		h = refineHomography(h, src, dst)
	}
	if opts.CheckConditioning {
		if cond := mat.Cond(h.Matrix(), 2); math.IsNaN(cond) || cond > maxHomographyCondition {
			return Homography{}, errors.Wrapf(ErrDegenerateHomography, "condition number %g", cond)
		}
	}
	return h, nil
}

func linearHomography(src, dst []r2.Point) (Homography, error) {
	nPoints := len(src)
	srcNorm, t1 := normalizePoints(src)
	dstNorm, t2 := normalizePoints(dst)

	a := mat.NewDense(2*nPoints, 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.New("failed to factorize homography system")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := make([]float64, 9)
	for i := range hn {
		hn[i] = v.At(i, 8)
	}
	hNorm := mat.NewDense(3, 3, hn)

	// denormalize: H = T2^-1 · Hn · T1
	var h mat.Dense
	h.Mul(invertSimilarity(t2), hNorm)
	h.Mul(&h, t1)
	out, err := HomographyFromMatrix(&h)
	if err != nil {
		return Homography{}, err
	}
	return out.Normalized(), nil
}

// normalizePoints translates the points to their centroid and scales them so that their mean
// distance to the origin is sqrt(2), as described in Multiple View Geometry, Alg 4.2.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	meanDist := 0.
	for _, p := range pts {
		meanDist += p.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	scale := 1.
	if meanDist > 0 {
		scale = math.Sqrt2 / meanDist
	}
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(centroid).Mul(scale)
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * centroid.X,
		0, scale, -scale * centroid.Y,
		0, 0, 1,
	})
	return out, t
}

func invertSimilarity(t *mat.Dense) *mat.Dense {
	s := t.At(0, 0)
	return mat.NewDense(3, 3, []float64{
		1 / s, 0, -t.At(0, 2) / s,
		0, 1 / s, -t.At(1, 2) / s,
		0, 0, 1,
	})
}

func checkCollinear(pts []r2.Point) error {
	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	var sxx, sxy, syy float64
	for _, p := range pts {
		d := p.Sub(centroid)
		sxx += d.X * d.X
		sxy += d.X * d.Y
		syy += d.Y * d.Y
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy}), false); !ok {
		return errors.Wrap(ErrDegenerateHomography, "failed to factorize point spread")
	}
	values := eig.Values(nil)
	if values[1] <= 0 || values[0]/values[1] < collinearityThreshold {
		return errors.Wrap(ErrDegenerateHomography, "points are collinear")
	}
	return nil
}

// ReprojectionError returns the root mean square distance between h·src and dst.
func ReprojectionError(h Homography, src, dst []r2.Point) float64 {
	if len(src) == 0 {
		return 0
	}
	sum := 0.
	for i := range src {
		d := h.Apply(src[i]).Sub(dst[i])
		sum += d.Dot(d)
	}
	return math.Sqrt(sum / float64(len(src)))
}

// refineHomography minimizes the squared forward reprojection error over the eight free entries of
// a normalized homography. The linear estimate is kept if the minimization does not improve on it.
func refineHomography(h Homography, src, dst []r2.Point) Homography {
	h = h.Normalized()
	toHomography := func(x []float64) Homography {
		return Homography{{x[0], x[1], x[2]}, {x[3], x[4], x[5]}, {x[6], x[7], 1}}
	}
	cost := func(x []float64) float64 {
		hx := toHomography(x)
		sum := 0.
		for i := range src {
			d := hx.Apply(src[i]).Sub(dst[i])
			sum += d.Dot(d)
		}
		return sum
	}
	initX := []float64{h[0][0], h[0][1], h[0][2], h[1][0], h[1][1], h[1][2], h[2][0], h[2][1]}
	initF := cost(initX)
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	result, err := optimize.Minimize(problem, initX, &optimize.Settings{
		GradientThreshold: 1e-12,
		MajorIterations:   200,
	}, &optimize.BFGS{})
	if err != nil && result == nil {
		return h
	}
	// a line search stall still reports the best location found
	if math.IsNaN(result.F) || result.F >= initF {
		return h
	}
	return toHomography(result.X)
}
