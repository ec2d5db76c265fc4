package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

const minViewPoints = 4

// SolverFlags hold parts of the distortion model at zero during CalibrateCamera.
type SolverFlags struct {
	// ZeroTangentDist keeps p1 and p2 at zero.
	ZeroTangentDist bool
	// FixK3 keeps k3 at zero.
	FixK3 bool
}

// IntrinsicResult is the outcome of CalibrateCamera.
type IntrinsicResult struct {
	Size         image.Point
	CameraMatrix *mat.Dense
	// Distortion is [k1, k2, p1, p2, k3].
	Distortion []float64
	// Extrinsics place the board of each view in the device frame.
	Extrinsics []spatialmath.Extrinsic
	// RMS is the root mean square reprojection error over all points, in pixels.
	RMS        float64
	PerViewRMS []float64
	// Residuals are projected minus observed image points, per view.
	Residuals  [][]r2.Point
	Iterations int
}

// Model returns the pinhole camera model of the result.
func (res IntrinsicResult) Model() (*transform.PinholeCameraModel, error) {
	return transform.NewPinholeCameraModel(res.CameraMatrix, res.Distortion, res.Size)
}

// CalibrateCamera fits a pinhole model with Brown-Conrady distortion to views of a planar target.
// Focal lengths are initialized in closed form from the per view homographies with the principal
// point at the image center, each pose is recovered from its homography, and everything is then
// refined together with Levenberg-Marquardt.
func CalibrateCamera(views []View, size image.Point, flags SolverFlags) (IntrinsicResult, error) {
	if len(views) < MinPoses {
		return IntrinsicResult{}, newInsufficientPosesError(len(views))
	}
	if size.X <= 0 || size.Y <= 0 {
		return IntrinsicResult{}, errors.Errorf("image size must be positive, got %v", size)
	}
	homographies := make([]transform.Homography, len(views))
	nResiduals := 0
	for i, v := range views {
		if err := v.Validate(); err != nil {
			return IntrinsicResult{}, errors.Wrapf(err, "view %d", i)
		}
		if len(v.ObjectPoints) < minViewPoints {
			return IntrinsicResult{}, errors.Errorf("view %d has %d points, need at least %d", i, len(v.ObjectPoints), minViewPoints)
		}
		boardXY, err := planarXY(v.ObjectPoints)
		if err != nil {
			return IntrinsicResult{}, errors.Wrapf(err, "view %d", i)
		}
		if homographies[i], err = transform.EstimateHomography(boardXY, v.ImagePoints); err != nil {
			return IntrinsicResult{}, errors.Wrapf(err, "view %d", i)
		}
		nResiduals += 2 * len(v.ObjectPoints)
	}

	k := initIntrinsics(homographies, size)
	exts := make([]spatialmath.Extrinsic, len(views))
	for i, h := range homographies {
		ext, err := poseFromHomography(k, h)
		if err != nil {
			return IntrinsicResult{}, errors.Wrapf(err, "initial pose of view %d", i)
		}
		exts[i] = ext
	}

	layout := intrinsicLayout{flags: flags, size: size}
	x0 := layout.pack(k, make([]float64, transform.NumDistortionCoefficients), exts)
	res, err := levenbergMarquardt(func(dst, x []float64) {
		model := layout.model(x)
		offset := 0
		for i, v := range views {
			projected := model.ProjectPoints(v.ObjectPoints, layout.extrinsic(x, i))
			for j, p := range projected {
				dst[offset] = p.X - v.ImagePoints[j].X
				dst[offset+1] = p.Y - v.ImagePoints[j].Y
				offset += 2
			}
		}
	}, nResiduals, x0, defaultLMSettings)
	if err != nil {
		return IntrinsicResult{}, errors.Wrap(err, "refining camera model")
	}

	model := layout.model(res.X)
	out := IntrinsicResult{
		Size:         size,
		CameraMatrix: model.GetCameraMatrix(),
		Distortion:   model.Distortion.Parameters(),
		Extrinsics:   make([]spatialmath.Extrinsic, len(views)),
		Iterations:   res.Iterations,
	}
	for i := range views {
		out.Extrinsics[i] = layout.extrinsic(res.X, i)
	}
	if err := model.CheckValid(); err != nil {
		return IntrinsicResult{}, errors.Wrap(err, "calibration diverged")
	}
	out.Residuals, out.PerViewRMS, out.RMS, err = reprojectionErrors(model, views, out.Extrinsics)
	if err != nil {
		return IntrinsicResult{}, err
	}
	return out, nil
}

// reprojectionErrors returns the per point residuals, the per view RMS and the overall RMS.
func reprojectionErrors(
	model *transform.PinholeCameraModel,
	views []View,
	exts []spatialmath.Extrinsic,
) ([][]r2.Point, []float64, float64, error) {
	residuals := make([][]r2.Point, len(views))
	perView := make([]float64, len(views))
	var all stats.Float64Data
	for i, v := range views {
		projected := model.ProjectPoints(v.ObjectPoints, exts[i])
		residuals[i] = make([]r2.Point, len(projected))
		errs := make(stats.Float64Data, len(projected))
		for j, p := range projected {
			residuals[i][j] = p.Sub(v.ImagePoints[j])
			errs[j] = residuals[i][j].Norm()
		}
		rms, err := rootMeanSquare(errs)
		if err != nil {
			return nil, nil, 0, errors.Wrapf(err, "view %d error", i)
		}
		perView[i] = rms
		all = append(all, errs...)
	}
	rms, err := rootMeanSquare(all)
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "reprojection error")
	}
	return residuals, perView, rms, nil
}

// rootMeanSquare is sqrt(mean(x^2)).
func rootMeanSquare(data stats.Float64Data) (float64, error) {
	squares := make(stats.Float64Data, len(data))
	for i, v := range data {
		squares[i] = v * v
	}
	mean, err := stats.Mean(squares)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mean), nil
}

// pinholeParams is fx, fy, cx, cy.
type pinholeParams [4]float64

// initIntrinsics solves for the focal lengths given the principal point at the image center. Each
// homography h = K[r1 r2 t] gives two constraints on ω = K⁻ᵀK⁻¹ from the orthonormality of r1 and r2.
// A degenerate set of views (all parallel to the image plane) falls back to a focal length of the
// larger image dimension.
func initIntrinsics(homographies []transform.Homography, size image.Point) pinholeParams {
	cx := float64(size.X-1) / 2
	cy := float64(size.Y-1) / 2
	center := transform.Homography{{1, 0, -cx}, {0, 1, -cy}, {0, 0, 1}}

	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	setRow := func(row int, u, v, rhs float64) {
		norm := math.Sqrt(u*u + v*v + rhs*rhs)
		if norm == 0 {
			norm = 1
		}
		a.Set(row, 0, u/norm)
		a.Set(row, 1, v/norm)
		b.SetVec(row, rhs/norm)
	}
	for i, h := range homographies {
		hc := center.Mul(h)
		h1 := r3.Vector{X: hc[0][0], Y: hc[1][0], Z: hc[2][0]}
		h2 := r3.Vector{X: hc[0][1], Y: hc[1][1], Z: hc[2][1]}
		setRow(2*i, h1.X*h2.X, h1.Y*h2.Y, -h1.Z*h2.Z)
		setRow(2*i+1, h1.X*h1.X-h2.X*h2.X, h1.Y*h1.Y-h2.Y*h2.Y, -(h1.Z*h1.Z - h2.Z*h2.Z))
	}

	fallback := float64(max(size.X, size.Y))
	fx, fy := fallback, fallback
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err == nil && sol.AtVec(0) > 0 && sol.AtVec(1) > 0 {
		fx = 1 / math.Sqrt(sol.AtVec(0))
		fy = 1 / math.Sqrt(sol.AtVec(1))
	}
	return pinholeParams{fx, fy, cx, cy}
}

// poseFromHomography decomposes h = λK[r1 r2 t] into the pose of the z = 0 plane.
func poseFromHomography(k pinholeParams, h transform.Homography) (spatialmath.Extrinsic, error) {
	column := func(c int) r3.Vector {
		return r3.Vector{
			X: (h[0][c] - k[2]*h[2][c]) / k[0],
			Y: (h[1][c] - k[3]*h[2][c]) / k[1],
			Z: h[2][c],
		}
	}
	m1, m2, m3 := column(0), column(1), column(2)
	norm := (m1.Norm() + m2.Norm()) / 2
	if norm == 0 || math.IsNaN(norm) {
		return spatialmath.Extrinsic{}, errors.New("degenerate homography")
	}
	lambda := 1 / norm
	// the board must be in front of the device
	if m3.Z < 0 {
		lambda = -lambda
	}
	r1 := m1.Mul(lambda)
	r2 := m2.Mul(lambda)
	r3v := r1.Cross(r2)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rvec, err := spatialmath.MatrixToRotationVector(rot)
	if err != nil {
		return spatialmath.Extrinsic{}, err
	}
	return spatialmath.Extrinsic{Rotation: rvec, Translation: m3.Mul(lambda)}, nil
}

// intrinsicLayout maps the free parameters of a calibration onto a flat vector:
// fx, fy, cx, cy, k1, k2, [p1, p2], [k3], then rvec and tvec of every view.
type intrinsicLayout struct {
	flags SolverFlags
	size  image.Point
}

func (l intrinsicLayout) numIntrinsic() int {
	n := 6
	if !l.flags.ZeroTangentDist {
		n += 2
	}
	if !l.flags.FixK3 {
		n++
	}
	return n
}

func (l intrinsicLayout) pack(k pinholeParams, dist []float64, exts []spatialmath.Extrinsic) []float64 {
	x := make([]float64, 0, l.numIntrinsic()+6*len(exts))
	x = append(x, k[0], k[1], k[2], k[3], dist[0], dist[1])
	if !l.flags.ZeroTangentDist {
		x = append(x, dist[2], dist[3])
	}
	if !l.flags.FixK3 {
		x = append(x, dist[4])
	}
	for _, ext := range exts {
		x = append(x,
			ext.Rotation.X, ext.Rotation.Y, ext.Rotation.Z,
			ext.Translation.X, ext.Translation.Y, ext.Translation.Z)
	}
	return x
}

// model builds the camera model without validation; the solver may wander through invalid values.
func (l intrinsicLayout) model(x []float64) *transform.PinholeCameraModel {
	bc := &transform.BrownConrady{RadialK1: x[4], RadialK2: x[5]}
	i := 6
	if !l.flags.ZeroTangentDist {
		bc.TangentialP1, bc.TangentialP2 = x[i], x[i+1]
		i += 2
	}
	if !l.flags.FixK3 {
		bc.RadialK3 = x[i]
	}
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: l.size.X, Height: l.size.Y,
			Fx: x[0], Fy: x[1], Ppx: x[2], Ppy: x[3],
		},
		Distortion: bc,
	}
}

func (l intrinsicLayout) extrinsic(x []float64, view int) spatialmath.Extrinsic {
	return extrinsicAt(x, l.numIntrinsic()+6*view)
}

func extrinsicAt(x []float64, offset int) spatialmath.Extrinsic {
	return spatialmath.Extrinsic{
		Rotation:    r3.Vector{X: x[offset], Y: x[offset+1], Z: x[offset+2]},
		Translation: r3.Vector{X: x[offset+3], Y: x[offset+4], Z: x[offset+5]},
	}
}
