package calibration

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

var (
	camSize  = image.Point{640, 480}
	projSize = image.Point{800, 600}
	board    = Board{Corners: image.Point{8, 6}, CellWidthMM: 30, CellHeightMM: 30}

	// projector relative to camera: maps camera coordinates to projector coordinates
	projInCam = spatialmath.Extrinsic{
		Rotation:    r3.Vector{Y: -0.15},
		Translation: r3.Vector{X: 150, Z: 20},
	}
)

func cameraModel(t *testing.T, dist []float64) *transform.PinholeCameraModel {
	t.Helper()
	k := (&transform.PinholeCameraIntrinsics{Width: camSize.X, Height: camSize.Y, Fx: 820, Fy: 800, Ppx: 330, Ppy: 245}).GetCameraMatrix()
	model, err := transform.NewPinholeCameraModel(k, dist, camSize)
	test.That(t, err, test.ShouldBeNil)
	return model
}

func projectorModel(t *testing.T) *transform.PinholeCameraModel {
	t.Helper()
	k := (&transform.PinholeCameraIntrinsics{Width: projSize.X, Height: projSize.Y, Fx: 1000, Fy: 1000, Ppx: 400, Ppy: 300}).GetCameraMatrix()
	model, err := transform.NewPinholeCameraModel(k, []float64{0.03}, projSize)
	test.That(t, err, test.ShouldBeNil)
	return model
}

// boardPoses places the center of the board at the given camera coordinates under several tilts.
func boardPoses(t *testing.T) []spatialmath.Extrinsic {
	t.Helper()
	rvecs := []r3.Vector{
		{X: 0.3},
		{Y: 0.35, Z: 0.1},
		{X: -0.25, Y: 0.2},
		{X: 0.2, Y: -0.3, Z: 0.05},
		{X: 0.1, Y: 0.1, Z: -0.2},
	}
	centers := []r3.Vector{
		{Z: 600},
		{X: 20, Y: -10, Z: 650},
		{X: -30, Y: 20, Z: 550},
		{X: 10, Y: 30, Z: 700},
		{X: -10, Y: -20, Z: 620},
	}
	boardCenter := r3.Vector{
		X: board.CellWidthMM * float64(board.Corners.X-1) / 2,
		Y: board.CellHeightMM * float64(board.Corners.Y-1) / 2,
	}
	poses := make([]spatialmath.Extrinsic, len(rvecs))
	for i, rvec := range rvecs {
		rotated := spatialmath.Extrinsic{Rotation: rvec}.TransformPoint(boardCenter)
		poses[i] = spatialmath.Extrinsic{Rotation: rvec, Translation: centers[i].Sub(rotated)}
	}
	return poses
}

func compose(outer, inner spatialmath.Extrinsic) spatialmath.Extrinsic {
	var m mat.Dense
	m.Mul(spatialmath.NewPoseMatrix(outer), spatialmath.NewPoseMatrix(inner))
	ext, err := spatialmath.ExtrinsicFromPoseMatrix(&m)
	if err != nil {
		panic(err)
	}
	return ext
}

// litBoardPoint intersects the ray of a projector pixel with the board plane, in board coordinates.
func litBoardPoint(proj *transform.PinholeCameraModel, projPose spatialmath.Extrinsic, pixel r2.Point) r3.Vector {
	n := proj.UndistortPoints([]r2.Point{pixel})[0]
	rotT := spatialmath.RotationVectorToMatrix(projPose.Rotation).T()
	toBoard := func(v r3.Vector) r3.Vector {
		return r3.Vector{
			X: rotT.At(0, 0)*v.X + rotT.At(0, 1)*v.Y + rotT.At(0, 2)*v.Z,
			Y: rotT.At(1, 0)*v.X + rotT.At(1, 1)*v.Y + rotT.At(1, 2)*v.Z,
			Z: rotT.At(2, 0)*v.X + rotT.At(2, 1)*v.Y + rotT.At(2, 2)*v.Z,
		}
	}
	origin := toBoard(projPose.Translation).Mul(-1)
	dir := toBoard(r3.Vector{X: n.X, Y: n.Y, Z: 1})
	pt, _ := spatialmath.IntersectLineWithPlane3D(origin, dir, [4]float64{0, 0, 1, 0})
	return r3.Vector{X: pt.X, Y: pt.Y}
}

func syntheticPoses(t *testing.T, cam, proj *transform.PinholeCameraModel) []PoseObservation {
	t.Helper()
	obj, err := board.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)
	var projPixels []r2.Point
	for r := 0; r < 5; r++ {
		for c := 0; c < 6; c++ {
			projPixels = append(projPixels, r2.Point{X: 250 + 60*float64(c), Y: 200 + 50*float64(r)})
		}
	}
	var poses []PoseObservation
	for _, camPose := range boardPoses(t) {
		projPose := compose(projInCam, camPose)
		lit := make([]r3.Vector, len(projPixels))
		for i, px := range projPixels {
			lit[i] = litBoardPoint(proj, projPose, px)
		}
		poses = append(poses, PoseObservation{
			CamCorners:          cam.ProjectPoints(obj, camPose),
			ObjectPoints:        obj,
			ProjCornersInCamera: cam.ProjectPoints(lit, camPose),
			ProjPixels:          projPixels,
		})
	}
	return poses
}

func TestCalibrateCameraRecoversIntrinsics(t *testing.T) {
	cam := cameraModel(t, []float64{-0.12, 0.08})
	obj, err := board.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)

	var views []View
	for _, pose := range boardPoses(t) {
		views = append(views, View{ObjectPoints: obj, ImagePoints: cam.ProjectPoints(obj, pose)})
	}

	res, err := CalibrateCamera(views, camSize, SolverFlags{ZeroTangentDist: true, FixK3: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, res.CameraMatrix.At(0, 0), test.ShouldAlmostEqual, 820, 0.5)
	test.That(t, res.CameraMatrix.At(1, 1), test.ShouldAlmostEqual, 800, 0.5)
	test.That(t, res.CameraMatrix.At(0, 2), test.ShouldAlmostEqual, 330, 0.5)
	test.That(t, res.CameraMatrix.At(1, 2), test.ShouldAlmostEqual, 245, 0.5)
	test.That(t, res.Distortion[0], test.ShouldAlmostEqual, -0.12, 1e-3)
	test.That(t, res.Distortion[1], test.ShouldAlmostEqual, 0.08, 1e-2)
	test.That(t, res.Distortion[2], test.ShouldEqual, 0)
	test.That(t, res.Distortion[3], test.ShouldEqual, 0)
	test.That(t, res.Distortion[4], test.ShouldEqual, 0)
	test.That(t, len(res.PerViewRMS), test.ShouldEqual, len(views))
	test.That(t, len(res.Extrinsics), test.ShouldEqual, len(views))
	for i, pose := range boardPoses(t) {
		test.That(t, res.Extrinsics[i].Translation.Z, test.ShouldAlmostEqual, pose.Translation.Z, 1)
	}

	_, err = res.Model()
	test.That(t, err, test.ShouldBeNil)
}

func TestCalibrateCameraFullDistortion(t *testing.T) {
	cam := cameraModel(t, []float64{-0.1, 0.05, 0.001, -0.002})
	obj, err := board.ObjectPoints(TraversalColumnSwapped)
	test.That(t, err, test.ShouldBeNil)

	var views []View
	for _, pose := range boardPoses(t) {
		views = append(views, View{ObjectPoints: obj, ImagePoints: cam.ProjectPoints(obj, pose)})
	}
	res, err := CalibrateCamera(views, camSize, SolverFlags{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, res.CameraMatrix.At(0, 0), test.ShouldAlmostEqual, 820, 2)
}

func TestCalibrateCameraRejectsFewPoses(t *testing.T) {
	obj, err := board.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)
	cam := cameraModel(t, nil)
	view := View{ObjectPoints: obj, ImagePoints: cam.ProjectPoints(obj, boardPoses(t)[0])}

	_, err = CalibrateCamera([]View{view}, camSize, SolverFlags{})
	test.That(t, errors.Is(err, ErrInsufficientPoses), test.ShouldBeTrue)
	_, err = CalibrateCamera(nil, camSize, SolverFlags{})
	test.That(t, errors.Is(err, ErrInsufficientPoses), test.ShouldBeTrue)

	_, err = CalibrateCamera([]View{view, {ObjectPoints: obj[:3], ImagePoints: view.ImagePoints[:2]}}, camSize, SolverFlags{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolvePnP(t *testing.T) {
	cam := cameraModel(t, []float64{-0.12, 0.08})
	obj, err := board.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)
	for _, pose := range boardPoses(t) {
		got, err := SolvePnP(obj, cam.ProjectPoints(obj, pose), cam)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Rotation.Sub(pose.Rotation).Norm(), test.ShouldBeLessThan, 1e-5)
		test.That(t, got.Translation.Sub(pose.Translation).Norm(), test.ShouldBeLessThan, 1e-2)
	}

	_, err = SolvePnP(obj, nil, cam)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = SolvePnP(obj, cam.ProjectPoints(obj, boardPoses(t)[0]), nil)
	test.That(t, errors.Is(err, ErrCameraNotCalibrated), test.ShouldBeTrue)
}

func TestReconcileExtrinsics(t *testing.T) {
	pose := boardPoses(t)[1]
	ext, m, err := ReconcileExtrinsics(pose, pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ext.Rotation.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, ext.Translation.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			test.That(t, m.At(i, j), test.ShouldAlmostEqual, want, 1e-9)
		}
	}

	ext, _, err = ReconcileExtrinsics(pose, compose(projInCam, pose))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ext.Rotation.Sub(projInCam.Rotation).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, ext.Translation.Sub(projInCam.Translation).Norm(), test.ShouldBeLessThan, 1e-6)

	// an identity camera pose leaves the projector pose unchanged
	ext, m, err = ReconcileExtrinsics(spatialmath.Extrinsic{}, pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ext.Rotation.Sub(pose.Rotation).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, ext.Translation.Sub(pose.Translation).Norm(), test.ShouldBeLessThan, 1e-9)
	want := spatialmath.NewPoseMatrix(pose)
	test.That(t, mat.EqualApprox(m, want, 1e-12), test.ShouldBeTrue)
}

func TestRootMeanSquare(t *testing.T) {
	rms, err := rootMeanSquare([]float64{3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rms, test.ShouldAlmostEqual, math.Sqrt(12.5), 1e-12)

	rms, err = rootMeanSquare([]float64{-2, 2, 2, -2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rms, test.ShouldAlmostEqual, 2, 1e-12)

	_, err = rootMeanSquare(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolveProjectorCamera(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam := cameraModel(t, []float64{-0.12, 0.08})
	proj := projectorModel(t)
	poses := syntheticPoses(t, cam, proj)
	settings := SolveSettings{
		CalibrateCamera: true,
		CameraSize:      camSize,
		ProjectorSize:   projSize,
		CameraFlags:     SolverFlags{ZeroTangentDist: true, FixK3: true},
		ProjectorFlags:  SolverFlags{ZeroTangentDist: true, FixK3: true},
	}

	state, err := Solve(poses, settings, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Flags, test.ShouldResemble, Flags{CamIntrinsic: true, ProjIntrinsic: true, ProcamExtrinsic: true})
	test.That(t, state.Camera.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, state.Projector.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, state.Camera.Intrinsics.At(0, 0), test.ShouldAlmostEqual, 820, 0.5)
	test.That(t, state.Projector.Intrinsics.At(0, 0), test.ShouldAlmostEqual, 1000, 1)
	test.That(t, state.Projector.Intrinsics.At(1, 2), test.ShouldAlmostEqual, 300, 1)
	test.That(t, state.ProjExtrinsicInCamera.Rotation.Sub(projInCam.Rotation).Norm(), test.ShouldBeLessThan, 1e-3)
	test.That(t, state.ProjExtrinsicInCamera.Translation.Sub(projInCam.Translation).Norm(), test.ShouldBeLessThan, 0.5)
	test.That(t, state.Camera.Extrinsic, test.ShouldResemble, state.Camera.PoseAt(0))
	test.That(t, len(state.Projector.RotationVectors), test.ShouldEqual, len(poses))
	test.That(t, state.String(), test.ShouldContainSubstring, "projector")

	// projector only, reusing the camera of the previous run
	prior := state.Clone()
	settings.CalibrateCamera = false
	again, err := Solve(poses, settings, prior, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Camera.RMS, test.ShouldEqual, prior.Camera.RMS)
	test.That(t, again.Projector.Intrinsics.At(0, 0), test.ShouldAlmostEqual, 1000, 1)
	test.That(t, prior.Flags.ProcamExtrinsic, test.ShouldBeTrue)

	_, err = Solve(poses, settings, &State{}, logger)
	test.That(t, errors.Is(err, ErrCameraNotCalibrated), test.ShouldBeTrue)
	_, err = Solve(poses, settings, nil, logger)
	test.That(t, errors.Is(err, ErrCameraNotCalibrated), test.ShouldBeTrue)
}

func TestSolveFailureLeavesPriorUntouched(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam := cameraModel(t, nil)
	poses := syntheticPoses(t, cam, projectorModel(t))
	prior := &State{Flags: Flags{CamIntrinsic: true}, Camera: &DeviceCalibration{Size: camSize, Intrinsics: cam.GetCameraMatrix()}}
	before := prior.Clone()

	state, err := Solve(poses[:1], SolveSettings{CameraSize: camSize, ProjectorSize: projSize}, prior, logger)
	test.That(t, errors.Is(err, ErrInsufficientPoses), test.ShouldBeTrue)
	test.That(t, state, test.ShouldBeNil)
	test.That(t, prior.Flags, test.ShouldResemble, before.Flags)
	test.That(t, prior.Camera.Intrinsics, test.ShouldResemble, before.Camera.Intrinsics)
}

func TestResidualPlot(t *testing.T) {
	cam := cameraModel(t, nil)
	poses := syntheticPoses(t, cam, projectorModel(t))
	state, err := Solve(poses, SolveSettings{
		CalibrateCamera: true, CameraSize: camSize, ProjectorSize: projSize,
		CameraFlags: SolverFlags{FixK3: true}, ProjectorFlags: SolverFlags{FixK3: true},
	}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PerViewTable("camera", state.Camera), test.ShouldContainSubstring, "RMS")
	test.That(t, state.SaveResidualPlot(t.TempDir()+"/residuals.png"), test.ShouldBeNil)
}
