package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

// SolveSettings configures Solve.
type SolveSettings struct {
	// CalibrateCamera solves the camera model from the poses. When false the camera intrinsics of the
	// prior state are used and only the camera poses are recovered.
	CalibrateCamera bool
	CameraSize      image.Point
	ProjectorSize   image.Point
	CameraFlags     SolverFlags
	ProjectorFlags  SolverFlags
	Homography      transform.HomographyOptions
}

// Solve calibrates the projector, and the camera when requested, from the accepted poses and
// reconciles the projector pose relative to the camera using the last pose as the reference. The
// result is a new state with every flag set; prior is only read.
func Solve(poses []PoseObservation, settings SolveSettings, prior *State, logger logging.Logger) (*State, error) {
	if len(poses) < MinPoses {
		return nil, newInsufficientPosesError(len(poses))
	}
	camViews := make([]View, len(poses))
	for i, p := range poses {
		if err := p.Validate(); err != nil {
			return nil, errors.Wrapf(err, "pose %d", i)
		}
		camViews[i] = p.CameraView()
	}

	camera, err := solveCamera(camViews, settings, prior, logger)
	if err != nil {
		return nil, err
	}
	camModel, err := camera.Model()
	if err != nil {
		return nil, err
	}

	projViews := make([]View, len(poses))
	for i, p := range poses {
		obj, err := ProjectorObjectPoints(camModel, p.CamCorners, p.ObjectPoints, p.ProjCornersInCamera, settings.Homography)
		if err != nil {
			return nil, errors.Wrapf(err, "projector object points of pose %d", i)
		}
		projViews[i] = View{ObjectPoints: obj, ImagePoints: p.ProjPixels}
	}
	projRes, err := CalibrateCamera(projViews, settings.ProjectorSize, settings.ProjectorFlags)
	if err != nil {
		return nil, errors.Wrap(err, "calibrating projector")
	}
	logger.Infow("projector calibrated", "rms", projRes.RMS, "iterations", projRes.Iterations)
	projector := newDeviceCalibration(projRes, projViews)

	ref := len(poses) - 1
	rel, rel4x4, err := ReconcileExtrinsics(camera.PoseAt(ref), projector.PoseAt(ref))
	if err != nil {
		return nil, errors.Wrap(err, "reconciling extrinsics")
	}
	logger.Debugw("projector pose in camera frame", "rvec", rel.Rotation, "tvec", rel.Translation)

	return &State{
		Camera:                camera,
		Projector:             projector,
		ProjExtrinsicInCamera: rel,
		ProjExtrinsic4x4:      rel4x4,
		Flags:                 Flags{CamIntrinsic: true, ProjIntrinsic: true, ProcamExtrinsic: true},
	}, nil
}

func solveCamera(views []View, settings SolveSettings, prior *State, logger logging.Logger) (*DeviceCalibration, error) {
	if settings.CalibrateCamera {
		res, err := CalibrateCamera(views, settings.CameraSize, settings.CameraFlags)
		if err != nil {
			return nil, errors.Wrap(err, "calibrating camera")
		}
		logger.Infow("camera calibrated", "rms", res.RMS, "iterations", res.Iterations)
		return newDeviceCalibration(res, views), nil
	}

	model, err := prior.CameraModel()
	if err != nil {
		return nil, err
	}
	camera := prior.Camera.clone()
	exts := make([]spatialmath.Extrinsic, len(views))
	for i, v := range views {
		if exts[i], err = SolvePnP(v.ObjectPoints, v.ImagePoints, model); err != nil {
			return nil, errors.Wrapf(err, "camera pose of view %d", i)
		}
	}
	camera.setPoses(exts)
	camera.ObjectPoints = make([][]r3.Vector, len(views))
	camera.ImagePoints = make([][]r2.Point, len(views))
	for i, v := range views {
		camera.ObjectPoints[i] = v.ObjectPoints
		camera.ImagePoints[i] = v.ImagePoints
	}
	// RMS stays the one of the intrinsic calibration; the per view errors describe these poses
	if camera.Residuals, camera.PerViewRMS, _, err = reprojectionErrors(model, views, exts); err != nil {
		return nil, err
	}
	logger.Infow("camera poses recovered with loaded intrinsics", "poses", len(views))
	return camera, nil
}
