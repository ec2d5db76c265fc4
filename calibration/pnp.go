package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

// SolvePnP finds the pose of a planar target from its image with fixed intrinsics. The initial
// pose comes from the homography between the board and the undistorted normalized image points;
// it is then refined by minimizing the pixel reprojection error.
func SolvePnP(objectPoints []r3.Vector, imagePoints []r2.Point, cam *transform.PinholeCameraModel) (spatialmath.Extrinsic, error) {
	if cam == nil {
		return spatialmath.Extrinsic{}, ErrCameraNotCalibrated
	}
	view := View{ObjectPoints: objectPoints, ImagePoints: imagePoints}
	if err := view.Validate(); err != nil {
		return spatialmath.Extrinsic{}, err
	}
	if len(objectPoints) < minViewPoints {
		return spatialmath.Extrinsic{}, errors.Errorf("need at least %d points for PnP, got %d", minViewPoints, len(objectPoints))
	}
	boardXY, err := planarXY(objectPoints)
	if err != nil {
		return spatialmath.Extrinsic{}, err
	}
	h, err := transform.EstimateHomography(boardXY, cam.UndistortPoints(imagePoints))
	if err != nil {
		return spatialmath.Extrinsic{}, errors.Wrap(err, "estimating board homography")
	}
	initial, err := poseFromHomography(pinholeParams{1, 1, 0, 0}, h)
	if err != nil {
		return spatialmath.Extrinsic{}, err
	}

	x0 := []float64{
		initial.Rotation.X, initial.Rotation.Y, initial.Rotation.Z,
		initial.Translation.X, initial.Translation.Y, initial.Translation.Z,
	}
	res, err := levenbergMarquardt(func(dst, x []float64) {
		projected := cam.ProjectPoints(objectPoints, extrinsicAt(x, 0))
		for j, p := range projected {
			dst[2*j] = p.X - imagePoints[j].X
			dst[2*j+1] = p.Y - imagePoints[j].Y
		}
	}, 2*len(objectPoints), x0, defaultLMSettings)
	if err != nil {
		return spatialmath.Extrinsic{}, errors.Wrap(err, "refining pose")
	}
	return extrinsicAt(res.X, 0), nil
}
