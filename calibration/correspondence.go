package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/utils"
)

// SynthesizeProjectorPixels maps each projector board point through projToProj into the projector
// image. These are the projector pixels that end up lit on the physical board corners.
func SynthesizeProjectorPixels(projToProj transform.Homography, projPoints []r2.Point) []r2.Point {
	return projToProj.ApplyAll(projPoints)
}

// PairWithCameraGrid selects, for each corner (r, c) of the projector grid, the camera corner
// (r, c). The projector grid must fit inside the camera grid.
func PairWithCameraGrid(projGrid, camGrid image.Point, camCorners []r2.Point) ([]r2.Point, error) {
	if len(camCorners) != camGrid.X*camGrid.Y {
		return nil, utils.NewDimensionMismatchError("camera corners", camGrid.X*camGrid.Y, len(camCorners))
	}
	if projGrid.X > camGrid.X || projGrid.Y > camGrid.Y {
		return nil, errors.Errorf("projector grid %v does not fit in camera grid %v", projGrid, camGrid)
	}
	out := make([]r2.Point, 0, projGrid.X*projGrid.Y)
	for r := 0; r < projGrid.Y; r++ {
		for c := 0; c < projGrid.X; c++ {
			out = append(out, camCorners[r*camGrid.X+c])
		}
	}
	return out, nil
}

// ProjectorToCamera estimates the homography that places the projector board corners onto the
// physical board corners seen by the camera.
func ProjectorToCamera(
	projPoints []r2.Point, projGrid image.Point,
	camCorners []r2.Point, camGrid image.Point,
	opts transform.HomographyOptions,
) (transform.Homography, error) {
	targets, err := PairWithCameraGrid(projGrid, camGrid, camCorners)
	if err != nil {
		return transform.Homography{}, err
	}
	return transform.EstimateHomographyWithOptions(projPoints, targets, opts)
}

// ProjectorToProjector composes camToProj after projToCam. The result warps the ideal projector
// chessboard so that, once projected, its corners land on the physical board corners.
func ProjectorToProjector(camToProj, projToCam transform.Homography) transform.Homography {
	return camToProj.Mul(projToCam)
}

// ProjectorObjectPoints locates the projected corners on the physical board plane. Both the board
// corners and the projected corners are undistorted with the camera model, the undistorted camera
// to board homography is estimated from the board corners, and the projected corners are mapped
// through it onto z = 0.
func ProjectorObjectPoints(
	cam *transform.PinholeCameraModel,
	camCorners []r2.Point,
	objectPoints []r3.Vector,
	projCornersInCamera []r2.Point,
	opts transform.HomographyOptions,
) ([]r3.Vector, error) {
	if cam == nil {
		return nil, ErrCameraNotCalibrated
	}
	boardXY, err := planarXY(objectPoints)
	if err != nil {
		return nil, err
	}
	camToBoard, err := transform.EstimateHomographyWithOptions(cam.UndistortPoints(camCorners), boardXY, opts)
	if err != nil {
		return nil, errors.Wrap(err, "estimating camera to board homography")
	}
	onBoard := camToBoard.ApplyAll(cam.UndistortPoints(projCornersInCamera))
	out := make([]r3.Vector, len(onBoard))
	for i, p := range onBoard {
		out[i] = r3.Vector{X: p.X, Y: p.Y}
	}
	return out, nil
}
