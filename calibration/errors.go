package calibration

import "github.com/pkg/errors"

var (
	// ErrInsufficientPoses is returned when a solve is attempted with fewer than MinPoses poses.
	ErrInsufficientPoses = errors.New("not enough poses to calibrate")
	// ErrCameraNotCalibrated is returned by a projector only calibration when no camera intrinsics
	// are available.
	ErrCameraNotCalibrated = errors.New("camera intrinsics are not calibrated")
)

// MinPoses is the smallest number of poses a solve accepts.
const MinPoses = 2

func newInsufficientPosesError(got int) error {
	return errors.Wrapf(ErrInsufficientPoses, "need at least %d, got %d", MinPoses, got)
}
