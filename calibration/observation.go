package calibration

import (
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/utils"
)

// View pairs known object points with their observed image points for one pose of one device.
type View struct {
	ObjectPoints []r3.Vector
	ImagePoints  []r2.Point
}

// Validate checks that the view has matching, non empty point lists on the z = 0 plane.
func (v View) Validate() error {
	if len(v.ObjectPoints) == 0 {
		return errors.New("view has no points")
	}
	if len(v.ObjectPoints) != len(v.ImagePoints) {
		return utils.NewDimensionMismatchError("view image points", len(v.ObjectPoints), len(v.ImagePoints))
	}
	_, err := planarXY(v.ObjectPoints)
	return err
}

// PoseObservation is everything recorded for one accepted board pose.
type PoseObservation struct {
	// CamCorners are the physical board corners detected in the camera image.
	CamCorners []r2.Point
	// ObjectPoints are the physical board corners in millimeters, same order as CamCorners.
	ObjectPoints []r3.Vector
	// ProjCornersInCamera are the projected board corners detected in the difference image.
	ProjCornersInCamera []r2.Point
	// ProjPixels are the projector pixels that were displayed at ProjCornersInCamera.
	ProjPixels []r2.Point
	// ProjToProj warped the ideal projector chessboard for this pose.
	ProjToProj transform.Homography
}

// Validate checks the internal consistency of the observation.
func (p PoseObservation) Validate() error {
	if err := p.CameraView().Validate(); err != nil {
		return errors.Wrap(err, "camera view")
	}
	if len(p.ProjCornersInCamera) == 0 {
		return errors.New("observation has no projector corners")
	}
	if len(p.ProjCornersInCamera) != len(p.ProjPixels) {
		return utils.NewDimensionMismatchError("projector pixels", len(p.ProjCornersInCamera), len(p.ProjPixels))
	}
	return nil
}

// CameraView returns the camera correspondences of the pose.
func (p PoseObservation) CameraView() View {
	return View{ObjectPoints: p.ObjectPoints, ImagePoints: p.CamCorners}
}

// ObservationSet is the append only, ordered list of accepted poses of a session.
type ObservationSet struct {
	mu    sync.Mutex
	poses []PoseObservation
}

// Append validates and adds a pose.
func (s *ObservationSet) Append(p PoseObservation) error {
	if err := p.Validate(); err != nil {
		return errors.Wrap(err, "invalid pose observation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poses = append(s.poses, p)
	return nil
}

// Len returns the number of accepted poses.
func (s *ObservationSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.poses)
}

// Poses returns a copy of the accepted poses in acceptance order.
func (s *ObservationSet) Poses() []PoseObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PoseObservation, len(s.poses))
	copy(out, s.poses)
	return out
}
