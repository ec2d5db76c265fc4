package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

// Flags record which parts of the calibration are usable.
type Flags struct {
	CamIntrinsic    bool `json:"cam_intrinsic"`
	ProjIntrinsic   bool `json:"proj_intrinsic"`
	ProcamExtrinsic bool `json:"procam_extrinsic"`
}

// DeviceCalibration is the calibrated model of one device (camera or projector) and the poses of
// the board it was calibrated from.
type DeviceCalibration struct {
	Size       image.Point
	Intrinsics *mat.Dense
	// Distortion is [k1, k2, p1, p2, k3].
	Distortion         []float64
	RotationVectors    []r3.Vector
	TranslationVectors []r3.Vector
	// RotationMatrix is the rotation of the reference (last) pose.
	RotationMatrix *mat.Dense
	// Extrinsic is the board pose of the first view.
	Extrinsic spatialmath.Extrinsic
	RMS       float64

	PerViewRMS   []float64
	Residuals    [][]r2.Point
	ObjectPoints [][]r3.Vector
	ImagePoints  [][]r2.Point
}

// Model returns the pinhole camera model of the device.
func (d *DeviceCalibration) Model() (*transform.PinholeCameraModel, error) {
	if d == nil || d.Intrinsics == nil {
		return nil, transform.NewNoIntrinsicsError("device is not calibrated")
	}
	return transform.NewPinholeCameraModel(d.Intrinsics, d.Distortion, d.Size)
}

// PoseAt returns the board pose of view i.
func (d *DeviceCalibration) PoseAt(i int) spatialmath.Extrinsic {
	return spatialmath.Extrinsic{Rotation: d.RotationVectors[i], Translation: d.TranslationVectors[i]}
}

func newDeviceCalibration(res IntrinsicResult, views []View) *DeviceCalibration {
	d := &DeviceCalibration{
		Size:         res.Size,
		Intrinsics:   res.CameraMatrix,
		Distortion:   res.Distortion,
		RMS:          res.RMS,
		PerViewRMS:   res.PerViewRMS,
		Residuals:    res.Residuals,
		ObjectPoints: make([][]r3.Vector, len(views)),
		ImagePoints:  make([][]r2.Point, len(views)),
	}
	for i, v := range views {
		d.ObjectPoints[i] = v.ObjectPoints
		d.ImagePoints[i] = v.ImagePoints
	}
	d.setPoses(res.Extrinsics)
	return d
}

func (d *DeviceCalibration) setPoses(exts []spatialmath.Extrinsic) {
	d.RotationVectors = make([]r3.Vector, len(exts))
	d.TranslationVectors = make([]r3.Vector, len(exts))
	for i, ext := range exts {
		d.RotationVectors[i] = ext.Rotation
		d.TranslationVectors[i] = ext.Translation
	}
	if len(exts) == 0 {
		return
	}
	d.Extrinsic = exts[0]
	d.RotationMatrix = spatialmath.RotationVectorToMatrix(exts[len(exts)-1].Rotation)
}

func (d *DeviceCalibration) clone() *DeviceCalibration {
	if d == nil {
		return nil
	}
	out := *d
	if d.Intrinsics != nil {
		out.Intrinsics = mat.DenseCopyOf(d.Intrinsics)
	}
	if d.RotationMatrix != nil {
		out.RotationMatrix = mat.DenseCopyOf(d.RotationMatrix)
	}
	out.Distortion = append([]float64(nil), d.Distortion...)
	out.RotationVectors = append([]r3.Vector(nil), d.RotationVectors...)
	out.TranslationVectors = append([]r3.Vector(nil), d.TranslationVectors...)
	out.PerViewRMS = append([]float64(nil), d.PerViewRMS...)
	return &out
}

// State is the full result of a projector-camera calibration.
type State struct {
	Camera    *DeviceCalibration
	Projector *DeviceCalibration
	// ProjExtrinsicInCamera maps camera coordinates to projector coordinates.
	ProjExtrinsicInCamera spatialmath.Extrinsic
	ProjExtrinsic4x4      *mat.Dense
	Flags                 Flags
}

// Clone returns a copy of the state that shares no mutable data with s.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	out := *s
	out.Camera = s.Camera.clone()
	out.Projector = s.Projector.clone()
	if s.ProjExtrinsic4x4 != nil {
		out.ProjExtrinsic4x4 = mat.DenseCopyOf(s.ProjExtrinsic4x4)
	}
	return &out
}

// CameraModel returns the calibrated camera model, or ErrCameraNotCalibrated.
func (s *State) CameraModel() (*transform.PinholeCameraModel, error) {
	if s == nil || !s.Flags.CamIntrinsic {
		return nil, ErrCameraNotCalibrated
	}
	return s.Camera.Model()
}
