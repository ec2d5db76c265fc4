package transform

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage"
	"go.viam.com/procam/spatialmath"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, "%s", msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy out of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, size image.Point) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	params := &PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToNormalized removes the camera matrix from a pixel.
func (params *PinholeCameraIntrinsics) PixelToNormalized(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - params.Ppx) / params.Fx, Y: (p.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel applies the camera matrix to a normalized image point.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(p r2.Point) r2.Point {
	return r2.Point{X: p.X*params.Fx + params.Ppx, Y: p.Y*params.Fy + params.Ppy}
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion"`
}

// NewPinholeCameraModel builds a model from a 3x3 camera matrix and a [k1, k2, p1, p2, k3]
// distortion vector.
func NewPinholeCameraModel(k mat.Matrix, distortion []float64, size image.Point) (*PinholeCameraModel, error) {
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, size)
	if err != nil {
		return nil, err
	}
	bc, err := NewBrownConrady(distortion)
	if err != nil {
		return nil, err
	}
	return &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: bc}, nil
}

// ProjectPoints maps object points, expressed in a frame placed relative to the camera by ext,
// into distorted pixel coordinates.
func (params *PinholeCameraModel) ProjectPoints(points []r3.Vector, ext spatialmath.Extrinsic) []r2.Point {
	rot := spatialmath.RotationVectorToMatrix(ext.Rotation)
	out := make([]r2.Point, len(points))
	for i, p := range points {
		x := rot.At(0, 0)*p.X + rot.At(0, 1)*p.Y + rot.At(0, 2)*p.Z + ext.Translation.X
		y := rot.At(1, 0)*p.X + rot.At(1, 1)*p.Y + rot.At(1, 2)*p.Z + ext.Translation.Y
		z := rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + rot.At(2, 2)*p.Z + ext.Translation.Z
		out[i] = params.ProjectNormalized(r2.Point{X: x / z, Y: y / z})
	}
	return out
}

// ProjectNormalized distorts an undistorted normalized point and applies the camera matrix.
func (params *PinholeCameraModel) ProjectNormalized(p r2.Point) r2.Point {
	xd, yd := params.Distortion.Transform(p.X, p.Y)
	return params.NormalizedToPixel(r2.Point{X: xd, Y: yd})
}

// UndistortPoints maps distorted pixels to undistorted normalized image coordinates.
func (params *PinholeCameraModel) UndistortPoints(pixels []r2.Point) []r2.Point {
	inverse := params.Distortion.Inverse()
	out := make([]r2.Point, len(pixels))
	for i, px := range pixels {
		n := params.PixelToNormalized(px)
		out[i].X, out[i].Y = inverse.Transform(n.X, n.Y)
	}
	return out
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		p := params.ProjectNormalized(params.PixelToNormalized(r2.Point{X: u, Y: v}))
		return p.X, p.Y
	}
}

// UndistortGray resamples a frame taken by this camera as an ideal distortion free pinhole camera
// with the same camera matrix would have seen it.
func (params *PinholeCameraModel) UndistortGray(img image.Image) (*image.Gray, error) {
	if size := img.Bounds().Size(); size.X != params.Width || size.Y != params.Height {
		return nil, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			size.X, size.Y, params.Width, params.Height)
	}
	return rimage.WarpPerspectiveGray(img, image.Point{params.Width, params.Height}, params.DistortionMap(), 0), nil
}
