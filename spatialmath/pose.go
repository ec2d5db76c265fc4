package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Extrinsic is a rigid transform stored the way calibration results are persisted: a rotation
// vector and a translation vector.
type Extrinsic struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// NewPoseMatrix builds the 4x4 homogeneous transform [R t; 0 0 0 1] of an extrinsic.
func NewPoseMatrix(ext Extrinsic) *mat.Dense {
	rot := RotationVectorToMatrix(ext.Rotation)
	pose := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			pose.Set(i, j, rot.At(i, j))
		}
	}
	pose.Set(0, 3, ext.Translation.X)
	pose.Set(1, 3, ext.Translation.Y)
	pose.Set(2, 3, ext.Translation.Z)
	pose.Set(3, 3, 1)
	return pose
}

// InvertPoseMatrix inverts a 4x4 homogeneous transform.
func InvertPoseMatrix(pose mat.Matrix) (*mat.Dense, error) {
	if r, c := pose.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("pose must be 4x4, got %dx%d", r, c)
	}
	var inv mat.Dense
	if err := inv.Inverse(pose); err != nil {
		return nil, errors.Wrap(err, "pose is not invertible")
	}
	return &inv, nil
}

// ExtrinsicFromPoseMatrix decomposes a 4x4 homogeneous transform back into rotation and translation vectors.
func ExtrinsicFromPoseMatrix(pose mat.Matrix) (Extrinsic, error) {
	if r, c := pose.Dims(); r != 4 || c != 4 {
		return Extrinsic{}, errors.Errorf("pose must be 4x4, got %dx%d", r, c)
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	rvec, err := MatrixToRotationVector(rot)
	if err != nil {
		return Extrinsic{}, err
	}
	return Extrinsic{
		Rotation:    rvec,
		Translation: r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)},
	}, nil
}

// TransformPoint applies the extrinsic to a point: R*p + t.
func (ext Extrinsic) TransformPoint(p r3.Vector) r3.Vector {
	rot := RotationVectorToMatrix(ext.Rotation)
	return r3.Vector{
		X: rot.At(0, 0)*p.X + rot.At(0, 1)*p.Y + rot.At(0, 2)*p.Z + ext.Translation.X,
		Y: rot.At(1, 0)*p.X + rot.At(1, 1)*p.Y + rot.At(1, 2)*p.Z + ext.Translation.Y,
		Z: rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + rot.At(2, 2)*p.Z + ext.Translation.Z,
	}
}

// AsRows returns the 2x3 storage layout: rotation vector row then translation vector row.
func (ext Extrinsic) AsRows() *mat.Dense {
	return mat.NewDense(2, 3, []float64{
		ext.Rotation.X, ext.Rotation.Y, ext.Rotation.Z,
		ext.Translation.X, ext.Translation.Y, ext.Translation.Z,
	})
}

// ExtrinsicFromRows is the inverse of AsRows.
func ExtrinsicFromRows(m mat.Matrix) (Extrinsic, error) {
	if r, c := m.Dims(); r != 2 || c != 3 {
		return Extrinsic{}, errors.Errorf("extrinsic must be 2x3, got %dx%d", r, c)
	}
	return Extrinsic{
		Rotation:    r3.Vector{X: m.At(0, 0), Y: m.At(0, 1), Z: m.At(0, 2)},
		Translation: r3.Vector{X: m.At(1, 0), Y: m.At(1, 1), Z: m.At(1, 2)},
	}, nil
}
