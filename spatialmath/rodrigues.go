package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToRotationMatrix returns the 3x3 rotation matrix of a unit quaternion.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationVectorToMatrix expands a rotation vector (axis scaled by angle) into a rotation matrix.
func RotationVectorToMatrix(rvec r3.Vector) *mat.Dense {
	return QuatToRotationMatrix(R3ToR4(rvec).ToQuat())
}

// MatrixToRotationVector returns the rotation vector of a 3x3 rotation matrix. The input is first
// projected onto the closest orthonormal matrix so slightly noisy rotations are accepted.
func MatrixToRotationVector(m mat.Matrix) (r3.Vector, error) {
	rows, cols := m.Dims()
	if rows != 3 || cols != 3 {
		return r3.Vector{}, errors.Errorf("rotation matrix must be 3x3, got %dx%d", rows, cols)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return r3.Vector{}, errors.New("failed to factorize rotation matrix")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())

	rx := rot.At(2, 1) - rot.At(1, 2)
	ry := rot.At(0, 2) - rot.At(2, 0)
	rz := rot.At(1, 0) - rot.At(0, 1)
	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := math.Max(math.Min((mat.Trace(&rot)-1)*0.5, 1), -1)
	theta := math.Acos(c)

	switch {
	case s < 1e-5 && c > 0:
		// small angle, sin(theta) ~ theta
		return r3.Vector{X: rx * 0.5, Y: ry * 0.5, Z: rz * 0.5}, nil
	case s < 1e-5:
		// theta ~ pi: the axis comes from the symmetric part
		t := func(i int) float64 { return (rot.At(i, i) + 1) * 0.5 }
		ax := math.Sqrt(math.Max(t(0), 0))
		ay := math.Sqrt(math.Max(t(1), 0))
		az := math.Sqrt(math.Max(t(2), 0))
		if rot.At(0, 1) < 0 {
			ay = -ay
		}
		if rot.At(0, 2) < 0 {
			az = -az
		}
		if math.Abs(ax) < math.Abs(ay) && math.Abs(ax) < math.Abs(az) && (rot.At(1, 2) > 0) != (ay*az > 0) {
			az = -az
		}
		axis := r3.Vector{X: ax, Y: ay, Z: az}.Normalize()
		return axis.Mul(theta), nil
	default:
		scale := theta / (2 * s)
		return r3.Vector{X: rx * scale, Y: ry * scale, Z: rz * scale}, nil
	}
}
