package transform

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/rimage"
)

// ErrDegenerateHomography is returned by conditioning checks when the correspondences, or the
// homography built from them, are numerically degenerate.
var ErrDegenerateHomography = errors.New("degenerate homography")

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// NewHomography creates a Homography from a row major slice of 9 values.
func NewHomography(vals []float64) (Homography, error) {
	if len(vals) != 9 {
		return Homography{}, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return h, nil
}

// IdentityHomography returns the homography that maps every point onto itself.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// HomographyFromMatrix copies a 3x3 matrix into a Homography.
func HomographyFromMatrix(m mat.Matrix) (Homography, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return Homography{}, errors.Errorf("homography must be 3x3, got %dx%d", r, c)
	}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return h, nil
}

// At returns the value at (row, col).
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Matrix returns the homography as a dense matrix.
func (h Homography) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// ApplyHomogeneous multiplies a homogeneous point by the homography without normalizing it.
func (h Homography) ApplyHomogeneous(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: h[0][0]*v.X + h[0][1]*v.Y + h[0][2]*v.Z,
		Y: h[1][0]*v.X + h[1][1]*v.Y + h[1][2]*v.Z,
		Z: h[2][0]*v.X + h[2][1]*v.Y + h[2][2]*v.Z,
	}
}

// Apply maps a point through the homography, normalizing by the third homogeneous component.
// Points mapped to infinity come out non finite.
func (h Homography) Apply(pt r2.Point) r2.Point {
	v := h.ApplyHomogeneous(r3.Vector{X: pt.X, Y: pt.Y, Z: 1})
	return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}
}

// ApplyAll maps every point through the homography.
func (h Homography) ApplyAll(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = h.Apply(pt)
	}
	return out
}

// Mul returns the composition h·other: other is applied first.
func (h Homography) Mul(other Homography) Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += h[i][k] * other[k][j]
			}
		}
	}
	return out
}

// Inverse returns the inverse mapping, normalized so that its last element is one when possible.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Matrix()); err != nil {
		return Homography{}, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	out, err := HomographyFromMatrix(&inv)
	if err != nil {
		return Homography{}, err
	}
	return out.Normalized(), nil
}

// Normalized scales the homography so that its bottom right element is one. A homography with a
// vanishing bottom right element is scaled to unit Frobenius norm instead.
func (h Homography) Normalized() Homography {
	scale := h[2][2]
	if scale > -1e-12 && scale < 1e-12 {
		scale = mat.Norm(h.Matrix(), 2)
		if scale == 0 {
			return h
		}
	}
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = h[i][j] / scale
		}
	}
	return out
}

// WarpGray renders src as seen through the homography onto a dstSize canvas: the destination pixel
// p takes the bilinear sample of src at h⁻¹·p. Pixels mapping outside of src take the fill value.
func (h Homography) WarpGray(src image.Image, dstSize image.Point, fill uint8) (*image.Gray, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}
	return rimage.WarpPerspectiveGray(src, dstSize, func(x, y float64) (float64, float64) {
		p := inv.Apply(r2.Point{X: x, Y: y})
		return p.X, p.Y
	}, fill), nil
}
