package transform

import (
	"math"

	"github.com/pkg/errors"
)

// NumDistortionCoefficients is the length of a distortion vector [k1, k2, p1, p2, k3].
const NumDistortionCoefficients = 5

// BrownConrady is the radial (k1, k2, k3) and tangential (p1, p2) lens distortion model. It maps
// undistorted normalized coordinates to distorted ones:
//
//	x_d = x(1 + k1r² + k2r⁴ + k3r⁶) + 2p1xy + p2(r² + 2x²)
//	y_d = y(1 + k1r² + k2r⁴ + k3r⁶) + p1(r² + 2y²) + 2p2xy
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady builds the model from a distortion vector in [k1, k2, p1, p2, k3] order. Missing
// trailing coefficients are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > NumDistortionCoefficients {
		return nil, errors.Errorf("list of parameters too long, expected max %d, got %d", NumDistortionCoefficients, len(inp))
	}
	coeffs := make([]float64, NumDistortionCoefficients)
	copy(coeffs, inp)
	bc := &BrownConrady{
		RadialK1:     coeffs[0],
		RadialK2:     coeffs[1],
		TangentialP1: coeffs[2],
		TangentialP2: coeffs[3],
		RadialK3:     coeffs[4],
	}
	return bc, bc.CheckValid()
}

// CheckValid checks that the model exists and has finite coefficients.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, v := range bc.Parameters() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidDistortionError("BrownConrady coefficients must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the coefficients in [k1, k2, p1, p2, k3] order.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return make([]float64, NumDistortionCoefficients)
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts a normalized point.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// jacobian returns the partial derivatives of Transform at (x, y).
func (bc *BrownConrady) jacobian(x, y float64) (dxdx, dxdy, dydx, dydy float64) {
	r2 := x*x + y*y
	r4 := r2 * r2
	radial := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r4*r2
	dRadial := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r4
	dRadialDx := 2 * x * dRadial
	dRadialDy := 2 * y * dRadial

	dxdx = radial + x*dRadialDx + 2*bc.TangentialP1*y + 6*bc.TangentialP2*x
	dxdy = x*dRadialDy + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydx = y*dRadialDx + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydy = radial + y*dRadialDy + 6*bc.TangentialP1*y + 2*bc.TangentialP2*x
	return dxdx, dxdy, dydx, dydy
}

// Inverse returns the model that removes this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	return &InverseBrownConrady{Forward: bc}
}
