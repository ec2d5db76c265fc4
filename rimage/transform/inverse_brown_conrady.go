package transform

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method.
type InverseBrownConrady struct {
	Forward *BrownConrady `json:"forward"`
}

const (
	inverseMaxIterations = 20
	inverseTolerance     = 1e-12
)

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil || ibc.Forward == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.Forward.CheckValid()
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the forward model.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return (*BrownConrady)(nil).Parameters()
	}
	return ibc.Forward.Parameters()
}

// Transform solves Forward.Transform(x_u, y_u) = (x_d, y_d) for the undistorted point, starting
// from the distorted point itself.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil || ibc.Forward == nil {
		return xd, yd
	}
	xu, yu := xd, yd
	for i := 0; i < inverseMaxIterations; i++ {
		xEst, yEst := ibc.Forward.Transform(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < inverseTolerance*inverseTolerance {
			break
		}
		a, b, c, d := ibc.Forward.jacobian(xu, yu)
		det := a*d - b*c
		if det == 0 {
			break
		}
		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (d*errX - b*errY) / det
		yu -= (-c*errX + a*errY) / det
	}
	return xu, yu
}
