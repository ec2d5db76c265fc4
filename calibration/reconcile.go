package calibration

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/spatialmath"
)

// ReconcileExtrinsics expresses the projector pose relative to the camera from the poses of the
// same board in both device frames: T = T_proj · T_cam⁻¹. T maps camera coordinates to projector
// coordinates. It returns both the rotation/translation vector form and the 4x4 matrix.
func ReconcileExtrinsics(cam, proj spatialmath.Extrinsic) (spatialmath.Extrinsic, *mat.Dense, error) {
	camInv, err := spatialmath.InvertPoseMatrix(spatialmath.NewPoseMatrix(cam))
	if err != nil {
		return spatialmath.Extrinsic{}, nil, errors.Wrap(err, "camera extrinsic")
	}
	var rel mat.Dense
	rel.Mul(spatialmath.NewPoseMatrix(proj), camInv)
	ext, err := spatialmath.ExtrinsicFromPoseMatrix(&rel)
	if err != nil {
		return spatialmath.Extrinsic{}, nil, err
	}
	return ext, &rel, nil
}
