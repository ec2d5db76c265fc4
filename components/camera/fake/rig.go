package fake

import (
	"image"

	"github.com/golang/geo/r3"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
)

// nominal rig, for a board whose interior spans 210 mm seen from 620 mm
const nominalDistance = 620.0

var (
	poseRotations = []r3.Vector{
		{X: 0.25},
		{Y: 0.3, Z: 0.05},
		{X: -0.2, Y: 0.2},
		{X: 0.15, Y: -0.25, Z: 0.05},
		{X: 0.05, Y: 0.1, Z: -0.15},
		{X: -0.1, Y: -0.15, Z: 0.1},
	}
	poseCenters = []r3.Vector{
		{Z: 620},
		{X: 15, Y: -10, Z: 650},
		{X: -20, Y: 15, Z: 600},
		{X: 10, Y: 20, Z: 660},
		{X: -10, Y: -15, Z: 630},
		{X: 20, Y: 10, Z: 610},
	}
)

// RigConfig builds a plausible rig for the given resolutions and board: a slightly distorted
// camera, a projector beside it with its lens shifted down and turned toward the board, and six
// tilted board poses filling about 40% of the camera's width.
func RigConfig(camSize, projSize image.Point, board calibration.Board) (SceneConfig, error) {
	camK := &transform.PinholeCameraIntrinsics{
		Width:  camSize.X,
		Height: camSize.Y,
		Fx:     1.08 * float64(camSize.X),
		Fy:     1.08 * float64(camSize.X),
		Ppx:    float64(camSize.X-1)/2 + 1.5,
		Ppy:    float64(camSize.Y-1)/2 + 1,
	}
	cam, err := transform.NewPinholeCameraModel(camK.GetCameraMatrix(), []float64{-0.05}, camSize)
	if err != nil {
		return SceneConfig{}, err
	}
	projK := &transform.PinholeCameraIntrinsics{
		Width:  projSize.X,
		Height: projSize.Y,
		Fx:     1.4 * float64(projSize.X),
		Fy:     1.4 * float64(projSize.X),
		Ppx:    float64(projSize.X-1) / 2,
		Ppy:    0.52 * float64(projSize.Y),
	}
	proj, err := transform.NewPinholeCameraModel(projK.GetCameraMatrix(), []float64{0.02}, projSize)
	if err != nil {
		return SceneConfig{}, err
	}

	span := board.CellWidthMM * float64(board.Corners.X-1)
	distance := camK.Fx * span / (0.37 * float64(camSize.X))
	scale := distance / nominalDistance

	// projector center 110 mm right of and 10 mm below the camera, rotated toward the board
	projRot := r3.Vector{Y: 0.17}
	projCenter := r3.Vector{X: 110 * scale, Y: 10 * scale}
	rotated := spatialmath.Extrinsic{Rotation: projRot}.TransformPoint(projCenter)

	boardCenter := r3.Vector{
		X: board.CellWidthMM * float64(board.Corners.X-1) / 2,
		Y: board.CellHeightMM * float64(board.Corners.Y-1) / 2,
	}
	poses := make([]spatialmath.Extrinsic, len(poseRotations))
	for i, rvec := range poseRotations {
		center := poseCenters[i].Mul(scale)
		offset := spatialmath.Extrinsic{Rotation: rvec}.TransformPoint(boardCenter)
		poses[i] = spatialmath.Extrinsic{Rotation: rvec, Translation: center.Sub(offset)}
	}

	return SceneConfig{
		Camera:       cam,
		Projector:    proj,
		ProjInCam:    spatialmath.Extrinsic{Rotation: projRot, Translation: rotated.Mul(-1)},
		Board:        board,
		Poses:        poses,
		WallDistance: 650 * scale,
		Ambient:      0.15,
		Paper:        Paper,
		Ink:          CyanInk,
		Wall:         Paper,
		Supersample:  2,
	}, nil
}
