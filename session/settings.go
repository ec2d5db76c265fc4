// Package session runs a projector-camera calibration: a Machine holds the protocol state and a
// Driver connects it to a camera, a projector, an operator and a store.
package session

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/config"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/detection/chessboard"
	"go.viam.com/procam/rimage/transform"
)

// Settings is everything the Machine needs from the session parameters.
type Settings struct {
	CameraBoard      calibration.Board
	ProjectorPattern rimage.ChessboardPattern
	ProjInvert       bool
	ProjGain         int
	Traversal        calibration.Traversal
	NBoards          int
	BoardChannel     rimage.Channel
	PatternChannel   rimage.Channel
	Homography       transform.HomographyOptions
	CameraSize       image.Point
	CameraFlags      calibration.SolverFlags
	ProjectorFlags   calibration.SolverFlags
}

// NewSettings extracts the machine settings from validated parameters.
func NewSettings(cfg *config.CalibrationParameters) Settings {
	board, pattern := cfg.Channels()
	return Settings{
		CameraBoard:      cfg.CameraBoard(),
		ProjectorPattern: cfg.ProjectorPattern(),
		ProjInvert:       cfg.ProjInvert,
		ProjGain:         cfg.ProjGain,
		Traversal:        cfg.Traversal,
		NBoards:          cfg.NBoards,
		BoardChannel:     board,
		PatternChannel:   pattern,
		Homography:       cfg.HomographyOptions(),
		CameraSize:       cfg.CameraSize(),
		CameraFlags:      cfg.CamDistModel.SolverFlags(),
		ProjectorFlags:   cfg.ProjDistModel.SolverFlags(),
	}
}

func (s Settings) solveSettings(calibrateCamera bool) calibration.SolveSettings {
	return calibration.SolveSettings{
		CalibrateCamera: calibrateCamera,
		CameraSize:      s.CameraSize,
		ProjectorSize:   s.ProjectorPattern.Canvas,
		CameraFlags:     s.CameraFlags,
		ProjectorFlags:  s.ProjectorFlags,
		Homography:      s.Homography,
	}
}

// geometry is what the settings imply once for a whole session.
type geometry struct {
	objectPoints []r3.Vector
	projPoints   []r2.Point
	idealBoard   *image.Gray
}

func (s Settings) geometry() (geometry, error) {
	obj, err := s.CameraBoard.ObjectPoints(s.Traversal)
	if err != nil {
		return geometry{}, err
	}
	projPoints, err := calibration.ProjectorPoints(s.ProjectorPattern, s.ProjInvert)
	if err != nil {
		return geometry{}, err
	}
	board, err := rimage.GenerateChessboard(s.ProjectorPattern)
	if err != nil {
		return geometry{}, err
	}
	return geometry{objectPoints: obj, projPoints: projPoints, idealBoard: board}, nil
}

// Detector finds the interior corners of a chessboard in a single channel image.
type Detector interface {
	Detect(img *image.Gray, size image.Point) (chessboard.Result, error)
}

// DetectorFunc adapts a function to a Detector.
type DetectorFunc func(img *image.Gray, size image.Point) (chessboard.Result, error)

// Detect calls f.
func (f DetectorFunc) Detect(img *image.Gray, size image.Point) (chessboard.Result, error) {
	return f(img, size)
}

// ChessboardDetector is the saddle point detector.
type ChessboardDetector struct {
	Conf chessboard.DetectionConfiguration
}

// Detect runs chessboard.FindChessboardCorners.
func (d ChessboardDetector) Detect(img *image.Gray, size image.Point) (chessboard.Result, error) {
	return chessboard.FindChessboardCorners(img, size, d.Conf)
}
