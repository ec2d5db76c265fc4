// Package config holds the parameters of a calibration session and reads them from JSON files.
package config

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/transform"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid calibration config")

// DistortionModel enables the optional parts of the Brown-Conrady model.
type DistortionModel struct {
	Tangential bool `json:"tangential"`
	SixthOrder bool `json:"sixth_order"`
}

// SolverFlags converts the model into the solver's fixed parameter flags.
func (d DistortionModel) SolverFlags() calibration.SolverFlags {
	return calibration.SolverFlags{ZeroTangentDist: !d.Tangential, FixK3: !d.SixthOrder}
}

// Camera source backends.
const (
	SourceSynthetic = "synthetic"
	SourceDirectory = "directory"
	SourceWebcam    = "webcam"
)

// Projector sink backends.
const (
	SinkFile      = "file"
	SinkSynthetic = "synthetic"
)

// DeviceConfig selects a camera or projector backend.
type DeviceConfig struct {
	Type string `json:"type"`
	// Path is the image directory of a directory source, or the output directory of a file sink.
	Path string `json:"path,omitempty"`
	// Label selects a webcam by its label; empty picks the first one.
	Label string `json:"label,omitempty"`
}

// CalibrationParameters configures a calibration session.
type CalibrationParameters struct {
	OutputDir  string `json:"output_dir"`
	Object     string `json:"object"`
	SaveImages bool   `json:"save"`

	CamWidth     int             `json:"cam_w"`
	CamHeight    int             `json:"cam_h"`
	CamGain      int             `json:"cam_gain"`
	CamDistModel DistortionModel `json:"cam_dist_model"`
	CamBoardW    int             `json:"cam_board_w"`
	CamBoardH    int             `json:"cam_board_h"`
	CamBoardWmm  float64         `json:"cam_board_w_mm"`
	CamBoardHmm  float64         `json:"cam_board_h_mm"`

	ProjWidth     int             `json:"proj_w"`
	ProjHeight    int             `json:"proj_h"`
	ProjInvert    bool            `json:"proj_invert"`
	ProjGain      int             `json:"proj_gain"`
	ProjDistModel DistortionModel `json:"proj_dist_model"`
	ProjBoardW    int             `json:"proj_board_w"`
	ProjBoardH    int             `json:"proj_board_h"`
	ProjBoardWpx  int             `json:"proj_board_w_pixels"`
	ProjBoardHpx  int             `json:"proj_board_h_pixels"`

	DelayMs     int `json:"delay"`
	DelayFrames int `json:"delay_frames"`
	WindowW     int `json:"window_w"`
	WindowH     int `json:"window_h"`

	Traversal         calibration.Traversal `json:"traversal"`
	NBoards           int                   `json:"n_boards"`
	CheckConditioning bool                  `json:"check_conditioning"`

	// BoardChannel is the color channel the printed board is detected in, PatternChannel the one
	// the projected board is detected in: gray, red, green or blue.
	BoardChannel   string `json:"board_channel"`
	PatternChannel string `json:"pattern_channel"`

	Camera    DeviceConfig `json:"camera"`
	Projector DeviceConfig `json:"projector"`
}

// Default returns the parameters used for every field a config file leaves out.
func Default() CalibrationParameters {
	return CalibrationParameters{
		OutputDir:      "output",
		Object:         "calibration",
		CamWidth:       640,
		CamHeight:      480,
		CamGain:        rimage.UnityGain,
		CamBoardW:      8,
		CamBoardH:      6,
		CamBoardWmm:    30,
		CamBoardHmm:    30,
		ProjWidth:      1024,
		ProjHeight:     768,
		ProjGain:       rimage.UnityGain,
		ProjBoardW:     8,
		ProjBoardH:     6,
		ProjBoardWpx:   75,
		ProjBoardHpx:   75,
		DelayMs:        500,
		DelayFrames:    2,
		WindowW:        640,
		WindowH:        480,
		Traversal:      calibration.TraversalRowMajor,
		NBoards:        10,
		BoardChannel:   rimage.ChannelRed.String(),
		PatternChannel: rimage.ChannelBlue.String(),
		Camera:         DeviceConfig{Type: SourceSynthetic},
		Projector:      DeviceConfig{Type: SinkSynthetic},
	}
}

// Validate checks the parameters. Returned errors satisfy errors.Is(err, ErrInvalidConfig).
func (cfg *CalibrationParameters) Validate(path string) error {
	if err := cfg.validate(path); err != nil {
		return &validationError{err}
	}
	return nil
}

func (cfg *CalibrationParameters) validate(path string) error {
	if cfg.OutputDir == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "output_dir")
	}
	if cfg.Object == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "object")
	}
	positive := []struct {
		name string
		v    int
	}{
		{"cam_w", cfg.CamWidth}, {"cam_h", cfg.CamHeight},
		{"proj_w", cfg.ProjWidth}, {"proj_h", cfg.ProjHeight},
		{"cam_board_w", cfg.CamBoardW}, {"cam_board_h", cfg.CamBoardH},
		{"proj_board_w", cfg.ProjBoardW}, {"proj_board_h", cfg.ProjBoardH},
		{"proj_board_w_pixels", cfg.ProjBoardWpx}, {"proj_board_h_pixels", cfg.ProjBoardHpx},
		{"cam_gain", cfg.CamGain}, {"proj_gain", cfg.ProjGain},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return goutils.NewConfigValidationError(path, errors.Errorf("%s must be positive", p.name))
		}
	}
	if cfg.NBoards < calibration.MinPoses {
		return goutils.NewConfigValidationError(path, errors.Errorf("n_boards must be at least %d", calibration.MinPoses))
	}
	if cfg.CamBoardWmm <= 0 || cfg.CamBoardHmm <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("camera board cell size must be positive"))
	}
	if cfg.DelayMs < 0 || cfg.DelayFrames < 0 {
		return goutils.NewConfigValidationError(path, errors.New("delays cannot be negative"))
	}
	if cfg.WindowW < 0 || cfg.WindowH < 0 {
		return goutils.NewConfigValidationError(path, errors.New("window size cannot be negative"))
	}
	if cfg.ProjBoardW > cfg.CamBoardW || cfg.ProjBoardH > cfg.CamBoardH {
		return goutils.NewConfigValidationError(path, errors.Errorf(
			"projector board (%dx%d) must not have more corners than the camera board (%dx%d)",
			cfg.ProjBoardW, cfg.ProjBoardH, cfg.CamBoardW, cfg.CamBoardH))
	}
	if _, err := cfg.ProjectorPattern().Border(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if err := cfg.Traversal.Validate(); err != nil {
		return goutils.NewConfigValidationError(fmt.Sprintf("%s.traversal", path), err)
	}
	if _, err := rimage.ParseChannel(cfg.BoardChannel); err != nil {
		return goutils.NewConfigValidationError(fmt.Sprintf("%s.board_channel", path), err)
	}
	if _, err := rimage.ParseChannel(cfg.PatternChannel); err != nil {
		return goutils.NewConfigValidationError(fmt.Sprintf("%s.pattern_channel", path), err)
	}
	switch cfg.Camera.Type {
	case SourceSynthetic, SourceWebcam:
	case SourceDirectory:
		if cfg.Camera.Path == "" {
			return goutils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.camera", path), "path")
		}
	default:
		return goutils.NewConfigValidationError(fmt.Sprintf("%s.camera", path), errors.Errorf("unknown camera type %q", cfg.Camera.Type))
	}
	switch cfg.Projector.Type {
	case SinkSynthetic:
	case SinkFile:
		if cfg.Projector.Path == "" {
			return goutils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.projector", path), "path")
		}
	default:
		return goutils.NewConfigValidationError(fmt.Sprintf("%s.projector", path), errors.Errorf("unknown projector type %q", cfg.Projector.Type))
	}
	if cfg.Projector.Type == SinkSynthetic && cfg.Camera.Type != SourceSynthetic {
		return goutils.NewConfigValidationError(path, errors.New("a synthetic projector needs a synthetic camera"))
	}
	return nil
}

type validationError struct {
	err error
}

func (e *validationError) Error() string {
	return ErrInvalidConfig.Error() + ": " + e.err.Error()
}

func (e *validationError) Unwrap() error {
	return e.err
}

func (e *validationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// CameraSize is the camera resolution.
func (cfg *CalibrationParameters) CameraSize() image.Point {
	return image.Point{cfg.CamWidth, cfg.CamHeight}
}

// ProjectorSize is the projector resolution.
func (cfg *CalibrationParameters) ProjectorSize() image.Point {
	return image.Point{cfg.ProjWidth, cfg.ProjHeight}
}

// CameraBoard is the physical chessboard.
func (cfg *CalibrationParameters) CameraBoard() calibration.Board {
	return calibration.Board{
		Corners:      image.Point{cfg.CamBoardW, cfg.CamBoardH},
		CellWidthMM:  cfg.CamBoardWmm,
		CellHeightMM: cfg.CamBoardHmm,
	}
}

// ProjectorPattern is the projected chessboard.
func (cfg *CalibrationParameters) ProjectorPattern() rimage.ChessboardPattern {
	return rimage.ChessboardPattern{
		Canvas:  cfg.ProjectorSize(),
		Corners: image.Point{cfg.ProjBoardW, cfg.ProjBoardH},
		Square:  image.Point{cfg.ProjBoardWpx, cfg.ProjBoardHpx},
	}
}

// Channels returns the parsed board and pattern channels. Both are checked by Validate.
func (cfg *CalibrationParameters) Channels() (board, pattern rimage.Channel) {
	board, _ = rimage.ParseChannel(cfg.BoardChannel)
	pattern, _ = rimage.ParseChannel(cfg.PatternChannel)
	return board, pattern
}

// HomographyOptions are the estimation options used throughout a session.
func (cfg *CalibrationParameters) HomographyOptions() transform.HomographyOptions {
	return transform.HomographyOptions{CheckConditioning: cfg.CheckConditioning}
}

// SolveSettings builds the solver settings of a session; calibrateCamera selects a full
// calibration over a projector only one.
func (cfg *CalibrationParameters) SolveSettings(calibrateCamera bool) calibration.SolveSettings {
	return calibration.SolveSettings{
		CalibrateCamera: calibrateCamera,
		CameraSize:      cfg.CameraSize(),
		ProjectorSize:   cfg.ProjectorSize(),
		CameraFlags:     cfg.CamDistModel.SolverFlags(),
		ProjectorFlags:  cfg.ProjDistModel.SolverFlags(),
		Homography:      cfg.HomographyOptions(),
	}
}
