package session

import (
	"image"
	"image/color"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/detection/chessboard"
	"go.viam.com/procam/rimage/transform"
)

// State is the protocol state of a Machine.
type State int

// The states of a calibration attempt.
const (
	Idle State = iota
	HomographyCapture
	PoseCollection
	Solving
	Done
	Failed
)

var stateNames = []string{"idle", "homography_capture", "pose_collection", "solving", "done", "failed"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Event reports what a submitted frame produced.
type Event int

const (
	// EventDetectionFailed means the board looked for in the frame was not found; the machine stays
	// where it was and the frame can be retaken.
	EventDetectionFailed Event = iota
	// EventHomographyReady ends the homography capture.
	EventHomographyReady
	// EventPatternReady carries the warped pattern to display before the next frame.
	EventPatternReady
	// EventPoseCandidate means a full pose is pending AcceptPose or CancelPose.
	EventPoseCandidate
)

var eventNames = []string{"detection_failed", "homography_ready", "pattern_ready", "pose_candidate"}

func (e Event) String() string {
	if int(e) < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// ErrWrongState is returned for operations the current state does not allow.
var ErrWrongState = errors.New("operation not allowed in current session state")

func newWrongStateError(op string, s State) error {
	return errors.Wrapf(ErrWrongState, "%s in state %s", op, s)
}

// Step is the outcome of SubmitFrame.
type Step struct {
	Event Event
	// Pattern is the image to project next (EventPatternReady).
	Pattern *image.Gray
	// Preview shows what was detected in the frame, or the failed search.
	Preview image.Image
	// Err explains an EventDetectionFailed.
	Err error
	// Images are the frames and patterns that produced a pose candidate, by name.
	Images map[string]image.Image
}

type posePhase int

const (
	awaitingLit posePhase = iota
	awaitingPattern
)

// litFrame is the first half of a pose.
type litFrame struct {
	camCorners []r2.Point
	projToProj transform.Homography
	pattern    *image.Gray
	lit        *image.Gray
	litColor   image.Image
}

// Machine is the calibration protocol. It holds no devices: frames are submitted to it and it
// answers with what to display or decide next. A Machine is driven by a single goroutine; the
// read accessors may be called from others.
type Machine struct {
	mu       sync.Mutex
	id       uuid.UUID
	settings Settings
	geometry geometry
	detector Detector
	logger   logging.Logger

	state           State
	calibrateCamera bool
	committed       *calibration.State

	camToProj    transform.Homography
	phase        posePhase
	current      *litFrame
	pending      *calibration.PoseObservation
	observations *calibration.ObservationSet
	lastErr      error
}

// NewMachine returns an idle machine. prior is the calibration loaded at startup, possibly empty;
// it is never modified. A nil detector uses the chessboard detector with default settings.
func NewMachine(settings Settings, prior *calibration.State, detector Detector, logger logging.Logger) (*Machine, error) {
	geo, err := settings.geometry()
	if err != nil {
		return nil, err
	}
	if settings.NBoards < calibration.MinPoses {
		return nil, errors.Errorf("n_boards must be at least %d", calibration.MinPoses)
	}
	if detector == nil {
		detector = ChessboardDetector{Conf: chessboard.DefaultDetectionConf}
	}
	prior = prior.Clone()
	// calibrations saved without cam_dimensions take the configured camera size
	if prior.Flags.CamIntrinsic && prior.Camera != nil && prior.Camera.Size == (image.Point{}) {
		prior.Camera.Size = settings.CameraSize
	}
	return &Machine{
		id:        uuid.New(),
		settings:  settings,
		geometry:  geo,
		detector:  detector,
		logger:    logger,
		committed: prior,
	}, nil
}

// ID identifies the machine in logs and saved images.
func (m *Machine) ID() uuid.UUID {
	return m.id
}

// State returns the current protocol state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NumPoses is the number of accepted poses of the current attempt.
func (m *Machine) NumPoses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observations == nil {
		return 0
	}
	return m.observations.Len()
}

// Calibration returns a copy of the committed calibration: the prior until an attempt reaches
// Done, then the attempt's result.
func (m *Machine) Calibration() *calibration.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed.Clone()
}

// Err returns the reason of the last Failed state.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// IdealPattern is the undistorted projector chessboard shown during the homography capture.
func (m *Machine) IdealPattern() *image.Gray {
	return m.geometry.idealBoard
}

// Begin starts an attempt. With calibrateCamera false only the projector is calibrated and the
// committed camera intrinsics are required. Begin is allowed from Idle, Done and Failed.
func (m *Machine) Begin(calibrateCamera bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Idle, Done, Failed:
	case HomographyCapture, PoseCollection, Solving:
		return newWrongStateError("begin", m.state)
	}
	if !calibrateCamera {
		if _, err := m.committed.CameraModel(); err != nil {
			return err
		}
	}
	m.calibrateCamera = calibrateCamera
	m.observations = &calibration.ObservationSet{}
	m.current = nil
	m.pending = nil
	m.phase = awaitingLit
	m.lastErr = nil
	m.state = HomographyCapture
	m.logger.Infow("calibration started", "session", m.id, "calibrate_camera", calibrateCamera)
	return nil
}

// Abort drops the attempt and returns to Idle. The committed calibration is untouched.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		m.logger.Infow("calibration aborted", "session", m.id, "state", m.state)
	}
	m.state = Idle
	m.observations = nil
	m.current = nil
	m.pending = nil
}

// SubmitFrame hands the machine a camera frame. During the homography capture the frame shows the
// ideal projector chessboard. During pose collection frames alternate between the board lit with
// white and the board lit with the Pattern of the preceding EventPatternReady. Errors are returned
// only for misuse or internal failures; a missed detection is an EventDetectionFailed step.
func (m *Machine) SubmitFrame(frame image.Image) (Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frame == nil {
		return Step{}, errors.New("nil frame")
	}
	switch m.state {
	case HomographyCapture:
		return m.submitHomography(frame)
	case PoseCollection:
		if m.pending != nil {
			return Step{}, errors.New("a pose candidate is pending; accept or cancel it first")
		}
		if m.phase == awaitingLit {
			return m.submitLit(frame)
		}
		return m.submitPattern(frame)
	case Idle, Solving, Done, Failed:
	}
	return Step{}, newWrongStateError("submit frame", m.state)
}

func (m *Machine) detect(img *image.Gray, size image.Point, what string) (chessboard.Result, *Step, error) {
	res, err := m.detector.Detect(img, size)
	if err != nil {
		return res, nil, errors.Wrapf(err, "detecting %s", what)
	}
	if !res.Found || len(res.Corners) != size.X*size.Y {
		failure := res.Err()
		if res.Found {
			failure = errors.Errorf("%s detection returned %d corners, want %d", what, len(res.Corners), size.X*size.Y)
		}
		m.logger.Debugw("detection failed", "what", what, "corners", res.Count, "error", failure)
		return res, &Step{
			Event:   EventDetectionFailed,
			Err:     errors.Wrap(failure, what),
			Preview: chessboard.DebugImage(res, img.Bounds().Size()),
		}, nil
	}
	return res, nil, nil
}

func (m *Machine) submitHomography(frame image.Image) (Step, error) {
	gray := rimage.ExtractChannel(frame, m.settings.PatternChannel)
	res, failed, err := m.detect(gray, m.settings.ProjectorPattern.Corners, "projector board")
	if err != nil || failed != nil {
		return stepOrEmpty(failed), err
	}
	camToProj, err := transform.EstimateHomographyWithOptions(res.Corners, m.geometry.projPoints, m.settings.Homography)
	if err != nil {
		return Step{Event: EventDetectionFailed, Err: errors.Wrap(err, "camera to projector homography")}, nil
	}
	m.camToProj = camToProj
	m.state = PoseCollection
	m.phase = awaitingLit
	m.logger.Infow("camera to projector homography captured", "session", m.id,
		"error", transform.ReprojectionError(camToProj, res.Corners, m.geometry.projPoints))
	return Step{
		Event:   EventHomographyReady,
		Preview: rimage.DrawChessboardCorners(gray, m.settings.ProjectorPattern.Corners, res.Corners, true),
	}, nil
}

func (m *Machine) submitLit(frame image.Image) (Step, error) {
	boardGray := rimage.ExtractChannel(frame, m.settings.BoardChannel)
	res, failed, err := m.detect(boardGray, m.settings.CameraBoard.Corners, "camera board")
	if err != nil || failed != nil {
		return stepOrEmpty(failed), err
	}
	projToCam, err := calibration.ProjectorToCamera(
		m.geometry.projPoints, m.settings.ProjectorPattern.Corners,
		res.Corners, m.settings.CameraBoard.Corners,
		m.settings.Homography)
	if err != nil {
		return Step{Event: EventDetectionFailed, Err: errors.Wrap(err, "projector to camera homography")}, nil
	}
	projToProj := calibration.ProjectorToProjector(m.camToProj, projToCam)
	warped, err := projToProj.WarpGray(m.geometry.idealBoard, m.settings.ProjectorPattern.Canvas, 255)
	if err != nil {
		return Step{Event: EventDetectionFailed, Err: errors.Wrap(err, "warping projector board")}, nil
	}
	pattern := rimage.ApplyGainGray(warped, m.settings.ProjGain)

	m.current = &litFrame{
		camCorners: res.Corners,
		projToProj: projToProj,
		pattern:    pattern,
		lit:        rimage.ExtractChannel(frame, m.settings.PatternChannel),
		litColor:   frame,
	}
	m.phase = awaitingPattern
	return Step{
		Event:   EventPatternReady,
		Pattern: pattern,
		Preview: rimage.DrawChessboardCorners(boardGray, m.settings.CameraBoard.Corners, res.Corners, true),
	}, nil
}

func (m *Machine) submitPattern(frame image.Image) (Step, error) {
	current := m.current
	// whatever happens the next frame starts a new pose
	m.phase = awaitingLit
	m.current = nil

	patterned := rimage.ExtractChannel(frame, m.settings.PatternChannel)
	diff, err := rimage.DifferenceNormalized(current.lit, patterned)
	if err != nil {
		return Step{}, err
	}
	res, failed, err := m.detect(diff, m.settings.ProjectorPattern.Corners, "projected board")
	if err != nil || failed != nil {
		return stepOrEmpty(failed), err
	}

	candidate := calibration.PoseObservation{
		CamCorners:          current.camCorners,
		ObjectPoints:        m.geometry.objectPoints,
		ProjCornersInCamera: res.Corners,
		ProjPixels:          calibration.SynthesizeProjectorPixels(current.projToProj, m.geometry.projPoints),
		ProjToProj:          current.projToProj,
	}
	if err := candidate.Validate(); err != nil {
		return Step{Event: EventDetectionFailed, Err: err}, nil
	}
	m.pending = &candidate

	preview := rimage.DrawChessboardCorners(current.litColor, m.settings.CameraBoard.Corners, current.camCorners, true)
	preview = rimage.DrawChessboardCorners(preview, m.settings.ProjectorPattern.Corners, res.Corners, true)
	preview = rimage.AnnotateImage(preview, "c: cancel, any other key: accept", color.White)
	return Step{
		Event:   EventPoseCandidate,
		Preview: preview,
		Images: map[string]image.Image{
			"lit":        current.litColor,
			"patterned":  frame,
			"difference": diff,
			"pattern":    current.pattern,
		},
	}, nil
}

func stepOrEmpty(s *Step) Step {
	if s == nil {
		return Step{}
	}
	return *s
}

// AcceptPose appends the pending candidate. It reports whether n_boards poses are now collected.
func (m *Machine) AcceptPose() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != PoseCollection || m.pending == nil {
		return false, newWrongStateError("accept pose without a candidate", m.state)
	}
	candidate := *m.pending
	m.pending = nil
	if err := m.observations.Append(candidate); err != nil {
		return false, err
	}
	n := m.observations.Len()
	m.logger.Infow("pose accepted", "session", m.id, "pose", n, "of", m.settings.NBoards)
	return n >= m.settings.NBoards, nil
}

// CancelPose discards the pending candidate.
func (m *Machine) CancelPose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != PoseCollection || m.pending == nil {
		return newWrongStateError("cancel pose without a candidate", m.state)
	}
	m.pending = nil
	m.logger.Debugw("pose cancelled", "session", m.id)
	return nil
}

// Finalize solves the calibration from the accepted poses. On success the machine is Done and the
// result is committed with every flag set. On failure the machine is Failed and the committed
// calibration is the one from before the attempt.
func (m *Machine) Finalize() (*calibration.State, error) {
	m.mu.Lock()
	if m.state != PoseCollection {
		defer m.mu.Unlock()
		return nil, newWrongStateError("finalize", m.state)
	}
	if m.pending != nil {
		defer m.mu.Unlock()
		return nil, errors.New("a pose candidate is pending; accept or cancel it first")
	}
	m.state = Solving
	poses := m.observations.Poses()
	prior := m.committed.Clone()
	settings := m.settings.solveSettings(m.calibrateCamera)
	m.mu.Unlock()

	result, err := calibration.Solve(poses, settings, prior, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Solving {
		return nil, errors.New("calibration aborted while solving")
	}
	if err != nil {
		m.state = Failed
		m.lastErr = err
		m.logger.Errorw("calibration failed", "session", m.id, "poses", len(poses), "error", err)
		return nil, err
	}
	if result.Camera.Size == (image.Point{}) {
		result.Camera.Size = m.settings.CameraSize
	}
	m.committed = result
	m.state = Done
	m.logger.Infow("calibration done", "session", m.id, "camera_rms", result.Camera.RMS, "projector_rms", result.Projector.RMS)
	return result.Clone(), nil
}
