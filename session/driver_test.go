package session

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/calibration/store"
	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/components/camera/fake"
	"go.viam.com/procam/components/projector"
	"go.viam.com/procam/logging"
)

// staticSource serves the same frame forever.
type staticSource struct {
	initErr  error
	frame    image.Image
	started  bool
	ended    bool
	queries  int
	closeErr error
}

func (s *staticSource) Initialize(ctx context.Context) error { return s.initErr }

func (s *staticSource) StartCapture(ctx context.Context) error {
	s.started = true
	return nil
}

func (s *staticSource) EndCapture(ctx context.Context) error {
	s.ended = true
	return nil
}

func (s *staticSource) QueryFrame(ctx context.Context) (image.Image, error) {
	s.queries++
	return s.frame, nil
}

func (s *staticSource) Close(ctx context.Context) error { return s.closeErr }

func newScriptedDriver(
	t *testing.T, det *scriptedDetector, src camera.FrameSource, prompter Prompter, opts DriverOptions,
) (*Driver, *projector.RecordingSink, *store.DirStore) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	s := testSettings(t)
	m, err := NewMachine(s, nil, det, logger)
	test.That(t, err, test.ShouldBeNil)
	sink := projector.NewRecordingSink(nil, s.ProjectorPattern.Canvas)
	st, err := store.NewDirStore(t.TempDir(), "scripted", logger)
	test.That(t, err, test.ShouldBeNil)
	d, err := NewDriver(m, src, sink, prompter, st, opts, logger)
	test.That(t, err, test.ShouldBeNil)
	return d, sink, st
}

func TestNewDriverChecksProjectorSize(t *testing.T) {
	logger := logging.NewTestLogger(t)
	m, err := NewMachine(testSettings(t), nil, &scriptedDetector{}, logger)
	test.That(t, err, test.ShouldBeNil)
	sink := projector.NewRecordingSink(nil, image.Point{800, 600})
	_, err = NewDriver(m, &staticSource{}, sink, AcceptAll, nil, DriverOptions{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDriver(m, nil, sink, AcceptAll, nil, DriverOptions{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDriverHardwareUnavailable(t *testing.T) {
	src := &staticSource{initErr: errors.New("no such device")}
	d, sink, _ := newScriptedDriver(t, &scriptedDetector{}, src, AcceptAll, DriverOptions{})

	_, err := d.Run(context.Background(), true)
	test.That(t, errors.Is(err, camera.ErrHardwareUnavailable), test.ShouldBeTrue)
	test.That(t, d.Machine().State(), test.ShouldEqual, Idle)
	test.That(t, len(sink.Patterns()), test.ShouldEqual, 0)
	test.That(t, src.started, test.ShouldBeFalse)
}

func TestDriverGivesUpAfterMaxAttempts(t *testing.T) {
	det := &scriptedDetector{}
	det.push(missed, missed)
	src := &staticSource{frame: frame(100)}
	var states []State
	progress := func(s State, poses int) {
		test.That(t, poses, test.ShouldEqual, 0)
		states = append(states, s)
	}
	d, sink, _ := newScriptedDriver(t, det, src, AcceptAll,
		DriverOptions{DelayFrames: 2, MaxAttempts: 2, CamGain: 50, Progress: progress})

	_, err := d.Run(context.Background(), true)
	test.That(t, errors.Is(err, ErrTooManyAttempts), test.ShouldBeTrue)
	test.That(t, d.Machine().State(), test.ShouldEqual, Idle)
	test.That(t, src.ended, test.ShouldBeTrue)
	test.That(t, src.queries, test.ShouldEqual, 4)
	test.That(t, len(sink.Patterns()), test.ShouldEqual, 2)
	test.That(t, states, test.ShouldResemble, []State{HomographyCapture, Idle})
	test.That(t, d.Machine().Calibration().Flags, test.ShouldResemble, calibration.Flags{})
}

func TestDriverPoseLoop(t *testing.T) {
	s := testSettings(t)
	det := &scriptedDetector{}
	det.push(found(projectorGridInCamera(t, s)))
	for i := 0; i < 2; i++ {
		det.push(found(cameraBoardCorners(s)), found(projectedCorners(s)))
	}
	// the script then runs dry, which fails the next detection with an error

	var prompts []int
	prompter := PrompterFunc(func(ctx context.Context, pose int, preview image.Image) (Decision, error) {
		test.That(t, preview, test.ShouldNotBeNil)
		prompts = append(prompts, pose)
		if len(prompts) > 1 {
			return DecisionAccept, nil
		}
		return DecisionReject, nil
	})
	src := &staticSource{frame: frame(100)}
	d, sink, st := newScriptedDriver(t, det, src, prompter, DriverOptions{CamGain: 50, SaveImages: true, Delay: time.Millisecond})

	_, err := d.Run(context.Background(), true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "script exhausted")
	test.That(t, prompts, test.ShouldResemble, []int{0, 0})
	test.That(t, d.Machine().State(), test.ShouldEqual, Idle)

	// ideal board, then white and warped pattern for each candidate, then the white that failed
	patterns := sink.Patterns()
	test.That(t, len(patterns), test.ShouldEqual, 6)
	test.That(t, patterns[0].Pix, test.ShouldResemble, d.Machine().IdealPattern().Pix)
	lo, _ := minMax(patterns[1].Pix)
	test.That(t, lo, test.ShouldEqual, 255)
	lo, hi := minMax(patterns[2].Pix)
	test.That(t, lo, test.ShouldEqual, 0)
	test.That(t, hi, test.ShouldEqual, 255)

	// only the accepted pose was saved
	for _, name := range []string{"cam/images/cam_00_lit.png", "cam/images/cam_00_difference.png", "proj/images/proj_00_pattern.png"} {
		_, err := os.Stat(filepath.Join(st.Root(), name))
		test.That(t, err, test.ShouldBeNil)
	}
	_, err = os.Stat(filepath.Join(st.Root(), "cam", "images", "cam_01_lit.png"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestDriverFinishWithTooFewPoses(t *testing.T) {
	s := testSettings(t)
	s.NBoards = 5
	det := &scriptedDetector{}
	det.push(found(projectorGridInCamera(t, s)))
	for i := 0; i < 2; i++ {
		det.push(found(cameraBoardCorners(s)), found(projectedCorners(s)))
	}
	prompter := PrompterFunc(func(ctx context.Context, pose int, preview image.Image) (Decision, error) {
		if pose == 0 {
			return DecisionAccept, nil
		}
		return DecisionFinish, nil
	})
	var states []State
	opts := DriverOptions{Progress: func(state State, poses int) { states = append(states, state) }}
	logger := logging.NewTestLogger(t)
	m, err := NewMachine(s, nil, det, logger)
	test.That(t, err, test.ShouldBeNil)
	st, err := store.NewDirStore(t.TempDir(), "scripted", logger)
	test.That(t, err, test.ShouldBeNil)
	d, err := NewDriver(m, &staticSource{frame: frame(100)}, projector.NewRecordingSink(nil, s.ProjectorPattern.Canvas),
		prompter, st, opts, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = d.Run(context.Background(), true)
	test.That(t, errors.Is(err, calibration.ErrInsufficientPoses), test.ShouldBeTrue)
	test.That(t, m.State(), test.ShouldEqual, Failed)
	test.That(t, m.NumPoses(), test.ShouldEqual, 1)
	test.That(t, errors.Is(m.Err(), calibration.ErrInsufficientPoses), test.ShouldBeTrue)
	test.That(t, m.Calibration().Flags, test.ShouldResemble, calibration.Flags{})
	test.That(t, states[len(states)-2:], test.ShouldResemble, []State{Solving, Failed})

	// nothing was persisted
	prior, err := store.LoadState(context.Background(), st)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, prior.Flags, test.ShouldResemble, calibration.Flags{})
}

func minMax(pix []uint8) (uint8, uint8) {
	lo, hi := uint8(255), uint8(0)
	for _, v := range pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func TestDriverContextCancelled(t *testing.T) {
	det := &scriptedDetector{}
	src := &staticSource{frame: frame(100)}
	d, _, _ := newScriptedDriver(t, det, src, AcceptAll, DriverOptions{Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, d.Machine().State(), test.ShouldEqual, Idle)
	test.That(t, src.queries, test.ShouldEqual, 0)
}

func TestDriverCalibratesSyntheticRig(t *testing.T) {
	if testing.Short() {
		t.Skip("renders and detects every frame of a full session")
	}
	logger := logging.NewTestLogger(t)
	cfg := testParameters()
	cfg.NBoards = 4
	cfg.DelayMs = 0
	cfg.DelayFrames = 1
	cfg.SaveImages = true
	cfg.OutputDir = t.TempDir()
	test.That(t, cfg.Validate("test"), test.ShouldBeNil)

	rig, err := fake.RigConfig(cfg.CameraSize(), cfg.ProjectorSize(), cfg.CameraBoard())
	test.That(t, err, test.ShouldBeNil)
	scene, err := fake.NewScene(rig, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, scene.Close(context.Background()), test.ShouldBeNil)
	}()

	m, err := NewMachine(NewSettings(&cfg), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	st, err := store.NewDirStore(cfg.OutputDir, cfg.Object, logger)
	test.That(t, err, test.ShouldBeNil)
	opts := NewDriverOptions(&cfg)
	opts.MaxAttempts = 3
	d, err := NewDriver(m, scene, scene.Projector(), AcceptAll, st, opts, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	state, err := d.Run(ctx, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.State(), test.ShouldEqual, Done)
	test.That(t, state.Flags, test.ShouldResemble, calibration.Flags{CamIntrinsic: true, ProjIntrinsic: true, ProcamExtrinsic: true})
	test.That(t, len(state.Camera.RotationVectors), test.ShouldEqual, 4)

	within := func(got, want, tol float64) {
		t.Helper()
		test.That(t, math.Abs(got-want)/want, test.ShouldBeLessThan, tol)
	}
	within(state.Camera.Intrinsics.At(0, 0), rig.Camera.Fx, 0.05)
	within(state.Projector.Intrinsics.At(0, 0), rig.Projector.Fx, 0.1)
	test.That(t, state.Camera.RMS, test.ShouldBeLessThan, 1.5)
	test.That(t, state.Camera.Size, test.ShouldResemble, cfg.CameraSize())

	// the projector sits to the right of the camera
	offset := rig.ProjInCam.Translation.Norm()
	within(state.ProjExtrinsicInCamera.Translation.Norm(), offset, 0.2)

	loaded, err := store.LoadState(ctx, st)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Flags, test.ShouldResemble, state.Flags)
	_, err = os.Stat(filepath.Join(st.Root(), "proj", "images", "proj_03_pattern.png"))
	test.That(t, err, test.ShouldBeNil)
}

func TestDriverFinishSolvesAcceptedPoses(t *testing.T) {
	if testing.Short() {
		t.Skip("renders and detects every frame of a session")
	}
	logger := logging.NewTestLogger(t)
	cfg := testParameters()
	cfg.NBoards = 10
	cfg.DelayMs = 0
	cfg.DelayFrames = 1
	cfg.OutputDir = t.TempDir()
	test.That(t, cfg.Validate("test"), test.ShouldBeNil)

	rig, err := fake.RigConfig(cfg.CameraSize(), cfg.ProjectorSize(), cfg.CameraBoard())
	test.That(t, err, test.ShouldBeNil)
	scene, err := fake.NewScene(rig, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, scene.Close(context.Background()), test.ShouldBeNil)
	}()

	m, err := NewMachine(NewSettings(&cfg), nil, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	st, err := store.NewDirStore(cfg.OutputDir, cfg.Object, logger)
	test.That(t, err, test.ShouldBeNil)
	finishAtThird := PrompterFunc(func(ctx context.Context, pose int, preview image.Image) (Decision, error) {
		if pose < 2 {
			return DecisionAccept, nil
		}
		return DecisionFinish, nil
	})
	opts := NewDriverOptions(&cfg)
	opts.MaxAttempts = 3
	d, err := NewDriver(m, scene, scene.Projector(), finishAtThird, st, opts, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	state, err := d.Run(ctx, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.State(), test.ShouldEqual, Done)
	test.That(t, m.NumPoses(), test.ShouldEqual, 2)
	test.That(t, state.Flags, test.ShouldResemble, calibration.Flags{CamIntrinsic: true, ProjIntrinsic: true, ProcamExtrinsic: true})
	test.That(t, len(state.Camera.RotationVectors), test.ShouldEqual, 2)
	test.That(t, len(state.Projector.RotationVectors), test.ShouldEqual, 2)
}
