package session

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/calibration/store"
	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/components/projector"
	"go.viam.com/procam/config"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
)

// ErrTooManyAttempts is returned when a board could not be detected within MaxAttempts frames.
var ErrTooManyAttempts = errors.New("board not detected")

// Decision is the operator's answer to a pose candidate.
type Decision int

const (
	// DecisionAccept keeps the candidate.
	DecisionAccept Decision = iota
	// DecisionReject drops the candidate and keeps collecting.
	DecisionReject
	// DecisionFinish drops the candidate and solves with the poses accepted so far.
	DecisionFinish
)

// Prompter asks the operator what to do with a pose candidate.
type Prompter interface {
	ConfirmPose(ctx context.Context, pose int, preview image.Image) (Decision, error)
}

// PrompterFunc adapts a function to a Prompter.
type PrompterFunc func(ctx context.Context, pose int, preview image.Image) (Decision, error)

// ConfirmPose calls f.
func (f PrompterFunc) ConfirmPose(ctx context.Context, pose int, preview image.Image) (Decision, error) {
	return f(ctx, pose, preview)
}

// AcceptAll accepts every candidate.
var AcceptAll = PrompterFunc(func(context.Context, int, image.Image) (Decision, error) { return DecisionAccept, nil })

// DriverOptions are the capture settings of a Driver.
type DriverOptions struct {
	CamGain     int
	Delay       time.Duration
	DelayFrames int
	SaveImages  bool
	// MaxAttempts bounds the consecutive failed detections of one capture; zero retries until the
	// context is done.
	MaxAttempts int
	// Progress, when set, is called whenever the machine changes state or accepts a pose.
	Progress func(state State, poses int)
}

// NewDriverOptions extracts the capture settings from the parameters.
func NewDriverOptions(cfg *config.CalibrationParameters) DriverOptions {
	return DriverOptions{
		CamGain:     cfg.CamGain,
		Delay:       time.Duration(cfg.DelayMs) * time.Millisecond,
		DelayFrames: cfg.DelayFrames,
		SaveImages:  cfg.SaveImages,
	}
}

// Driver runs a Machine against real or simulated devices.
type Driver struct {
	machine  *Machine
	source   camera.FrameSource
	sink     projector.DisplaySink
	prompter Prompter
	store    store.Store
	opts     DriverOptions
	logger   logging.Logger
}

// NewDriver wires a machine to its devices. The store may be nil, in which case nothing is saved.
func NewDriver(
	machine *Machine,
	source camera.FrameSource,
	sink projector.DisplaySink,
	prompter Prompter,
	st store.Store,
	opts DriverOptions,
	logger logging.Logger,
) (*Driver, error) {
	if machine == nil || source == nil || sink == nil || prompter == nil {
		return nil, errors.New("driver needs a machine, a frame source, a display sink and a prompter")
	}
	if sink.Size() != machine.settings.ProjectorPattern.Canvas {
		return nil, errors.Errorf("projector is %v but the pattern canvas is %v",
			sink.Size(), machine.settings.ProjectorPattern.Canvas)
	}
	return &Driver{
		machine:  machine,
		source:   source,
		sink:     sink,
		prompter: prompter,
		store:    st,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Machine is the driven machine.
func (d *Driver) Machine() *Machine {
	return d.machine
}

// Run performs one calibration attempt and saves its result. Collection ends when n_boards poses
// are accepted or the prompter finishes early, and the poses accepted by then are solved. A device
// that cannot be opened fails with camera.ErrHardwareUnavailable before the machine is started; any
// failure after that aborts or fails the attempt and leaves the committed calibration as it was.
func (d *Driver) Run(ctx context.Context, calibrateCamera bool) (state *calibration.State, err error) {
	if err := d.source.Initialize(ctx); err != nil {
		return nil, errors.Wrap(ensureHardwareError(err), "initializing camera")
	}
	if err := d.source.StartCapture(ctx); err != nil {
		return nil, errors.Wrap(ensureHardwareError(err), "starting capture")
	}
	defer func() {
		err = multierr.Combine(err, d.source.EndCapture(ctx))
	}()

	if err := d.machine.Begin(calibrateCamera); err != nil {
		return nil, err
	}
	d.progress()
	if err := d.collect(ctx); err != nil {
		d.machine.Abort()
		d.progress()
		return nil, err
	}
	d.notify(Solving)
	state, err = d.machine.Finalize()
	d.progress()
	if err != nil {
		return nil, err
	}
	if d.store != nil {
		if err := store.SaveState(ctx, d.store, state); err != nil {
			return state, errors.Wrap(err, "saving calibration")
		}
	}
	return state, nil
}

func (d *Driver) progress() {
	d.notify(d.machine.State())
}

func (d *Driver) notify(state State) {
	if d.opts.Progress != nil {
		d.opts.Progress(state, d.machine.NumPoses())
	}
}

func ensureHardwareError(err error) error {
	if errors.Is(err, camera.ErrHardwareUnavailable) {
		return err
	}
	return camera.NewHardwareUnavailableError(err)
}

func (d *Driver) collect(ctx context.Context) error {
	if err := d.captureHomography(ctx); err != nil {
		return err
	}
	white := rimage.SolidPattern(d.sink.Size(), color.White)
	failures := 0
	for {
		step, err := d.capture(ctx, white, false)
		if err != nil {
			return err
		}
		if step.Event == EventPatternReady {
			step, err = d.capture(ctx, step.Pattern, false)
			if err != nil {
				return err
			}
		}
		if step.Event != EventPoseCandidate {
			failures++
			d.logger.Infow("pose not detected, move the board and retry", "reason", step.Err)
			if d.opts.MaxAttempts > 0 && failures >= d.opts.MaxAttempts {
				return errors.Wrapf(ErrTooManyAttempts, "pose %d after %d attempts: %v",
					d.machine.NumPoses()+1, failures, step.Err)
			}
			continue
		}
		failures = 0

		pose := d.machine.NumPoses()
		decision, err := d.prompter.ConfirmPose(ctx, pose, step.Preview)
		if err != nil {
			return err
		}
		switch decision {
		case DecisionAccept:
		case DecisionReject, DecisionFinish:
			if err := d.machine.CancelPose(); err != nil {
				return err
			}
			if decision == DecisionFinish {
				d.logger.Infow("pose collection finished early", "poses", pose)
				return nil
			}
			continue
		default:
			return errors.Errorf("unknown decision %d", decision)
		}
		done, err := d.machine.AcceptPose()
		if err != nil {
			return err
		}
		d.progress()
		if err := d.saveImages(ctx, pose, step.Images); err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (d *Driver) captureHomography(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		step, err := d.capture(ctx, d.machine.IdealPattern(), true)
		if err != nil {
			return err
		}
		if step.Event == EventHomographyReady {
			d.progress()
			return nil
		}
		d.logger.Infow("projected board not detected", "attempt", attempt, "reason", step.Err)
		if d.opts.MaxAttempts > 0 && attempt >= d.opts.MaxAttempts {
			return errors.Wrapf(ErrTooManyAttempts, "homography capture after %d attempts: %v", attempt, step.Err)
		}
	}
}

// capture shows pattern, waits for it to settle, and submits the next frame.
func (d *Driver) capture(ctx context.Context, pattern image.Image, patternChannelOnly bool) (Step, error) {
	if err := d.sink.ShowPattern(ctx, pattern); err != nil {
		return Step{}, errors.Wrap(err, "showing pattern")
	}
	if d.opts.Delay > 0 && !goutils.SelectContextOrWait(ctx, d.opts.Delay) {
		return Step{}, ctx.Err()
	}
	var frame image.Image
	var err error
	if patternChannelOnly {
		frame, err = camera.QueryFrameChannel(ctx, d.source, d.opts.DelayFrames, d.opts.CamGain, d.machine.settings.PatternChannel)
	} else {
		var raw image.Image
		if raw, err = camera.QueryFrameSafe(ctx, d.source, d.opts.DelayFrames); err == nil {
			frame = rimage.ApplyGain(raw, d.opts.CamGain)
		}
	}
	if err != nil {
		return Step{}, errors.Wrap(err, "querying frame")
	}
	return d.machine.SubmitFrame(frame)
}

func (d *Driver) saveImages(ctx context.Context, pose int, images map[string]image.Image) error {
	if !d.opts.SaveImages || d.store == nil || len(images) == 0 {
		return nil
	}
	camImages := map[string]image.Image{}
	for name, img := range images {
		if name != "pattern" {
			camImages[name] = img
		}
	}
	if err := d.store.SaveImages(ctx, store.Camera, pose, camImages); err != nil {
		return err
	}
	if pattern, ok := images["pattern"]; ok {
		return d.store.SaveImages(ctx, store.Projector, pose, map[string]image.Image{"pattern": pattern})
	}
	return nil
}
