// Package cli contains the procam-calibrate command line tool.
package cli

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/calibration/store"
	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/config"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/session"
	"go.viam.com/procam/utils"
)

const (
	flagConfig   = "config"
	flagLogFile  = "log-file"
	flagDebug    = "debug"
	flagNBoards  = "n-boards"
	flagOut      = "out"
	flagChannel  = "channel"
	flagPlot     = "plot"
	configName   = "procam.json"
	previewName  = "preview.png"
	residualName = "residuals.png"
)

// NewApp returns the procam-calibrate application.
func NewApp() *cli.App {
	return &cli.App{
		Name:            "procam-calibrate",
		Usage:           "calibrate a projector-camera pair for structured light scanning",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load parameters from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to the rotated `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.IntFlag{
				Name:  flagNBoards,
				Usage: "number of board poses to collect; 0 asks every time",
			},
		},
		Action: CalibrateAction,
		Commands: []*cli.Command{
			{
				Name:   "calibrate",
				Usage:  "run the interactive calibration (default)",
				Action: CalibrateAction,
			},
			{
				Name:   "capture",
				Usage:  "save a single settled camera frame",
				Action: CaptureAction,
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagOut,
						Usage:    "write the frame to `FILE`",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagChannel,
						Usage: "color channel to keep: gray, red, green or blue",
						Value: rimage.ChannelGray.String(),
					},
				},
			},
			{
				Name:   "show",
				Usage:  "print the saved calibration",
				Action: ShowAction,
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "also write the residual plot to `FILE`",
					},
				},
			},
		},
	}
}

// newLogger builds the logger selected by the global flags. The returned closer releases the log
// file, if any.
func newLogger(c *cli.Context) (logging.Logger, io.Closer, error) {
	logger := logging.NewLogger("procam")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("procam")
	}
	path := c.String(flagLogFile)
	if path == "" {
		return logger, nopCloser{}, nil
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, nil, err
	}
	appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{Path: path, MaxBackups: 3})
	logger.AddAppender(appender)
	return logger, closer, nil
}

// loadConfig reads the --config file, or uses the defaults. It also returns where ESC saves the
// parameters.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.CalibrationParameters, string, error) {
	if path := c.String(flagConfig); path != "" {
		cfg, err := config.Read(path, logger)
		return cfg, path, err
	}
	cfg := config.Default()
	if err := cfg.Validate("defaults"); err != nil {
		return nil, "", err
	}
	return &cfg, filepath.Join(cfg.OutputDir, cfg.Object, configName), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type runEnv struct {
	logger logging.Logger
	cfg    *config.CalibrationParameters
	store  *store.DirStore
}

func setup(c *cli.Context) (*runEnv, string, io.Closer, error) {
	logger, closer, err := newLogger(c)
	if err != nil {
		return nil, "", nil, err
	}
	cfg, cfgPath, err := loadConfig(c, logger)
	if err != nil {
		return nil, "", closer, err
	}
	st, err := store.NewDirStore(cfg.OutputDir, cfg.Object, logger.Sublogger("store"))
	if err != nil {
		return nil, "", closer, err
	}
	return &runEnv{logger: logger, cfg: cfg, store: st}, cfgPath, closer, nil
}

// CalibrateAction runs the interactive keypress loop: c calibrates camera and projector, p the
// projector only, ESC saves the parameters and exits.
func CalibrateAction(c *cli.Context) (err error) {
	env, cfgPath, closer, err := setup(c)
	if closer != nil {
		defer func() {
			err = closeAll(err, env, closer)
		}()
	}
	if err != nil {
		return err
	}
	ctx := c.Context

	prior, err := store.LoadState(ctx, env.store)
	if err != nil {
		return err
	}
	printState(prior)

	devs, err := openDevices(env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := devs.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	keys := newKeyReader(os.Stdin)
	for {
		pterm.Info.Println("c: calibrate camera and projector, p: calibrate the projector only, ESC: save and exit")
		key, err := keys.ReadKey()
		if err != nil {
			return err
		}
		switch key {
		case keyEscape:
			if err := config.Write(cfgPath, env.cfg); err != nil {
				return err
			}
			pterm.Success.Printfln("parameters saved to %s", cfgPath)
			return nil
		case 'c', 'p':
			calibrateCamera := key == 'c'
			if !calibrateCamera && !prior.Flags.CamIntrinsic {
				pterm.Warning.Println("the camera is not calibrated yet, press c first")
				continue
			}
			if err := chooseBoardCount(c, env.cfg, keys.tty); err != nil {
				return err
			}
			state, err := runCalibration(ctx, env, prior, devs, keys, calibrateCamera)
			if errors.Is(err, camera.ErrHardwareUnavailable) {
				return err
			}
			if err != nil {
				pterm.Error.Printfln("calibration failed: %v", err)
				continue
			}
			prior = state
			printState(state)
			plotPath := filepath.Join(env.store.Root(), residualName)
			if err := state.SaveResidualPlot(plotPath); err != nil {
				env.logger.Warnw("cannot write residual plot", "error", err)
			}
		default:
		}
	}
}

func closeAll(err error, env *runEnv, closer io.Closer) error {
	if env != nil {
		_ = env.logger.Sync() //nolint:errcheck
	}
	if closeErr := closer.Close(); closeErr != nil && err == nil {
		return closeErr
	}
	return err
}

func chooseBoardCount(c *cli.Context, cfg *config.CalibrationParameters, interactive bool) error {
	if n := c.Int(flagNBoards); n != 0 {
		if n < calibration.MinPoses {
			return errors.Errorf("--%s must be at least %d", flagNBoards, calibration.MinPoses)
		}
		cfg.NBoards = n
		return nil
	}
	if !interactive {
		return nil
	}
	n, err := promptBoardCount(cfg.NBoards)
	if err != nil {
		return err
	}
	cfg.NBoards = n
	return nil
}

func runCalibration(
	ctx context.Context,
	env *runEnv,
	prior *calibration.State,
	devs *devices,
	keys *keyReader,
	calibrateCamera bool,
) (*calibration.State, error) {
	settings := session.NewSettings(env.cfg)
	machine, err := session.NewMachine(settings, prior, nil, env.logger.Sublogger("session"))
	if err != nil {
		return nil, err
	}
	progress := newSessionProgress(NewProgressManager(calibrationSteps()), env.cfg.NBoards)
	defer progress.pm.Stop()
	opts := session.NewDriverOptions(env.cfg)
	opts.Progress = progress.update
	prompter := &terminalPrompter{
		keys:        keys,
		previewPath: filepath.Join(env.store.Root(), previewName),
		window:      settings.ProjectorPattern.Canvas,
	}
	if env.cfg.WindowW > 0 && env.cfg.WindowH > 0 {
		prompter.window.X, prompter.window.Y = env.cfg.WindowW, env.cfg.WindowH
	}
	driver, err := session.NewDriver(machine, devs.source, devs.sink, prompter, env.store, opts, env.logger)
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx, calibrateCamera)
}

func printState(state *calibration.State) {
	pterm.DefaultSection.Println("Calibration")
	pterm.Println(state.String())
}

// CaptureAction saves one settled frame from the configured camera.
func CaptureAction(c *cli.Context) (err error) {
	env, _, closer, err := setup(c)
	if closer != nil {
		defer func() {
			err = closeAll(err, env, closer)
		}()
	}
	if err != nil {
		return err
	}
	ch, err := rimage.ParseChannel(c.String(flagChannel))
	if err != nil {
		return err
	}
	devs, err := openDevices(env.cfg, env.logger)
	if err != nil {
		return err
	}
	ctx := c.Context
	defer func() {
		if closeErr := devs.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if err := devs.source.Initialize(ctx); err != nil {
		return err
	}
	if err := devs.source.StartCapture(ctx); err != nil {
		return err
	}
	defer func() {
		if endErr := devs.source.EndCapture(ctx); endErr != nil && err == nil {
			err = endErr
		}
	}()

	var frame image.Image
	if ch == rimage.ChannelGray {
		frame, err = camera.QueryFrameGray(ctx, devs.source, env.cfg.DelayFrames, env.cfg.CamGain)
	} else {
		frame, err = camera.QueryFrameChannel(ctx, devs.source, env.cfg.DelayFrames, env.cfg.CamGain, ch)
	}
	if err != nil {
		return err
	}
	out := c.Path(flagOut)
	if err := rimage.WriteImageToFile(out, frame); err != nil {
		return err
	}
	pterm.Success.Printfln("frame saved to %s", out)
	return nil
}

// ShowAction prints the saved calibration and its per view errors.
func ShowAction(c *cli.Context) (err error) {
	env, _, closer, err := setup(c)
	if closer != nil {
		defer func() {
			err = closeAll(err, env, closer)
		}()
	}
	if err != nil {
		return err
	}
	state, err := store.LoadState(c.Context, env.store)
	if err != nil {
		return err
	}
	printState(state)
	if state.Flags.CamIntrinsic {
		pterm.Println(calibration.PerViewTable("camera", state.Camera))
	}
	if state.Flags.ProjIntrinsic {
		pterm.Println(calibration.PerViewTable("projector", state.Projector))
	}
	if path := c.Path(flagPlot); path != "" {
		if !state.Flags.CamIntrinsic || !state.Flags.ProjIntrinsic {
			return errors.New("a residual plot needs both devices calibrated")
		}
		return state.SaveResidualPlot(path)
	}
	return nil
}
