package cli

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/components/camera/fake"
	"go.viam.com/procam/components/camera/imagedir"
	"go.viam.com/procam/components/camera/webcam"
	"go.viam.com/procam/components/projector"
	"go.viam.com/procam/config"
	"go.viam.com/procam/logging"
)

// devices are the camera and projector selected by the parameters.
type devices struct {
	source camera.FrameSource
	sink   projector.DisplaySink
}

func openDevices(cfg *config.CalibrationParameters, logger logging.Logger) (*devices, error) {
	var d devices
	var sceneSink projector.DisplaySink

	switch cfg.Camera.Type {
	case config.SourceSynthetic:
		rig, err := fake.RigConfig(cfg.CameraSize(), cfg.ProjectorSize(), cfg.CameraBoard())
		if err != nil {
			return nil, err
		}
		scene, err := fake.NewScene(rig, logger.Sublogger("scene"))
		if err != nil {
			return nil, err
		}
		d.source = scene
		sceneSink = scene.Projector()
	case config.SourceDirectory:
		d.source = imagedir.NewSource(cfg.Camera.Path, logger.Sublogger("imagedir"))
	case config.SourceWebcam:
		d.source = webcam.NewSource(webcam.Config{
			Label:  cfg.Camera.Label,
			Width:  cfg.CamWidth,
			Height: cfg.CamHeight,
		}, logger.Sublogger("webcam"))
	default:
		return nil, errors.Errorf("unknown camera type %q", cfg.Camera.Type)
	}

	switch cfg.Projector.Type {
	case config.SinkSynthetic:
		if sceneSink == nil {
			return nil, errors.New("a synthetic projector needs a synthetic camera")
		}
		d.sink = sceneSink
	case config.SinkFile:
		fileSink, err := projector.NewFileSink(cfg.Projector.Path, cfg.ProjectorSize(),
			image.Point{cfg.WindowW, cfg.WindowH}, logger.Sublogger("projector"))
		if err != nil {
			return nil, err
		}
		d.sink = fileSink
		if sceneSink != nil {
			// the scene still has to see what is projected
			if d.sink, err = projector.NewMultiSink(sceneSink, fileSink); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("unknown projector type %q", cfg.Projector.Type)
	}
	return &d, nil
}

func (d *devices) Close(ctx context.Context) error {
	var err error
	if d.source != nil {
		err = multierr.Append(err, d.source.Close(ctx))
	}
	return err
}
