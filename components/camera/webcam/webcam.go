// Package webcam reads frames from a local video device through mediadevices.
package webcam

import (
	"context"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/availability"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	xdraw "golang.org/x/image/draw"

	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/logging"
)

var (
	errClosed       = errors.New("camera has been closed")
	errDisconnected = errors.New("camera is disconnected; please try again in a few moments")
)

// Config selects and sizes the device.
type Config struct {
	// Label is the first part of the device label, typically its path. Empty selects any device.
	Label  string
	Width  int
	Height int
	Debug  bool
}

// makeConstraints returns the mediadevices constraints that pick the stream resolution and format.
func makeConstraints(conf Config, deviceID string, logger logging.Logger) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				constraint.DeviceID = prop.StringExact(deviceID)
			}
			if conf.Width > 0 {
				constraint.Width = prop.IntExact(conf.Width)
			} else {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
			}

			if conf.Height > 0 {
				constraint.Height = prop.IntExact(conf.Height)
			} else {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
			}

			constraint.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatRGBA,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatNV21,
			}

			if conf.Debug {
				logger.Debugf("constraints: %v", constraint)
			}
		},
	}
}

// labelPath returns the first element of a driver label, which is the device path.
func labelPath(label string) string {
	return strings.Split(label, mediadevicescamera.LabelSeparator)[0]
}

// findDriver returns the first video driver whose label path matches label, or any driver if the
// label is empty.
func findDriver(drivers []driverutils.Driver, label string) (driverutils.Driver, error) {
	for _, d := range drivers {
		if label == "" || labelPath(d.Info().Label) == label {
			return d, nil
		}
	}
	if label == "" {
		return nil, errors.New("found no webcams")
	}
	return nil, errors.Errorf("found no webcam labeled %q", label)
}

// findReaderAndDriver opens the configured device and returns a frame reader, the track that owns
// it and the driver backing it.
func findReaderAndDriver(
	conf Config,
	logger logging.Logger,
) (video.Reader, mediadevices.Track, driverutils.Driver, error) {
	mediadevicescamera.Initialize()
	driver, err := findDriver(driverutils.GetManager().Query(driverutils.FilterVideoRecorder()), conf.Label)
	if err != nil {
		return nil, nil, nil, err
	}

	stream, err := mediadevices.GetUserMedia(makeConstraints(conf, driver.ID(), logger))
	if err != nil {
		return nil, nil, nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, nil, errors.New("webcam produced no video track")
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, nil, nil, errors.Errorf("unexpected track type %T", tracks[0])
	}
	reader := videoTrack.NewReader(false)

	if conf.Width != 0 && conf.Height != 0 {
		img, release, err := reader.Read()
		if release != nil {
			defer release()
		}
		if err != nil {
			return nil, nil, nil, multiClose(err, videoTrack)
		}
		if img.Bounds().Dx() != conf.Width || img.Bounds().Dy() != conf.Height {
			return nil, nil, nil, multiClose(errors.Errorf("requested width and height (%dx%d) are not available for this webcam"+
				" (closest driver found supports resolution %dx%d)",
				conf.Width, conf.Height, img.Bounds().Dx(), img.Bounds().Dy()), videoTrack)
		}
	}
	return reader, videoTrack, driver, nil
}

func multiClose(err error, track mediadevices.Track) error {
	return multierr.Combine(err, track.Close())
}

// Source is a camera.FrameSource backed by a webcam that reconnects when the device drops out.
type Source struct {
	mu     sync.RWMutex
	conf   Config
	reader video.Reader
	track  mediadevices.Track
	driver driverutils.Driver

	// resolved on first connection when the config leaves the label empty
	targetLabel string

	cancelCtx               context.Context
	cancel                  func()
	closed                  bool
	disconnected            bool
	capturing               bool
	activeBackgroundWorkers sync.WaitGroup
	logger                  logging.Logger
}

var _ camera.FrameSource = (*Source)(nil)

// NewSource returns an unopened webcam source.
func NewSource(conf Config, logger logging.Logger) *Source {
	return &Source{conf: conf, targetLabel: conf.Label, logger: logger.Sublogger("webcam")}
}

// Initialize opens the device and starts monitoring its connection.
func (c *Source) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("webcam already initialized")
	}
	if err := c.reconnectCamera(); err != nil {
		return camera.NewHardwareUnavailableError(err)
	}
	c.cancelCtx, c.cancel = context.WithCancel(context.Background())
	c.monitor()
	return nil
}

// isCameraConnected is a helper for monitoring connectivity to the driver.
func (c *Source) isCameraConnected() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.driver == nil {
		return true, errors.New("no configured camera")
	}
	_, err := driverutils.IsAvailable(c.driver)
	return !errors.Is(err, availability.ErrNoDevice), nil
}

// reconnectCamera tries to reconnect to a driver that matches the config.
// Assumes a write lock is held.
func (c *Source) reconnectCamera() error {
	if c.track != nil {
		c.logger.Debug("closing current camera")
		if err := c.track.Close(); err != nil {
			c.logger.Errorw("failed to close current camera", "error", err)
		}
		c.track = nil
		c.driver = nil
		c.reader = nil
	}

	conf := c.conf
	conf.Label = c.targetLabel
	reader, track, driver, err := findReaderAndDriver(conf, c.logger)
	if err != nil {
		return errors.Wrap(err, "failed to find camera")
	}

	c.reader = reader
	c.track = track
	c.driver = driver
	c.disconnected = false
	c.closed = false
	if c.targetLabel == "" {
		c.targetLabel = labelPath(driver.Info().Label)
	}
	c.logger.Infow("webcam connected", "label", c.targetLabel)
	return nil
}

// monitor polls the device and reconnects it when it disappears, until Close.
func (c *Source) monitor() {
	const wait = 500 * time.Millisecond
	c.activeBackgroundWorkers.Add(1)

	goutils.ManagedGo(func() {
		for {
			if !goutils.SelectContextOrWait(c.cancelCtx, wait) {
				return
			}

			ok, err := c.isCameraConnected()
			if err != nil {
				c.logger.Debugw("cannot determine camera status", "error", err)
				continue
			}
			if ok {
				continue
			}

			c.mu.Lock()
			c.disconnected = true
			c.mu.Unlock()

			c.logger.Error("camera no longer connected; reconnecting")
			for {
				if !goutils.SelectContextOrWait(c.cancelCtx, wait) {
					return
				}
				c.mu.Lock()
				err := c.reconnectCamera()
				c.mu.Unlock()
				if err != nil {
					c.logger.Debugw("failed to reconnect camera", "error", err)
					continue
				}
				c.logger.Infow("camera reconnected")
				break
			}
		}
	}, c.activeBackgroundWorkers.Done)
}

// ensureActive is a helper that guards logic that requires the camera to be actively connected.
func (c *Source) ensureActive() error {
	if c.closed {
		return errClosed
	}
	if c.disconnected {
		return errDisconnected
	}
	if c.reader == nil {
		return errors.New("webcam not initialized")
	}
	return nil
}

// StartCapture marks the start of a capture session.
func (c *Source) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureActive(); err != nil {
		return camera.NewHardwareUnavailableError(err)
	}
	c.capturing = true
	return nil
}

// EndCapture marks the end of a capture session.
func (c *Source) EndCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
	return nil
}

// QueryFrame reads the next frame. The returned image is a copy the caller owns.
func (c *Source) QueryFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureActive(); err != nil {
		return nil, camera.NewHardwareUnavailableError(err)
	}
	img, release, err := c.reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, camera.NewHardwareUnavailableError(errors.Wrap(err, "reading webcam frame"))
	}
	return copyImage(img), nil
}

func copyImage(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(out, out.Bounds(), img, bounds.Min, xdraw.Src)
	return out
}

// Close stops the monitor and releases the device.
func (c *Source) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("webcam already closed")
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.activeBackgroundWorkers.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track.Close()
}
