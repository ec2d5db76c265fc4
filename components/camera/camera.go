// Package camera defines the frame source a calibration session reads from, along with helpers
// that turn raw frames into the gray and single channel images the detectors consume.
package camera

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/procam/rimage"
)

// ErrHardwareUnavailable is returned when a device cannot be opened or stops producing frames.
var ErrHardwareUnavailable = errors.New("camera hardware unavailable")

// FrameSource produces camera frames. Initialize opens the device, StartCapture and EndCapture
// bracket a capture session, and Close releases the device.
type FrameSource interface {
	Initialize(ctx context.Context) error
	StartCapture(ctx context.Context) error
	EndCapture(ctx context.Context) error
	QueryFrame(ctx context.Context) (image.Image, error)
	Close(ctx context.Context) error
}

// NewHardwareUnavailableError wraps err so errors.Is(err, ErrHardwareUnavailable) holds.
func NewHardwareUnavailableError(err error) error {
	if err == nil {
		return ErrHardwareUnavailable
	}
	return &hardwareError{err}
}

type hardwareError struct {
	err error
}

func (e *hardwareError) Error() string {
	return ErrHardwareUnavailable.Error() + ": " + e.err.Error()
}

func (e *hardwareError) Unwrap() error {
	return e.err
}

func (e *hardwareError) Is(target error) bool {
	return target == ErrHardwareUnavailable
}

// QueryFrameSafe discards delayFrames-1 frames and returns the next one, giving the sensor time to
// settle after the projected pattern changed.
func QueryFrameSafe(ctx context.Context, src FrameSource, delayFrames int) (image.Image, error) {
	for i := 1; i < delayFrames; i++ {
		if _, err := src.QueryFrame(ctx); err != nil {
			return nil, err
		}
	}
	return src.QueryFrame(ctx)
}

// QueryFrameGray returns a settled frame converted to gray, after gain is applied.
func QueryFrameGray(ctx context.Context, src FrameSource, delayFrames, gainPercent int) (*image.Gray, error) {
	img, err := QueryFrameSafe(ctx, src, delayFrames)
	if err != nil {
		return nil, err
	}
	return rimage.ApplyGainGray(rimage.MakeGray(img), gainPercent), nil
}

// QueryFrameChannel returns one color channel of a settled frame, after gain is applied.
func QueryFrameChannel(ctx context.Context, src FrameSource, delayFrames, gainPercent int, ch rimage.Channel) (*image.Gray, error) {
	img, err := QueryFrameSafe(ctx, src, delayFrames)
	if err != nil {
		return nil, err
	}
	return rimage.ExtractChannel(rimage.ApplyGain(img, gainPercent), ch), nil
}
