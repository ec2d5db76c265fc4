// Package imagedir replays frames stored in a directory, in file name order.
package imagedir

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
)

// ErrExhausted is returned once every frame in the directory has been read.
var ErrExhausted = errors.New("no more frames in directory")

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".ppm":  true,
	".pgm":  true,
	".qoi":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Source is a camera.FrameSource that reads one file per frame.
type Source struct {
	dir    string
	logger logging.Logger

	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

var _ camera.FrameSource = (*Source)(nil)

// NewSource returns a source for the frames in dir. The directory is listed on Initialize.
func NewSource(dir string, logger logging.Logger) *Source {
	return &Source{dir: dir, logger: logger}
}

// Initialize lists the frame files of the directory.
func (s *Source) Initialize(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return camera.NewHardwareUnavailableError(errors.Wrapf(err, "listing frames in %s", s.dir))
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	if len(files) == 0 {
		return camera.NewHardwareUnavailableError(errors.Errorf("no frames in %s", s.dir))
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	s.next = 0
	s.closed = false
	s.logger.Debugw("image directory ready", "dir", s.dir, "frames", len(files))
	return nil
}

// StartCapture does nothing; frames are read on demand.
func (s *Source) StartCapture(ctx context.Context) error {
	return nil
}

// EndCapture does nothing.
func (s *Source) EndCapture(ctx context.Context) error {
	return nil
}

// QueryFrame decodes the next file.
func (s *Source) QueryFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, camera.NewHardwareUnavailableError(errors.New("image directory closed"))
	}
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return nil, ErrExhausted
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("read frame", "path", path)
	return img, nil
}

// Remaining is the number of frames not yet read.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files) - s.next
}

// Close releases the source.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
