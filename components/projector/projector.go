// Package projector defines the display a calibration session draws its patterns on.
package projector

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/utils"
)

// DisplaySink shows full screen patterns on the projector.
type DisplaySink interface {
	ShowPattern(ctx context.Context, img image.Image) error
	Size() image.Point
}

func checkPatternSize(sink DisplaySink, img image.Image) error {
	if got := img.Bounds().Size(); got != sink.Size() {
		return errors.Errorf("pattern is %v but the projector is %v", got, sink.Size())
	}
	return nil
}

// FileSink writes every shown pattern to a directory, together with a preview.png scaled to the
// preview window.
type FileSink struct {
	dir    string
	size   image.Point
	window image.Point
	logger logging.Logger

	mu    sync.Mutex
	count int
}

// NewFileSink returns a sink that writes size-sized patterns under dir. A zero window disables
// the preview.
func NewFileSink(dir string, size, window image.Point, logger logging.Logger) (*FileSink, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileSink{dir: dir, size: size, window: window, logger: logger}, nil
}

// Size is the projector resolution.
func (s *FileSink) Size() image.Point {
	return s.size
}

// ShowPattern writes the pattern as pattern_NNNN.png.
func (s *FileSink) ShowPattern(ctx context.Context, img image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPatternSize(s, img); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, fmt.Sprintf("pattern_%04d.png", s.count))
	if err := rimage.WriteImageToFile(path, img); err != nil {
		return err
	}
	s.count++
	if s.window.X > 0 && s.window.Y > 0 {
		preview := rimage.Preview(img, s.window.X, s.window.Y)
		if err := rimage.WriteImageToFile(filepath.Join(s.dir, "preview.png"), preview); err != nil {
			return err
		}
	}
	s.logger.Debugw("pattern written", "path", path)
	return nil
}

// Shown is the number of patterns written so far.
func (s *FileSink) Shown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// RecordingSink keeps every shown pattern in memory and optionally forwards it to another sink.
type RecordingSink struct {
	next DisplaySink
	size image.Point

	mu       sync.Mutex
	patterns []*image.Gray
}

// NewRecordingSink records patterns shown on next. A nil next records patterns of the given size
// without displaying them anywhere.
func NewRecordingSink(next DisplaySink, size image.Point) *RecordingSink {
	if next != nil {
		size = next.Size()
	}
	return &RecordingSink{next: next, size: size}
}

// Size is the projector resolution.
func (s *RecordingSink) Size() image.Point {
	return s.size
}

// ShowPattern records a gray copy of img and forwards it.
func (s *RecordingSink) ShowPattern(ctx context.Context, img image.Image) error {
	if err := checkPatternSize(s, img); err != nil {
		return err
	}
	if s.next != nil {
		if err := s.next.ShowPattern(ctx, img); err != nil {
			return err
		}
	}
	gray := rimage.MakeGray(img)
	cp := &image.Gray{Pix: append([]uint8(nil), gray.Pix...), Stride: gray.Stride, Rect: gray.Rect}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, cp)
	return nil
}

// Patterns returns the recorded patterns in display order.
func (s *RecordingSink) Patterns() []*image.Gray {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*image.Gray(nil), s.patterns...)
}

// Last returns the most recent pattern, or nil.
func (s *RecordingSink) Last() *image.Gray {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patterns) == 0 {
		return nil
	}
	return s.patterns[len(s.patterns)-1]
}

// MultiSink shows every pattern on several sinks of the same size, in order.
type MultiSink struct {
	sinks []DisplaySink
}

// NewMultiSink combines sinks; all of them must have the same size.
func NewMultiSink(sinks ...DisplaySink) (*MultiSink, error) {
	if len(sinks) == 0 {
		return nil, errors.New("no sinks to combine")
	}
	for _, s := range sinks[1:] {
		if s.Size() != sinks[0].Size() {
			return nil, errors.Errorf("sink sizes differ: %v and %v", sinks[0].Size(), s.Size())
		}
	}
	return &MultiSink{sinks: sinks}, nil
}

// Size is the shared projector resolution.
func (s *MultiSink) Size() image.Point {
	return s.sinks[0].Size()
}

// ShowPattern shows img on each sink and stops at the first failure.
func (s *MultiSink) ShowPattern(ctx context.Context, img image.Image) error {
	for _, sink := range s.sinks {
		if err := sink.ShowPattern(ctx, img); err != nil {
			return err
		}
	}
	return nil
}
