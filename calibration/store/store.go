// Package store persists calibration results as named matrices under
// <output dir>/<object>/calib/{cam,proj}/.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/utils"
)

// ErrNotCalibrated is returned by Load when the requested matrix was never saved.
var ErrNotCalibrated = errors.New("no calibration data")

// Device selects the calibration subdirectory.
type Device string

const (
	// Camera results live in calib/cam.
	Camera Device = "cam"
	// Projector results live in calib/proj.
	Projector Device = "proj"
)

func (d Device) validate() error {
	if d != Camera && d != Projector {
		return errors.Errorf("unknown device %q", string(d))
	}
	return nil
}

// Store saves and loads named matrices and calibration images.
type Store interface {
	Save(ctx context.Context, device Device, name string, m *mat.Dense) error
	Load(ctx context.Context, device Device, name string) (*mat.Dense, error)
	SaveImages(ctx context.Context, device Device, pose int, images map[string]image.Image) error
}

// matrixFile is the on disk form of a matrix.
type matrixFile struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// DirStore is a Store backed by a directory tree.
type DirStore struct {
	root   string
	logger logging.Logger
}

// NewDirStore returns a store rooted at <outputDir>/<object>/calib.
func NewDirStore(outputDir, object string, logger logging.Logger) (*DirStore, error) {
	root, err := utils.SafeJoinDir(outputDir, filepath.Join(object, "calib"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid calibration directory")
	}
	return &DirStore{root: root, logger: logger}, nil
}

// Root is the calibration directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) path(device Device, name string) (string, error) {
	if err := device.validate(); err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name {
		return "", errors.Errorf("invalid matrix name %q", name)
	}
	return filepath.Join(s.root, string(device), name+".json"), nil
}

// Save writes a matrix.
func (s *DirStore) Save(ctx context.Context, device Device, name string, m *mat.Dense) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errors.Errorf("cannot save nil matrix %s", name)
	}
	path, err := s.path(device, name)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	rows, cols := m.Dims()
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return errors.Wrapf(err, "saving %s", name)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(matrixFile{Rows: rows, Cols: cols, Data: data}); err != nil {
		return errors.Wrapf(err, "encoding %s", name)
	}
	s.logger.Debugw("saved matrix", "device", device, "name", name, "rows", rows, "cols", cols)
	return nil
}

// Load reads a matrix. A matrix that was never saved returns ErrNotCalibrated.
func (s *DirStore) Load(ctx context.Context, device Device, name string) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(device, name)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotCalibrated, "%s/%s", device, name)
		}
		return nil, errors.Wrapf(err, "loading %s", name)
	}
	var mf matrixFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", name)
	}
	if mf.Rows <= 0 || mf.Cols <= 0 || len(mf.Data) != mf.Rows*mf.Cols {
		return nil, errors.Errorf("%s: %dx%d matrix has %d values", name, mf.Rows, mf.Cols, len(mf.Data))
	}
	return mat.NewDense(mf.Rows, mf.Cols, mf.Data), nil
}

// SaveImages writes the images of one pose as PNG files named <device>_<pose>_<key>.png under
// the device's images directory.
func (s *DirStore) SaveImages(ctx context.Context, device Device, pose int, images map[string]image.Image) error {
	if err := device.validate(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, string(device), "images")
	var errs error
	for key, img := range images {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%02d_%s.png", device, pose, key))
		errs = multierr.Append(errs, rimage.WriteImageToFile(path, img))
	}
	return errs
}
