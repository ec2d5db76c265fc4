package store

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/spatialmath"
)

// Matrix names, matching the files written by earlier versions of the tool.
const (
	CamIntrinsic          = "cam_intrinsic"
	CamDistortion         = "cam_distortion"
	CamRotationVectors    = "cam_rotation_vectors"
	CamTranslationVectors = "cam_translation_vectors"
	CamObjectPoints       = "cam_object_points"
	CamImagePoints        = "cam_image_points"
	CamCalibrationError   = "cam_calibration_error"
	CamExtrinsic          = "cam_extrinsic"
	CamDimensions         = "cam_dimensions"

	ProjIntrinsic          = "proj_intrinsic"
	ProjDistortion         = "proj_distortion"
	ProjRotationVectors    = "proj_rotation_vectors"
	ProjTranslationVectors = "proj_translation_vectors"
	ProjCalibrationError   = "proj_calibration_error"
	ProjExtrinsic          = "proj_extrinsic"
	ProjExtrinsic4x4       = "proj_extrinsic_4x4"
	ProjExtrinsicNew       = "proj_extrinsic_new"
	ProjDimensions         = "proj_dimensions"
)

type namedMatrix struct {
	device Device
	name   string
	m      *mat.Dense
}

// SaveState writes the parts of the state whose flag is set.
func SaveState(ctx context.Context, s Store, state *calibration.State) error {
	if state == nil {
		return errors.New("no calibration state to save")
	}
	var out []namedMatrix
	if state.Flags.CamIntrinsic {
		if state.Camera == nil {
			return errors.New("camera flagged as calibrated without a camera model")
		}
		out = append(out, deviceMatrices(Camera, state.Camera)...)
		out = append(out,
			namedMatrix{Camera, CamObjectPoints, stackVectors(state.Camera.ObjectPoints)},
			namedMatrix{Camera, CamImagePoints, stackPoints(state.Camera.ImagePoints)},
		)
	}
	if state.Flags.ProjIntrinsic {
		if state.Projector == nil {
			return errors.New("projector flagged as calibrated without a projector model")
		}
		out = append(out, deviceMatrices(Projector, state.Projector)...)
	}
	if state.Flags.ProcamExtrinsic {
		if state.Camera == nil || state.Projector == nil {
			return errors.New("extrinsics flagged as calibrated without both device models")
		}
		out = append(out,
			namedMatrix{Camera, CamExtrinsic, state.Camera.Extrinsic.AsRows()},
			namedMatrix{Projector, ProjExtrinsic, state.Projector.Extrinsic.AsRows()},
			namedMatrix{Projector, ProjExtrinsicNew, state.ProjExtrinsicInCamera.AsRows()},
		)
		if state.ProjExtrinsic4x4 != nil {
			out = append(out, namedMatrix{Projector, ProjExtrinsic4x4, state.ProjExtrinsic4x4})
		}
	}
	for _, nm := range out {
		if nm.m == nil {
			continue
		}
		if err := s.Save(ctx, nm.device, nm.name, nm.m); err != nil {
			return err
		}
	}
	return nil
}

func deviceMatrices(device Device, d *calibration.DeviceCalibration) []namedMatrix {
	names := map[Device][5]string{
		Camera:    {CamIntrinsic, CamDistortion, CamRotationVectors, CamTranslationVectors, CamCalibrationError},
		Projector: {ProjIntrinsic, ProjDistortion, ProjRotationVectors, ProjTranslationVectors, ProjCalibrationError},
	}[device]
	dims := CamDimensions
	if device == Projector {
		dims = ProjDimensions
	}
	out := []namedMatrix{
		{device, names[0], d.Intrinsics},
		{device, names[1], mat.NewDense(1, len(d.Distortion), append([]float64(nil), d.Distortion...))},
		{device, names[2], stackVectors([][]r3.Vector{d.RotationVectors})},
		{device, names[3], stackVectors([][]r3.Vector{d.TranslationVectors})},
		{device, names[4], mat.NewDense(1, 1, []float64{d.RMS})},
		{device, dims, mat.NewDense(1, 2, []float64{float64(d.Size.X), float64(d.Size.Y)})},
	}
	if len(d.Distortion) == 0 {
		out[1].m = nil
	}
	return out
}

func stackVectors(views [][]r3.Vector) *mat.Dense {
	var data []float64
	for _, v := range views {
		for _, p := range v {
			data = append(data, p.X, p.Y, p.Z)
		}
	}
	if len(data) == 0 {
		return nil
	}
	return mat.NewDense(len(data)/3, 3, data)
}

func stackPoints(views [][]r2.Point) *mat.Dense {
	var data []float64
	for _, v := range views {
		for _, p := range v {
			data = append(data, p.X, p.Y)
		}
	}
	if len(data) == 0 {
		return nil
	}
	return mat.NewDense(len(data)/2, 2, data)
}

func unstackVectors(m *mat.Dense) []r3.Vector {
	if m == nil {
		return nil
	}
	rows, _ := m.Dims()
	out := make([]r3.Vector, rows)
	for i := range out {
		out[i] = r3.Vector{X: m.At(i, 0), Y: m.At(i, 1), Z: m.At(i, 2)}
	}
	return out
}

// LoadState reads a previously saved state. Camera intrinsics and distortion set the camera flag,
// projector intrinsics and distortion set the projector flag, and both extrinsics together with
// both intrinsic flags set the extrinsic flag. Missing matrices leave their flag unset; any other
// failure is returned.
func LoadState(ctx context.Context, s Store) (*calibration.State, error) {
	state := &calibration.State{}
	load := func(device Device, name string) (*mat.Dense, bool, error) {
		m, err := s.Load(ctx, device, name)
		if errors.Is(err, ErrNotCalibrated) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return m, true, nil
	}

	var err error
	if state.Camera, state.Flags.CamIntrinsic, err = loadDevice(Camera, load); err != nil {
		return nil, err
	}
	if state.Projector, state.Flags.ProjIntrinsic, err = loadDevice(Projector, load); err != nil {
		return nil, err
	}

	camExt, okCam, err := load(Camera, CamExtrinsic)
	if err != nil {
		return nil, err
	}
	projExt, okProj, err := load(Projector, ProjExtrinsic)
	if err != nil {
		return nil, err
	}
	if !okCam || !okProj || !state.Flags.CamIntrinsic || !state.Flags.ProjIntrinsic {
		return state, nil
	}
	if state.Camera.Extrinsic, err = spatialmath.ExtrinsicFromRows(camExt); err != nil {
		return nil, errors.Wrap(err, CamExtrinsic)
	}
	if state.Projector.Extrinsic, err = spatialmath.ExtrinsicFromRows(projExt); err != nil {
		return nil, errors.Wrap(err, ProjExtrinsic)
	}
	if rel, ok, err := load(Projector, ProjExtrinsicNew); err != nil {
		return nil, err
	} else if ok {
		if state.ProjExtrinsicInCamera, err = spatialmath.ExtrinsicFromRows(rel); err != nil {
			return nil, errors.Wrap(err, ProjExtrinsicNew)
		}
	}
	if state.ProjExtrinsic4x4, _, err = load(Projector, ProjExtrinsic4x4); err != nil {
		return nil, err
	}
	state.Flags.ProcamExtrinsic = true
	return state, nil
}

func loadDevice(
	device Device,
	load func(Device, string) (*mat.Dense, bool, error),
) (*calibration.DeviceCalibration, bool, error) {
	names := map[Device][6]string{
		Camera:    {CamIntrinsic, CamDistortion, CamRotationVectors, CamTranslationVectors, CamCalibrationError, CamDimensions},
		Projector: {ProjIntrinsic, ProjDistortion, ProjRotationVectors, ProjTranslationVectors, ProjCalibrationError, ProjDimensions},
	}[device]

	k, okK, err := load(device, names[0])
	if err != nil {
		return nil, false, err
	}
	dist, okDist, err := load(device, names[1])
	if err != nil {
		return nil, false, err
	}
	if !okK || !okDist {
		return nil, false, nil
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, false, errors.Errorf("%s must be 3x3, got %dx%d", names[0], r, c)
	}
	d := &calibration.DeviceCalibration{Intrinsics: k, Distortion: mat.Row(nil, 0, dist)}

	rvecs, _, err := load(device, names[2])
	if err != nil {
		return nil, false, err
	}
	tvecs, _, err := load(device, names[3])
	if err != nil {
		return nil, false, err
	}
	d.RotationVectors = unstackVectors(rvecs)
	d.TranslationVectors = unstackVectors(tvecs)
	if n := len(d.RotationVectors); n > 0 {
		d.RotationMatrix = spatialmath.RotationVectorToMatrix(d.RotationVectors[n-1])
	}
	if rms, ok, err := load(device, names[4]); err != nil {
		return nil, false, err
	} else if ok {
		d.RMS = rms.At(0, 0)
	}
	if dims, ok, err := load(device, names[5]); err != nil {
		return nil, false, err
	} else if ok {
		d.Size = image.Point{X: int(dims.At(0, 0)), Y: int(dims.At(0, 1))}
	}
	return d, true, nil
}
