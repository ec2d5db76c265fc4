// Package fake renders a projector-camera rig in software. A Scene is both the camera that films
// the rig and the projector that lights it, so a full calibration session can run without
// hardware.
package fake

import (
	"context"
	"image"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/calibration"
	"go.viam.com/procam/components/camera"
	"go.viam.com/procam/logging"
	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/transform"
	"go.viam.com/procam/spatialmath"
	"go.viam.com/procam/utils"
)

// Albedo is the fraction of red, green and blue light a surface reflects.
type Albedo struct {
	R, G, B float64
}

// Paper is a white surface.
var Paper = Albedo{0.9, 0.9, 0.9}

// CyanInk absorbs red light and reflects blue, so a board printed with it shows in the red channel
// and vanishes in the blue one.
var CyanInk = Albedo{0.1, 0.9, 0.9}

// SceneConfig describes the rig. Poses place the board in camera coordinates, one per captured
// pose; before the first one the camera looks at a flat wall.
type SceneConfig struct {
	Camera    *transform.PinholeCameraModel
	Projector *transform.PinholeCameraModel
	// ProjInCam maps camera coordinates into projector coordinates.
	ProjInCam    spatialmath.Extrinsic
	Board        calibration.Board
	Poses        []spatialmath.Extrinsic
	WallDistance float64
	Ambient      float64
	Paper        Albedo
	Ink          Albedo
	Wall         Albedo
	// Supersample is the number of samples per pixel side.
	Supersample int
}

// Validate checks the config.
func (cfg *SceneConfig) Validate() error {
	if cfg.Camera == nil || cfg.Projector == nil {
		return errors.New("scene needs a camera and a projector model")
	}
	if err := cfg.Camera.CheckValid(); err != nil {
		return errors.Wrap(err, "scene camera")
	}
	if err := cfg.Projector.CheckValid(); err != nil {
		return errors.Wrap(err, "scene projector")
	}
	if len(cfg.Poses) == 0 {
		return errors.New("scene needs at least one board pose")
	}
	if cfg.WallDistance <= 0 {
		return errors.New("wall distance must be positive")
	}
	if cfg.Ambient < 0 || cfg.Ambient >= 1 {
		return errors.Errorf("ambient light must be in [0, 1), got %v", cfg.Ambient)
	}
	if cfg.Supersample <= 0 {
		return errors.New("supersample must be positive")
	}
	_, err := cfg.Board.ObjectPoints(calibration.TraversalRowMajor)
	return err
}

type rigid struct {
	rot [3][3]float64
	t   r3.Vector
}

func newRigid(ext spatialmath.Extrinsic) rigid {
	m := spatialmath.RotationVectorToMatrix(ext.Rotation)
	var r rigid
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.rot[i][j] = m.At(i, j)
		}
	}
	r.t = ext.Translation
	return r
}

func (r rigid) apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.rot[0][0]*p.X + r.rot[0][1]*p.Y + r.rot[0][2]*p.Z + r.t.X,
		Y: r.rot[1][0]*p.X + r.rot[1][1]*p.Y + r.rot[1][2]*p.Z + r.t.Y,
		Z: r.rot[2][0]*p.X + r.rot[2][1]*p.Y + r.rot[2][2]*p.Z + r.t.Z,
	}
}

// applyInverse maps p back through the transform.
func (r rigid) applyInverse(p r3.Vector) r3.Vector {
	d := p.Sub(r.t)
	return r3.Vector{
		X: r.rot[0][0]*d.X + r.rot[1][0]*d.Y + r.rot[2][0]*d.Z,
		Y: r.rot[0][1]*d.X + r.rot[1][1]*d.Y + r.rot[2][1]*d.Z,
		Z: r.rot[0][2]*d.X + r.rot[1][2]*d.Y + r.rot[2][2]*d.Z,
	}
}

// Scene is a camera.FrameSource filming the rig. Its Projector method returns the matching
// projector.DisplaySink. Showing a solid white pattern moves the board to its next pose, the way
// an operator moves the board between captures.
type Scene struct {
	cfg    SceneConfig
	logger logging.Logger
	size   image.Point
	// undistorted normalized ray of every camera sample
	rays    []r2.Point
	proj    rigid
	closed  bool
	mu      sync.Mutex
	pose    int
	pattern *image.Gray
	frame   *image.NRGBA
	served  int
}

var _ camera.FrameSource = (*Scene)(nil)

// NewScene validates the config and precomputes the camera rays.
func NewScene(cfg SceneConfig, logger logging.Logger) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scene{
		cfg:    cfg,
		logger: logger,
		size:   image.Point{cfg.Camera.Width, cfg.Camera.Height},
		proj:   newRigid(cfg.ProjInCam),
		pose:   -1,
	}
	n := cfg.Supersample
	pixels := make([]r2.Point, 0, s.size.X*s.size.Y*n*n)
	for y := 0; y < s.size.Y; y++ {
		for x := 0; x < s.size.X; x++ {
			for sy := 0; sy < n; sy++ {
				for sx := 0; sx < n; sx++ {
					pixels = append(pixels, r2.Point{
						X: float64(x) + (float64(sx)+0.5)/float64(n) - 0.5,
						Y: float64(y) + (float64(sy)+0.5)/float64(n) - 0.5,
					})
				}
			}
		}
	}
	s.rays = cfg.Camera.UndistortPoints(pixels)
	return s, nil
}

// Initialize does nothing.
func (s *Scene) Initialize(ctx context.Context) error {
	return nil
}

// StartCapture does nothing.
func (s *Scene) StartCapture(ctx context.Context) error {
	return nil
}

// EndCapture does nothing.
func (s *Scene) EndCapture(ctx context.Context) error {
	return nil
}

// Close makes every later QueryFrame fail.
func (s *Scene) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PoseIndex is the current board pose; -1 means the camera sees the wall.
func (s *Scene) PoseIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// FramesServed counts QueryFrame calls that returned a frame.
func (s *Scene) FramesServed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// Config returns the rig description.
func (s *Scene) Config() SceneConfig {
	return s.cfg
}

// QueryFrame renders the rig under the current pattern.
func (s *Scene) QueryFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, camera.NewHardwareUnavailableError(errors.New("synthetic camera closed"))
	}
	if s.frame == nil {
		s.frame = s.render()
	}
	s.served++
	out := *s.frame
	out.Pix = append([]uint8(nil), s.frame.Pix...)
	return &out, nil
}

func (s *Scene) show(ctx context.Context, img image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gray := rimage.MakeGray(img)
	cp := &image.Gray{Pix: append([]uint8(nil), gray.Pix...), Stride: gray.Stride, Rect: gray.Rect}
	lo, hi, err := rimage.MinMaxGray(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lo == 255 && hi == 255 {
		s.pose = (s.pose + 1) % len(s.cfg.Poses)
		s.logger.Debugw("board moved", "pose", s.pose)
	}
	s.pattern = cp
	s.frame = nil
	return nil
}

// render draws the frame for the current pose and pattern. Assumes the lock is held.
func (s *Scene) render() *image.NRGBA {
	var surface rigid
	wall := s.pose < 0
	if wall {
		surface = rigid{rot: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, t: r3.Vector{Z: s.cfg.WallDistance}}
	} else {
		surface = newRigid(s.cfg.Poses[s.pose])
	}
	normal := r3.Vector{X: surface.rot[0][2], Y: surface.rot[1][2], Z: surface.rot[2][2]}
	plane := [4]float64{normal.X, normal.Y, normal.Z, normal.Dot(surface.t)}

	n := s.cfg.Supersample
	perPixel := n * n
	img := image.NewNRGBA(image.Rect(0, 0, s.size.X, s.size.Y))
	utils.ParallelForEachPixel(s.size, func(x, y int) {
		var sum Albedo
		base := (y*s.size.X + x) * perPixel
		for k := 0; k < perPixel; k++ {
			ray := s.rays[base+k]
			pt, depth := spatialmath.IntersectLineWithPlane3D(r3.Vector{}, r3.Vector{X: ray.X, Y: ray.Y, Z: 1}, plane)
			if depth <= 0 || math.IsNaN(depth) || math.IsInf(depth, 0) {
				continue
			}
			albedo := s.cfg.Wall
			if !wall {
				albedo = s.boardAlbedo(surface.applyInverse(pt))
			}
			light := s.cfg.Ambient + (1-s.cfg.Ambient)*s.illumination(pt)/255
			sum.R += albedo.R * light
			sum.G += albedo.G * light
			sum.B += albedo.B * light
		}
		i := y*img.Stride + x*4
		img.Pix[i] = toByte(sum.R / float64(perPixel))
		img.Pix[i+1] = toByte(sum.G / float64(perPixel))
		img.Pix[i+2] = toByte(sum.B / float64(perPixel))
		img.Pix[i+3] = 255
	})
	return img
}

func toByte(v float64) uint8 {
	return uint8(utils.ClampF64(255*v+0.5, 0, 255))
}

// boardAlbedo returns the albedo of a point in board coordinates. Square (i, j) covers the cells
// between corners i-1 and i, j-1 and j; squares with i and j of the same parity are inked.
func (s *Scene) boardAlbedo(q r3.Vector) Albedo {
	b := s.cfg.Board
	i := int(math.Floor(q.X/b.CellWidthMM)) + 1
	j := int(math.Floor(q.Y/b.CellHeightMM)) + 1
	if i < 0 || j < 0 || i > b.Corners.X || j > b.Corners.Y {
		return s.cfg.Paper
	}
	if i%2 == j%2 {
		return s.cfg.Ink
	}
	return s.cfg.Paper
}

// illumination returns the projector intensity landing on a point in camera coordinates.
func (s *Scene) illumination(p r3.Vector) float64 {
	if s.pattern == nil {
		return 0
	}
	q := s.proj.apply(p)
	if q.Z <= 0 {
		return 0
	}
	px := s.cfg.Projector.ProjectNormalized(r2.Point{X: q.X / q.Z, Y: q.Y / q.Z})
	size := s.pattern.Bounds().Size()
	if px.X < -0.5 || px.Y < -0.5 || px.X > float64(size.X)-0.5 || px.Y > float64(size.Y)-0.5 {
		return 0
	}
	return rimage.BilinearGray(s.pattern, px.X, px.Y, 0)
}

// Projector returns the display sink that lights this scene.
func (s *Scene) Projector() *Sink {
	return &Sink{scene: s}
}

// Sink is the projector of a Scene.
type Sink struct {
	scene *Scene
}

// Size is the projector resolution.
func (p *Sink) Size() image.Point {
	return image.Point{p.scene.cfg.Projector.Width, p.scene.cfg.Projector.Height}
}

// ShowPattern lights the scene with img.
func (p *Sink) ShowPattern(ctx context.Context, img image.Image) error {
	if got := img.Bounds().Size(); got != p.Size() {
		return errors.Errorf("pattern is %v but the projector is %v", got, p.Size())
	}
	return p.scene.show(ctx, img)
}
