package calibration

import (
	"fmt"
	"image/color"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/procam/utils"
)

// String prints the calibrated models, one row per device.
func (s *State) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Device", "fx", "fy", "cx", "cy", "k1", "k2", "p1", "p2", "k3", "RMS (px)"})
	for _, dev := range []struct {
		name string
		d    *DeviceCalibration
		ok   bool
	}{
		{"camera", s.Camera, s.Flags.CamIntrinsic},
		{"projector", s.Projector, s.Flags.ProjIntrinsic},
	} {
		if !dev.ok || dev.d == nil || dev.d.Intrinsics == nil {
			t.AppendRow(table.Row{dev.name, "-", "-", "-", "-", "-", "-", "-", "-", "-", "not calibrated"})
			continue
		}
		k := dev.d.Intrinsics
		row := table.Row{
			dev.name,
			fmt.Sprintf("%.2f", k.At(0, 0)), fmt.Sprintf("%.2f", k.At(1, 1)),
			fmt.Sprintf("%.2f", k.At(0, 2)), fmt.Sprintf("%.2f", k.At(1, 2)),
		}
		for _, c := range dev.d.Distortion {
			row = append(row, fmt.Sprintf("%.4f", c))
		}
		row = append(row, fmt.Sprintf("%.4f", dev.d.RMS))
		t.AppendRow(row)
	}
	if s.Flags.ProcamExtrinsic {
		r, tr := s.ProjExtrinsicInCamera.Rotation, s.ProjExtrinsicInCamera.Translation
		t.AppendFooter(table.Row{
			"proj in cam",
			fmt.Sprintf("rot %.1f deg", utils.RadToDeg(r.Norm())),
			fmt.Sprintf("rvec %.4f %.4f %.4f", r.X, r.Y, r.Z),
			fmt.Sprintf("tvec %.1f %.1f %.1f mm", tr.X, tr.Y, tr.Z),
		})
	}
	return t.Render()
}

// PerViewTable prints the reprojection error of every view of a device.
func PerViewTable(name string, d *DeviceCalibration) string {
	t := table.NewWriter()
	t.SetTitle(name)
	t.AppendHeader(table.Row{"Pose", "Points", "RMS (px)", "Distance (mm)"})
	for i, rms := range d.PerViewRMS {
		points := 0
		if i < len(d.ObjectPoints) {
			points = len(d.ObjectPoints[i])
		}
		dist := "-"
		if i < len(d.TranslationVectors) {
			dist = fmt.Sprintf("%.1f", d.TranslationVectors[i].Norm())
		}
		t.AppendRow(table.Row{i, points, fmt.Sprintf("%.4f", rms), dist})
	}
	return t.Render()
}

// ResidualPlot scatters the reprojection residuals of each device, in pixels.
func (s *State) ResidualPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Reprojection residuals"
	p.X.Label.Text = "dx (px)"
	p.Y.Label.Text = "dy (px)"
	p.Add(plotter.NewGrid())

	devices := []struct {
		name  string
		d     *DeviceCalibration
		color color.Color
		shape draw.GlyphDrawer
	}{
		{"camera", s.Camera, color.RGBA{R: 31, G: 119, B: 180, A: 255}, draw.CircleGlyph{}},
		{"projector", s.Projector, color.RGBA{R: 214, G: 39, B: 40, A: 255}, draw.CrossGlyph{}},
	}
	for _, dev := range devices {
		if dev.d == nil {
			continue
		}
		var pts plotter.XYs
		for _, view := range dev.d.Residuals {
			for _, r := range view {
				pts = append(pts, plotter.XY{X: r.X, Y: r.Y})
			}
		}
		if len(pts) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "%s residuals", dev.name)
		}
		scatter.GlyphStyle.Color = dev.color
		scatter.GlyphStyle.Shape = dev.shape
		scatter.GlyphStyle.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("%s (rms %.3f)", dev.name, dev.d.RMS), scatter)
	}
	return p, nil
}

// SaveResidualPlot renders ResidualPlot to an image file; the format follows the extension.
func (s *State) SaveResidualPlot(path string) error {
	p, err := s.ResidualPlot()
	if err != nil {
		return err
	}
	return errors.Wrap(p.Save(6*vg.Inch, 6*vg.Inch, path), "saving residual plot")
}
