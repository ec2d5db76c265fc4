package calibration

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/transform"
)

func TestObjectPointsTraversal(t *testing.T) {
	b := Board{Corners: image.Point{3, 2}, CellWidthMM: 10, CellHeightMM: 20}

	rowMajor, err := b.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rowMajor, test.ShouldResemble, []r3.Vector{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0},
		{X: 0, Y: 20}, {X: 10, Y: 20}, {X: 20, Y: 20},
	})

	swapped, err := b.ObjectPoints(TraversalColumnSwapped)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, swapped, test.ShouldResemble, []r3.Vector{
		{X: 0, Y: 0}, {X: 0, Y: 20}, {X: 0, Y: 40},
		{X: 10, Y: 0}, {X: 10, Y: 20}, {X: 10, Y: 40},
	})

	_, err = b.ObjectPoints("diagonal")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Board{Corners: image.Point{3, 0}, CellWidthMM: 1, CellHeightMM: 1}.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Board{Corners: image.Point{3, 2}}.ObjectPoints(TraversalRowMajor)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProjectorPoints(t *testing.T) {
	pattern := rimage.ChessboardPattern{Canvas: image.Point{100, 80}, Corners: image.Point{3, 2}, Square: image.Point{20, 20}}
	pts, err := ProjectorPoints(pattern, false)
	test.That(t, err, test.ShouldBeNil)
	// border is 10 on both axes
	test.That(t, pts, test.ShouldResemble, []r2.Point{
		{X: 29.5, Y: 29.5}, {X: 49.5, Y: 29.5}, {X: 69.5, Y: 29.5},
		{X: 29.5, Y: 49.5}, {X: 49.5, Y: 49.5}, {X: 69.5, Y: 49.5},
	})

	inverted, err := ProjectorPoints(pattern, true)
	test.That(t, err, test.ShouldBeNil)
	for j := range pts {
		test.That(t, inverted[j], test.ShouldResemble, pts[len(pts)-1-j])
	}

	pattern.Square = image.Point{40, 40}
	_, err = ProjectorPoints(pattern, false)
	test.That(t, errors.Is(err, rimage.ErrNegativeBorder), test.ShouldBeTrue)
}

func TestPairWithCameraGrid(t *testing.T) {
	var cam []r2.Point
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			cam = append(cam, r2.Point{X: float64(c), Y: float64(r)})
		}
	}
	paired, err := PairWithCameraGrid(image.Point{2, 2}, image.Point{4, 3}, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, paired, test.ShouldResemble, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}})

	_, err = PairWithCameraGrid(image.Point{5, 2}, image.Point{4, 3}, cam)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = PairWithCameraGrid(image.Point{2, 2}, image.Point{4, 3}, cam[:5])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProjectorToProjectorComposition(t *testing.T) {
	projPts := []r2.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 10, Y: 40}, {X: 50, Y: 40}}
	camPts := []r2.Point{{X: 100, Y: 100}, {X: 180, Y: 105}, {X: 98, Y: 160}, {X: 185, Y: 170}}
	projToCam, err := ProjectorToCamera(projPts, image.Point{2, 2}, camPts, image.Point{2, 2}, transform.HomographyOptions{})
	test.That(t, err, test.ShouldBeNil)
	camToProj, err := projToCam.Inverse()
	test.That(t, err, test.ShouldBeNil)

	// a perfect camToProj estimate leaves the projector board where it was
	synth := SynthesizeProjectorPixels(ProjectorToProjector(camToProj, projToCam), projPts)
	for i, p := range synth {
		test.That(t, p.Sub(projPts[i]).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestObservationSet(t *testing.T) {
	var set ObservationSet
	obj := []r3.Vector{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	img := []r2.Point{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	good := PoseObservation{CamCorners: img, ObjectPoints: obj, ProjCornersInCamera: img, ProjPixels: img}
	test.That(t, set.Append(good), test.ShouldBeNil)

	bad := good
	bad.ProjPixels = img[:2]
	test.That(t, set.Append(bad), test.ShouldNotBeNil)
	bad = good
	bad.ObjectPoints = []r3.Vector{{Z: 1}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	test.That(t, set.Append(bad), test.ShouldNotBeNil)

	test.That(t, set.Len(), test.ShouldEqual, 1)
	poses := set.Poses()
	poses[0] = PoseObservation{}
	test.That(t, set.Poses()[0].CamCorners, test.ShouldResemble, img)
}
