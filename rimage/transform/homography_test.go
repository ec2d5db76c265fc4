package transform

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func gridPoints(w, h int, step float64) []r2.Point {
	pts := make([]r2.Point, 0, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			pts = append(pts, r2.Point{X: float64(c) * step, Y: float64(r) * step})
		}
	}
	return pts
}

func homographyAlmostEqual(t *testing.T, got, expected Homography, tol float64) {
	t.Helper()
	got, expected = got.Normalized(), expected.Normalized()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got[i][j], test.ShouldAlmostEqual, expected[i][j], tol)
		}
	}
}

func TestNewHomography(t *testing.T) {
	h, err := NewHomography([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.At(1, 2), test.ShouldEqual, 6.)

	_, err = NewHomography([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "length of 9")
}

func TestEstimateHomographyIdentity(t *testing.T) {
	pts := gridPoints(4, 3, 10)
	h, err := EstimateHomography(pts, pts)
	test.That(t, err, test.ShouldBeNil)
	homographyAlmostEqual(t, h, IdentityHomography(), 1e-9)
}

func TestEstimateHomographyRecovery(t *testing.T) {
	expected := Homography{
		{1.2, 0.1, 30},
		{-0.05, 0.9, 12},
		{0.0004, -0.0002, 1},
	}
	src := gridPoints(7, 5, 25)
	dst := expected.ApplyAll(src)

	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	homographyAlmostEqual(t, h, expected, 1e-6)
	test.That(t, ReprojectionError(h, src, dst), test.ShouldBeLessThan, 1e-6)

	// exactly four correspondences
	four := []r2.Point{src[0], src[6], src[28], src[34]}
	h, err = EstimateHomography(four, expected.ApplyAll(four))
	test.That(t, err, test.ShouldBeNil)
	homographyAlmostEqual(t, h, expected, 1e-6)
}

func TestEstimateHomographyErrors(t *testing.T) {
	pts := gridPoints(3, 1, 1)
	_, err := EstimateHomography(pts, pts)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = EstimateHomography(gridPoints(3, 3, 1), gridPoints(2, 2, 1))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateHomographyConditioning(t *testing.T) {
	line := make([]r2.Point, 6)
	for i := range line {
		line[i] = r2.Point{X: float64(i), Y: 2 * float64(i)}
	}
	_, err := EstimateHomography(line, line)
	test.That(t, err, test.ShouldBeNil)

	_, err = EstimateHomographyWithOptions(line, line, HomographyOptions{CheckConditioning: true})
	test.That(t, errors.Is(err, ErrDegenerateHomography), test.ShouldBeTrue)

	pts := gridPoints(3, 3, 5)
	_, err = EstimateHomographyWithOptions(pts, pts, HomographyOptions{CheckConditioning: true})
	test.That(t, err, test.ShouldBeNil)
}

func TestEstimateHomographyRefined(t *testing.T) {
	expected := Homography{
		{0.8, -0.2, 100},
		{0.15, 1.1, -40},
		{0.0003, 0.0001, 1},
	}
	src := gridPoints(6, 6, 20)
	dst := expected.ApplyAll(src)
	for i := range dst {
		// deterministic pseudo noise
		dst[i].X += 0.3 * math.Sin(float64(7*i))
		dst[i].Y += 0.3 * math.Cos(float64(11*i))
	}
	linear, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	refined, err := EstimateHomographyRefined(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ReprojectionError(refined, src, dst), test.ShouldBeLessThanOrEqualTo,
		ReprojectionError(linear, src, dst)+1e-9)
	test.That(t, ReprojectionError(refined, src, dst), test.ShouldBeLessThan, 0.5)
}

func TestHomographyComposition(t *testing.T) {
	a := Homography{{1, 0, 5}, {0, 1, -3}, {0, 0, 1}}
	b := Homography{{2, 0, 0}, {0, 2, 0}, {0, 0, 1}}
	p := r2.Point{X: 1, Y: 1}

	// b is applied first
	test.That(t, a.Mul(b).Apply(p), test.ShouldResemble, r2.Point{X: 7, Y: -1})

	h := Homography{{1.1, 0.2, 3}, {-0.1, 0.95, 7}, {0.001, 0.002, 1}}
	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	homographyAlmostEqual(t, h.Mul(inv), IdentityHomography(), 1e-9)
	q := inv.Apply(h.Apply(r2.Point{X: 40, Y: -12}))
	test.That(t, q.X, test.ShouldAlmostEqual, 40, 1e-9)
	test.That(t, q.Y, test.ShouldAlmostEqual, -12, 1e-9)

	_, err = Homography{}.Inverse()
	test.That(t, errors.Is(err, ErrDegenerateHomography), test.ShouldBeTrue)
}

func TestHomographyWarpGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	src.Pix[3*src.Stride+4] = 200
	shift := Homography{{1, 0, 2}, {0, 1, 1}, {0, 0, 1}}
	warped, err := shift.WarpGray(src, image.Point{12, 12}, 255)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warped.GrayAt(6, 4).Y, test.ShouldEqual, uint8(200))
	test.That(t, warped.GrayAt(5, 5).Y, test.ShouldEqual, uint8(0))
	test.That(t, warped.GrayAt(0, 0).Y, test.ShouldEqual, uint8(255))
}
