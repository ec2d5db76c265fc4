package chessboard

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/procam/rimage"
	"go.viam.com/procam/rimage/transform"
)

// renderBoard draws a chessboard with the given interior corners, seen through a homography, and
// returns the image along with the expected corner locations in row major order.
func renderBoard(t *testing.T, corners image.Point, h transform.Homography, canvas image.Point) (*image.Gray, []r2.Point) {
	t.Helper()
	pattern := rimage.ChessboardPattern{Canvas: image.Point{320, 240}, Corners: corners, Square: image.Point{30, 30}}
	board, err := rimage.GenerateChessboard(pattern)
	test.That(t, err, test.ShouldBeNil)
	border, err := pattern.Border()
	test.That(t, err, test.ShouldBeNil)

	warped, err := h.WarpGray(board, canvas, 255)
	test.That(t, err, test.ShouldBeNil)

	expected := make([]r2.Point, 0, corners.X*corners.Y)
	for r := 0; r < corners.Y; r++ {
		for c := 0; c < corners.X; c++ {
			ideal := r2.Point{
				X: float64(border.X+(c+1)*pattern.Square.X) - 0.5,
				Y: float64(border.Y+(r+1)*pattern.Square.Y) - 0.5,
			}
			expected = append(expected, h.Apply(ideal))
		}
	}
	return warped, expected
}

func TestFindChessboardCornersPerspective(t *testing.T) {
	h := transform.Homography{
		{0.9, 0.08, 20},
		{-0.05, 0.95, 15},
		{0.0002, 0.0001, 1},
	}
	img, expected := renderBoard(t, image.Point{6, 4}, h, image.Point{400, 300})

	res, err := FindChessboardCorners(img, image.Point{6, 4}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeTrue)
	test.That(t, res.Err(), test.ShouldBeNil)
	test.That(t, res.Count, test.ShouldEqual, 24)
	test.That(t, len(res.Corners), test.ShouldEqual, 24)
	for i, p := range res.Corners {
		test.That(t, p.Sub(expected[i]).Norm(), test.ShouldBeLessThan, 1.0)
	}
}

func TestFindChessboardCornersIdentityOrder(t *testing.T) {
	img, expected := renderBoard(t, image.Point{5, 5}, transform.IdentityHomography(), image.Point{320, 240})

	res, err := FindChessboardCorners(img, image.Point{5, 5}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeTrue)
	// square boards list rows horizontally
	test.That(t, res.Corners[1].X-res.Corners[0].X, test.ShouldBeGreaterThan, 20)
	for i, p := range res.Corners {
		test.That(t, p.Sub(expected[i]).Norm(), test.ShouldBeLessThan, 0.5)
	}
}

func TestFindChessboardCornersWrongSize(t *testing.T) {
	img, _ := renderBoard(t, image.Point{6, 4}, transform.IdentityHomography(), image.Point{320, 240})

	res, err := FindChessboardCorners(img, image.Point{7, 5}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeFalse)
	test.That(t, res.Count, test.ShouldBeLessThan, 35)
	test.That(t, errors.Is(res.Err(), ErrNotFound), test.ShouldBeTrue)

	_, err = FindChessboardCorners(img, image.Point{1, 4}, DefaultDetectionConf)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFindChessboardCornersBlank(t *testing.T) {
	blank := rimage.SolidPattern(image.Point{64, 48}, color.White)
	res, err := FindChessboardCorners(blank, image.Point{3, 3}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeFalse)
	test.That(t, res.Count, test.ShouldEqual, 0)

	debug := DebugImage(res, image.Point{64, 48})
	test.That(t, debug.Bounds().Size(), test.ShouldResemble, image.Point{64, 48})
}

func TestFindChessboardInDifferenceImage(t *testing.T) {
	h := transform.Homography{
		{1.05, -0.04, 30},
		{0.03, 1.0, 25},
		{0.0001, -0.0001, 1},
	}
	pattern, expected := renderBoard(t, image.Point{5, 3}, h, image.Point{400, 300})

	// a scene lit first by white light, then by the pattern
	lit := rimage.SolidPattern(image.Point{400, 300}, color.Gray{220})
	patterned := image.NewGray(lit.Bounds())
	for i, v := range pattern.Pix {
		patterned.Pix[i] = uint8(40 + int(v)*180/255)
	}
	diff, err := rimage.DifferenceNormalized(lit, patterned)
	test.That(t, err, test.ShouldBeNil)

	res, err := FindChessboardCorners(diff, image.Point{5, 3}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Found, test.ShouldBeTrue)
	for i, p := range res.Corners {
		test.That(t, p.Sub(expected[i]).Norm(), test.ShouldBeLessThan, 1.0)
	}
}
