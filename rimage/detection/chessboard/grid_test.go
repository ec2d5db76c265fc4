package chessboard

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestConvexHull(t *testing.T) {
	pts := []r2.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 0, Y: 2}, {X: 1, Y: 0}}
	hull := convexHull(pts)
	test.That(t, len(hull), test.ShouldEqual, 4)
	test.That(t, hull, test.ShouldNotContain, 2)
	test.That(t, hull, test.ShouldNotContain, 5)

	quad, ok := maxAreaQuad(pts, hull)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, quadArea(quad[0], quad[1], quad[2], quad[3]), test.ShouldEqual, 4.)
}

func TestOrderedCornersRotatedGrid(t *testing.T) {
	// a 3x2 grid listed bottom right first
	size := image.Point{3, 2}
	var pts []r2.Point
	for row := 1; row >= 0; row-- {
		for col := 2; col >= 0; col-- {
			pts = append(pts, r2.Point{X: 10 + 10*float64(col), Y: 10 + 10*float64(row)})
		}
	}
	g := &gridAssignment{size: size, nodes: []int{0, 1, 2, 3, 4, 5}, count: 6}
	ordered := orderedCorners(pts, g)
	test.That(t, ordered[0], test.ShouldResemble, r2.Point{X: 10, Y: 10})
	test.That(t, ordered[1], test.ShouldResemble, r2.Point{X: 20, Y: 10})
	test.That(t, ordered[3], test.ShouldResemble, r2.Point{X: 10, Y: 20})
	test.That(t, ordered[5], test.ShouldResemble, r2.Point{X: 30, Y: 20})
}

func xImage(size int, l bool) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	c := float64(size) / 2
	m.Apply(func(i, j int, v float64) float64 {
		dark := (float64(i) < c) == (float64(j) < c)
		if l {
			dark = float64(i) < c && float64(j) < c
		}
		if dark {
			return 20
		}
		return 230
	}, m)
	return m
}

func TestIsXJunction(t *testing.T) {
	center := r2.Point{X: 9.5, Y: 9.5}
	test.That(t, isXJunction(xImage(20, false), center, 4, 20), test.ShouldBeTrue)
	test.That(t, isXJunction(xImage(20, true), center, 4, 20), test.ShouldBeFalse)
	// too close to the border to sample the circle
	test.That(t, isXJunction(xImage(20, false), r2.Point{X: 2, Y: 9.5}, 4, 20), test.ShouldBeFalse)

	flat := mat.NewDense(20, 20, nil)
	test.That(t, isXJunction(flat, center, 4, 20), test.ShouldBeFalse)
}

func TestNonMaxSuppression(t *testing.T) {
	m := mat.NewDense(30, 30, nil)
	m.Apply(func(i, j int, v float64) float64 {
		return 40*math.Exp(-float64((i-10)*(i-10)+(j-12)*(j-12))/8) + 25*math.Exp(-float64((i-22)*(i-22)+(j-20)*(j-20))/8)
	}, m)
	nms := NonMaxSuppression(m, 3)
	test.That(t, nms.At(10, 12), test.ShouldAlmostEqual, 40., 1e-6)
	test.That(t, nms.At(22, 20), test.ShouldAlmostEqual, 25., 1e-6)
	test.That(t, nms.At(10, 13), test.ShouldEqual, 0.)
	test.That(t, nms.At(21, 20), test.ShouldEqual, 0.)
}
