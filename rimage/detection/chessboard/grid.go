package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"

	"go.viam.com/procam/rimage/transform"
)

// GridConfiguration tunes the assembly of corner candidates into a grid.
type GridConfiguration struct {
	// AssignTolerance is the largest distance, in grid cells, between a candidate mapped onto the
	// board and the grid node it is assigned to.
	AssignTolerance float64 `json:"assign-tolerance"`
	// MaxOutlierRetries bounds how many spurious candidates are dropped from the hull before the
	// detection is reported as partial.
	MaxOutlierRetries int `json:"max-outlier-retries"`
	// MaxHullVertices bounds the brute force quadrangle search.
	MaxHullVertices int `json:"max-hull-vertices"`
}

// DefaultGridConf stores the default parameters for grid assembly.
var DefaultGridConf = GridConfiguration{
	AssignTolerance:   0.3,
	MaxOutlierRetries: 20,
	MaxHullVertices:   40,
}

// cross returns the z component of (a-o)x(b-o).
func cross(o, a, b r2.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// convexHull returns the indices of the convex hull vertices of pts in counter clockwise order
// (monotone chain).
func convexHull(pts []r2.Point) []int {
	n := len(pts)
	if n < 3 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := pts[order[i]], pts[order[j]]
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	hull := make([]int, 0, 2*n)
	for _, i := range order {
		for len(hull) >= 2 && cross(pts[hull[len(hull)-2]], pts[hull[len(hull)-1]], pts[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, i)
	}
	lower := len(hull) + 1
	for k := n - 2; k >= 0; k-- {
		i := order[k]
		for len(hull) >= lower && cross(pts[hull[len(hull)-2]], pts[hull[len(hull)-1]], pts[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, i)
	}
	return hull[:len(hull)-1]
}

func quadArea(a, b, c, d r2.Point) float64 {
	return math.Abs(cross(a, b, c)+cross(a, c, d)) / 2
}

// maxAreaQuad picks the four hull vertices spanning the largest quadrangle, in hull order.
func maxAreaQuad(pts []r2.Point, hull []int) ([4]r2.Point, bool) {
	var best [4]r2.Point
	bestArea := 0.
	h := len(hull)
	for i := 0; i < h; i++ {
		for j := i + 1; j < h; j++ {
			for k := j + 1; k < h; k++ {
				for l := k + 1; l < h; l++ {
					a, b, c, d := pts[hull[i]], pts[hull[j]], pts[hull[k]], pts[hull[l]]
					if area := quadArea(a, b, c, d); area > bestArea {
						bestArea = area
						best = [4]r2.Point{a, b, c, d}
					}
				}
			}
		}
	}
	return best, bestArea > 0
}

// gridAssignment maps every node (col, row) of a size.X by size.Y grid to a candidate index, -1
// when empty.
type gridAssignment struct {
	size  image.Point
	nodes []int
	count int
}

func (g *gridAssignment) at(col, row int) int {
	return g.nodes[row*g.size.X+col]
}

// assign maps candidates through boardFromImage and attaches each to its nearest grid node within
// tolerance. A node claimed by two candidates keeps the closer one.
func assign(pts []r2.Point, boardFromImage transform.Homography, size image.Point, tolerance float64) *gridAssignment {
	g := &gridAssignment{size: size, nodes: make([]int, size.X*size.Y)}
	dists := make([]float64, len(g.nodes))
	for i := range g.nodes {
		g.nodes[i] = -1
	}
	for i, p := range pts {
		b := boardFromImage.Apply(p)
		col, row := math.Round(b.X), math.Round(b.Y)
		if math.IsNaN(col) || math.IsNaN(row) || col < 0 || row < 0 || col >= float64(size.X) || row >= float64(size.Y) {
			continue
		}
		d := b.Sub(r2.Point{X: col, Y: row}).Norm()
		if d > tolerance {
			continue
		}
		node := int(row)*size.X + int(col)
		if g.nodes[node] == -1 {
			g.count++
		} else if dists[node] <= d {
			continue
		}
		g.nodes[node] = i
		dists[node] = d
	}
	return g
}

// fitGrid assembles pts into a size grid starting from the four outer corners in quad. Both ways
// of laying the board along the quadrangle are tried; the best assignment is returned after a
// refit of the homography on every assigned node.
func fitGrid(pts []r2.Point, quad [4]r2.Point, size image.Point, tolerance float64) *gridAssignment {
	maxCol, maxRow := float64(size.X-1), float64(size.Y-1)
	layouts := [][4]r2.Point{
		{{X: 0, Y: 0}, {X: maxCol, Y: 0}, {X: maxCol, Y: maxRow}, {X: 0, Y: maxRow}},
		{{X: 0, Y: 0}, {X: 0, Y: maxRow}, {X: maxCol, Y: maxRow}, {X: maxCol, Y: 0}},
	}
	var best *gridAssignment
	for _, layout := range layouts {
		h, err := transform.EstimateHomography(quad[:], layout[:])
		if err != nil {
			continue
		}
		g := assign(pts, h, size, tolerance)
		if g.count >= 4 {
			src := make([]r2.Point, 0, g.count)
			dst := make([]r2.Point, 0, g.count)
			for row := 0; row < size.Y; row++ {
				for col := 0; col < size.X; col++ {
					if i := g.at(col, row); i >= 0 {
						src = append(src, pts[i])
						dst = append(dst, r2.Point{X: float64(col), Y: float64(row)})
					}
				}
			}
			if refit, err := transform.EstimateHomography(src, dst); err == nil {
				if again := assign(pts, refit, size, tolerance); again.count >= g.count {
					g = again
				}
			}
		}
		if best == nil || g.count > best.count {
			best = g
		}
	}
	return best
}

// orderedCorners lists the assigned candidates row major. Among the symmetries of the grid that
// keep its dimensions, the one starting closest to the image top left is chosen; square grids
// additionally prefer rows running horizontally.
func orderedCorners(pts []r2.Point, g *gridAssignment) []r2.Point {
	w, h := g.size.X, g.size.Y
	type variant func(col, row int) (int, int)
	variants := []variant{
		func(c, r int) (int, int) { return c, r },
		func(c, r int) (int, int) { return w - 1 - c, r },
		func(c, r int) (int, int) { return c, h - 1 - r },
		func(c, r int) (int, int) { return w - 1 - c, h - 1 - r },
	}
	if w == h {
		variants = append(variants,
			func(c, r int) (int, int) { return r, c },
			func(c, r int) (int, int) { return w - 1 - r, c },
			func(c, r int) (int, int) { return r, h - 1 - c },
			func(c, r int) (int, int) { return w - 1 - r, h - 1 - c },
		)
	}
	build := func(v variant) []r2.Point {
		out := make([]r2.Point, 0, w*h)
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				col, row := v(c, r)
				out = append(out, pts[g.at(col, row)])
			}
		}
		return out
	}
	var best []r2.Point
	bestKey, bestHorizontal := math.Inf(1), false
	for _, v := range variants {
		corners := build(v)
		key := corners[0].X + corners[0].Y
		step := corners[1].Sub(corners[0])
		horizontal := math.Abs(step.X) >= math.Abs(step.Y)
		const eps = 1e-9
		if key < bestKey-eps || (math.Abs(key-bestKey) <= eps && horizontal && !bestHorizontal) {
			best, bestKey, bestHorizontal = corners, key, horizontal
		}
	}
	return best
}
