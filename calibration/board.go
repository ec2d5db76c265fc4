// Package calibration implements projector-camera calibration: board geometry, the observation
// set collected during a session, correspondence synthesis for the projector, the camera model
// solver, PnP, frame reconciliation and the resulting calibration state.
package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/procam/rimage"
)

// Traversal names the order in which board object points are enumerated.
type Traversal string

const (
	// TraversalRowMajor enumerates corner j at column j%W and row j/W, with X along the columns.
	TraversalRowMajor Traversal = "row_major"
	// TraversalColumnSwapped puts X = w*(j/W) and Y = h*(j%W). Boards calibrated this way are
	// mirrored relative to the row major convention but solve just as well.
	TraversalColumnSwapped Traversal = "column_swapped"
)

// Validate checks that the traversal is known.
func (t Traversal) Validate() error {
	switch t {
	case TraversalRowMajor, TraversalColumnSwapped:
		return nil
	default:
		return errors.Errorf("unknown object point traversal %q", string(t))
	}
}

// Board is a physical chessboard: the number of interior corners per row (Corners.X) and per column
// (Corners.Y), and the size of a cell in millimeters.
type Board struct {
	Corners      image.Point
	CellWidthMM  float64
	CellHeightMM float64
}

// NumCorners is the number of interior corners.
func (b Board) NumCorners() int {
	return b.Corners.X * b.Corners.Y
}

// ObjectPoints returns the interior corners of the board on the z = 0 plane in millimeters, in the
// order a detector reports them (row major from the top left).
func (b Board) ObjectPoints(t Traversal) ([]r3.Vector, error) {
	if b.Corners.X <= 0 || b.Corners.Y <= 0 {
		return nil, errors.Errorf("board must have a positive number of corners, got %v", b.Corners)
	}
	if b.CellWidthMM <= 0 || b.CellHeightMM <= 0 {
		return nil, errors.Errorf("board cell size must be positive, got %vx%v mm", b.CellWidthMM, b.CellHeightMM)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n := b.NumCorners()
	pts := make([]r3.Vector, n)
	for j := 0; j < n; j++ {
		switch t {
		case TraversalColumnSwapped:
			pts[j] = r3.Vector{
				X: b.CellWidthMM * float64(j/b.Corners.X),
				Y: b.CellHeightMM * float64(j%b.Corners.X),
			}
		default:
			pts[j] = r3.Vector{
				X: b.CellWidthMM * float64(j%b.Corners.X),
				Y: b.CellHeightMM * float64(j/b.Corners.X),
			}
		}
	}
	return pts, nil
}

// ProjectorPoints returns the interior corners of a projected chessboard in projector pixels, row
// major from the top left. Pixel centers sit on integer coordinates so a corner lies half a pixel
// before the first pixel of the next square. With invert the order is reversed, which matches a
// projector mounted upside down.
func ProjectorPoints(p rimage.ChessboardPattern, invert bool) ([]r2.Point, error) {
	border, err := p.Border()
	if err != nil {
		return nil, err
	}
	n := p.Corners.X * p.Corners.Y
	pts := make([]r2.Point, n)
	for j := 0; j < n; j++ {
		idx := j
		if invert {
			idx = n - j - 1
		}
		pts[j] = r2.Point{
			X: float64(p.Square.X*(idx%p.Corners.X)+border.X+p.Square.X) - 0.5,
			Y: float64(p.Square.Y*(idx/p.Corners.X)+border.Y+p.Square.Y) - 0.5,
		}
	}
	return pts, nil
}

func planarXY(pts []r3.Vector) ([]r2.Point, error) {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		if p.Z != 0 {
			return nil, errors.Errorf("object point %d is not on the z = 0 plane (z = %v)", i, p.Z)
		}
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out, nil
}
