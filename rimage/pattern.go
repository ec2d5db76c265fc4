package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

// ErrNegativeBorder is returned when a chessboard does not fit in the requested canvas.
var ErrNegativeBorder = errors.New("cannot create chessboard with requested dimensions")

// ChessboardPattern describes a projected chessboard: the canvas (projector resolution), the
// number of interior corners and the size in pixels of a single square.
type ChessboardPattern struct {
	Canvas  image.Point
	Corners image.Point
	Square  image.Point
}

// Border returns the number of blank columns (X) and rows (Y) on the left and top of the board so
// that it is centered on the canvas. A board with (Corners+1) squares per side that does not fit
// returns ErrNegativeBorder.
func (p ChessboardPattern) Border() (image.Point, error) {
	if p.Corners.X <= 0 || p.Corners.Y <= 0 || p.Square.X <= 0 || p.Square.Y <= 0 {
		return image.Point{}, errors.Errorf("chessboard corners %v and square size %v must be positive", p.Corners, p.Square)
	}
	border := image.Point{
		X: floorDiv2(p.Canvas.X - (p.Corners.X+1)*p.Square.X),
		Y: floorDiv2(p.Canvas.Y - (p.Corners.Y+1)*p.Square.Y),
	}
	if border.X < 0 || border.Y < 0 {
		return image.Point{}, errors.Wrapf(ErrNegativeBorder, "%v corners of %v px on a %v canvas", p.Corners, p.Square, p.Canvas)
	}
	return border, nil
}

func floorDiv2(n int) int {
	if n < 0 {
		return -((-n + 1) / 2)
	}
	return n / 2
}

// GenerateChessboard renders the pattern: a white canvas with (Corners.X+1)x(Corners.Y+1) squares
// where the square at row r, column c is black when r and c have the same parity. The top left
// square is therefore black.
func GenerateChessboard(p ChessboardPattern) (*image.Gray, error) {
	border, err := p.Border()
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(p.Canvas.X, p.Canvas.Y)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)
	for r := 0; r <= p.Corners.Y; r++ {
		for c := 0; c <= p.Corners.X; c++ {
			if r%2 != c%2 {
				continue
			}
			dc.DrawRectangle(
				float64(border.X+c*p.Square.X), float64(border.Y+r*p.Square.Y),
				float64(p.Square.X), float64(p.Square.Y))
		}
	}
	dc.Fill()
	return MakeGray(dc.Image()), nil
}

// SolidPattern returns a uniform canvas, used for white illumination frames.
func SolidPattern(canvas image.Point, c color.Color) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, canvas.X, canvas.Y))
	gray := color.GrayModel.Convert(c).(color.Gray)
	for i := range img.Pix {
		img.Pix[i] = gray.Y
	}
	return img
}
