package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// Red is the color used for failed detections.
var Red = color.NRGBA{R: 255, A: 255}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawRectangleEmpty draws the given rectangle into the context. The positions of the
// rectangle are used to place it within the context.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// RowColor returns the overlay color of a chessboard row: hues spread evenly over the rows.
func RowColor(row, rows int) color.Color {
	if rows <= 0 {
		rows = 1
	}
	return colorful.Hsv(300*float64(row)/float64(rows), 1, 1)
}

// DrawChessboardCorners renders detected corners over img. A complete detection (found) marks
// every corner with its row color and connects corners in traversal order; an incomplete one marks
// the corners that were found in red.
func DrawChessboardCorners(img image.Image, size image.Point, corners []r2.Point, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	radius := float64(img.Bounds().Dx()) / 200
	if radius < 3 {
		radius = 3
	}
	dc.SetLineWidth(1.5)

	if !found || size.X <= 0 {
		dc.SetColor(Red)
		for _, p := range corners {
			dc.DrawCircle(p.X, p.Y, radius)
			dc.Stroke()
		}
		return dc.Image()
	}

	for i, p := range corners {
		row := i / size.X
		dc.SetColor(RowColor(row, size.Y))
		dc.DrawCircle(p.X, p.Y, radius)
		dc.DrawLine(p.X-radius, p.Y-radius, p.X+radius, p.Y+radius)
		dc.DrawLine(p.X-radius, p.Y+radius, p.X+radius, p.Y-radius)
		if i > 0 {
			prev := corners[i-1]
			dc.DrawLine(prev.X, prev.Y, p.X, p.Y)
		}
		dc.Stroke()
	}
	return dc.Image()
}

// AnnotateImage draws a status line in the top left corner of img.
func AnnotateImage(img image.Image, text string, c color.Color) image.Image {
	dc := gg.NewContextForImage(img)
	size := float64(img.Bounds().Dy()) / 24
	if size < 10 {
		size = 10
	}
	DrawString(dc, text, image.Point{int(size / 2), int(size / 2)}, c, size)
	return dc.Image()
}
