package rimage

import (
	"image"
	"math"

	"go.viam.com/procam/utils"
)

// InverseMapFunc maps a destination pixel center to the source location it is sampled from.
type InverseMapFunc func(x, y float64) (float64, float64)

// BilinearGray samples img at a real valued location, pixel centers being at integer coordinates.
// Neighbors outside of the image take the fill value.
func BilinearGray(img *image.Gray, x, y float64, fill uint8) float64 {
	size := img.Bounds().Size()
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	at := func(px, py int) float64 {
		if px < 0 || py < 0 || px >= size.X || py >= size.Y {
			return float64(fill)
		}
		return float64(img.Pix[py*img.Stride+px])
	}
	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bottom := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}

// WarpPerspectiveGray builds a dstSize image whose pixel (x, y) is src sampled bilinearly at
// inverseMap(x, y). Locations entirely outside of src, or non finite ones, take the fill value.
func WarpPerspectiveGray(src image.Image, dstSize image.Point, inverseMap InverseMapFunc, fill uint8) *image.Gray {
	gray := MakeGray(src)
	size := gray.Bounds().Size()
	dst := image.NewGray(image.Rect(0, 0, dstSize.X, dstSize.Y))
	utils.ParallelForEachPixel(dstSize, func(x, y int) {
		sx, sy := inverseMap(float64(x), float64(y))
		if math.IsNaN(sx) || math.IsNaN(sy) || sx <= -1 || sy <= -1 || sx >= float64(size.X) || sy >= float64(size.Y) {
			dst.Pix[y*dst.Stride+x] = fill
			return
		}
		dst.Pix[y*dst.Stride+x] = uint8(utils.ClampF64(BilinearGray(gray, sx, sy, fill)+0.5, 0, 255))
	})
	return dst
}
