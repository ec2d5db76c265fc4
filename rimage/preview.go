package rimage

import (
	"image"

	"github.com/nfnt/resize"
)

// Preview fits img inside a maxWidth x maxHeight window preserving its aspect ratio. Images that
// already fit are returned unchanged.
func Preview(img image.Image, maxWidth, maxHeight int) image.Image {
	size := img.Bounds().Size()
	if maxWidth <= 0 || maxHeight <= 0 || (size.X <= maxWidth && size.Y <= maxHeight) {
		return img
	}
	return resize.Thumbnail(uint(maxWidth), uint(maxHeight), img, resize.Bilinear)
}
