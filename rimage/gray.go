package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/utils"
)

// Channel selects a single color plane of an image.
type Channel int

// The color planes a frame can be reduced to.
const (
	ChannelGray Channel = iota
	ChannelRed
	ChannelGreen
	ChannelBlue
)

var channelNames = []string{"gray", "red", "green", "blue"}

// String returns the name ParseChannel accepts.
func (ch Channel) String() string {
	if ch < 0 || int(ch) >= len(channelNames) {
		return "unknown"
	}
	return channelNames[ch]
}

// ParseChannel converts "gray", "red", "green" or "blue" into a Channel.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return ChannelGray, errors.Errorf("unknown color channel %q", name)
}

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Size() == g2.Bounds().Size()
}

// MakeGray converts any image into an image.Gray anchored at the origin. An image.Gray already
// anchored at the origin is returned as is.
func MakeGray(pic image.Image) *image.Gray {
	if g, ok := pic.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	bounds := pic.Bounds()
	result := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(result, result.Bounds(), pic, bounds.Min, xdraw.Src)
	return result
}

// ExtractChannel returns one color plane of the image as a gray image.
func ExtractChannel(img image.Image, ch Channel) *image.Gray {
	if ch == ChannelGray {
		return MakeGray(img)
	}
	nrgba := imaging.Clone(img)
	size := nrgba.Bounds().Size()
	result := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	offset := int(ch) - int(ChannelRed)
	utils.ParallelForEachPixel(size, func(x, y int) {
		result.Pix[y*result.Stride+x] = nrgba.Pix[y*nrgba.Stride+x*4+offset]
	})
	return result
}

// ConvertToGrayFloat converts an image to a luminance matrix with values in [0, 255]; rows are
// image rows.
func ConvertToGrayFloat(img image.Image) *mat.Dense {
	gray := MakeGray(img)
	size := gray.Bounds().Size()
	m := mat.NewDense(size.Y, size.X, nil)
	utils.ParallelForEachPixel(size, func(x, y int) {
		m.Set(y, x, float64(gray.Pix[y*gray.Stride+x]))
	})
	return m
}

// GrayFloatToImage converts a luminance matrix back into a gray image, clamping to [0, 255].
func GrayFloatToImage(m *mat.Dense) *image.Gray {
	h, w := m.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		img.SetGray(x, y, color.Gray{uint8(utils.ClampF64(m.At(y, x)+0.5, 0, 255))})
	})
	return img
}

// GrayToRGBA expands a gray image into an RGBA one so colored overlays can be drawn on it.
func GrayToRGBA(gray *image.Gray) *image.RGBA {
	result := image.NewRGBA(gray.Bounds())
	xdraw.Draw(result, result.Bounds(), gray, gray.Bounds().Min, xdraw.Src)
	return result
}

// MinMaxGray returns the smallest and largest values of a gray image.
func MinMaxGray(img *image.Gray) (uint8, uint8, error) {
	img = MakeGray(img)
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return 0, 0, errors.New("cannot compute the range of an empty image")
	}
	lo, hi := uint8(255), uint8(0)
	for y := 0; y < size.Y; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size.X]
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi, nil
}
