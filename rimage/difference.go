package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"

	"go.viam.com/procam/utils"
)

// DifferenceNormalized isolates a projected pattern from two frames of the same scene: one lit by
// a uniform white projection and one lit by the pattern. The saturating difference lit-patterned
// is stretched to the full range and inverted so that dark pattern cells come out black and lit
// cells white. A difference with no range yields a uniform white image.
func DifferenceNormalized(lit, patterned image.Image) (*image.Gray, error) {
	if !SameImgSize(lit, patterned) {
		return nil, errors.Errorf("these images aren't the same size %v != %v",
			lit.Bounds().Size(), patterned.Bounds().Size())
	}
	g1, g2 := MakeGray(lit), MakeGray(patterned)
	size := g1.Bounds().Size()
	diff := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	utils.ParallelForEachPixel(size, func(x, y int) {
		a, b := g1.Pix[y*g1.Stride+x], g2.Pix[y*g2.Stride+x]
		if a > b {
			diff.Pix[y*diff.Stride+x] = a - b
		}
	})

	lo, hi, err := MinMaxGray(diff)
	if err != nil {
		return nil, err
	}
	if lo == hi {
		result := image.NewGray(diff.Bounds())
		for i := range result.Pix {
			result.Pix[i] = 255
		}
		return result, nil
	}
	span := float64(hi) - float64(lo)
	scale := -255 / span
	shift := 255 + 255*float64(lo)/span
	utils.ParallelForEachPixel(size, func(x, y int) {
		v := float64(diff.Pix[y*diff.Stride+x])*scale + shift
		diff.SetGray(x, y, color.Gray{uint8(utils.ClampF64(v+0.5, 0, 255))})
	})
	return diff, nil
}
