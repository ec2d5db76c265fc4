package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"go.viam.com/procam/utils"
)

// UnityGain is the gain percentage that leaves intensities unchanged.
const UnityGain = 50

// GainMultiplier converts a gain percentage into the intensity multiplier 2*gain/100.
func GainMultiplier(gainPercent int) float64 {
	return 2 * float64(gainPercent) / 100
}

// ApplyGain scales every color channel by GainMultiplier(gainPercent), saturating at 255. Alpha is
// untouched.
func ApplyGain(img image.Image, gainPercent int) *image.NRGBA {
	if gainPercent == UnityGain {
		return imaging.Clone(img)
	}
	scale := GainMultiplier(gainPercent)
	apply := func(v uint8) uint8 {
		return uint8(utils.ClampF64(float64(v)*scale+0.5, 0, 255))
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{apply(c.R), apply(c.G), apply(c.B), c.A}
	})
}

// ApplyGainGray is ApplyGain for single channel frames.
func ApplyGainGray(img *image.Gray, gainPercent int) *image.Gray {
	return MakeGray(ApplyGain(img, gainPercent))
}
