package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/procam/utils"
)

// Kernel is a convolution filter. Content is indexed [y][x].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// At returns the kernel weight at (x, y).
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Size returns the kernel extent.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// Validate checks that the kernel is non empty, odd sized and consistent with its content.
func (k *Kernel) Validate() error {
	if k.Width <= 0 || k.Height <= 0 || k.Width%2 == 0 || k.Height%2 == 0 {
		return errors.Errorf("kernel must have positive odd dimensions, got %dx%d", k.Width, k.Height)
	}
	if len(k.Content) != k.Height {
		return utils.NewDimensionMismatchError("kernel rows", k.Height, len(k.Content))
	}
	for _, row := range k.Content {
		if len(row) != k.Width {
			return utils.NewDimensionMismatchError("kernel columns", k.Width, len(row))
		}
	}
	return nil
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// GetGaussian returns a normalized (2*radius+1) square gaussian kernel.
func GetGaussian(radius int, sigma float64) Kernel {
	size := 2*radius + 1
	content := make([][]float64, size)
	sum := 0.
	for y := 0; y < size; y++ {
		content[y] = make([]float64, size)
		for x := 0; x < size; x++ {
			dx, dy := float64(x-radius), float64(y-radius)
			content[y][x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			sum += content[y][x]
		}
	}
	for y := range content {
		for x := range content[y] {
			content[y][x] /= sum
		}
	}
	return Kernel{content, size, size}
}

// ConvolveGrayFloat64 implements a gray float64 image convolution with the Kernel filter, anchored
// at the kernel center. Borders replicate the nearest pixel. There is no clamping of the result.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	kernelSize := filter.Size()
	anchor := image.Point{kernelSize.X / 2, kernelSize.Y / 2}

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := 0.
		for ky := 0; ky < kernelSize.Y; ky++ {
			py := utils.ClampInt(y+ky-anchor.Y, 0, h-1)
			for kx := 0; kx < kernelSize.X; kx++ {
				px := utils.ClampInt(x+kx-anchor.X, 0, w-1)
				sum += m.At(py, px) * filter.At(kx, ky)
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}
