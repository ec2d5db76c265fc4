package rimage

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"go.viam.com/procam/utils"
)

// EncodeImage writes img in the format named by mimeType.
func EncodeImage(w io.Writer, img image.Image, mimeType string) error {
	switch mimeType {
	case utils.MimeTypePNG:
		return png.Encode(w, img)
	case utils.MimeTypeJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case utils.MimeTypeQOI:
		return qoi.Encode(w, img)
	case utils.MimeTypePPM:
		return ppm.Encode(w, toRGBA(img))
	case utils.MimeTypeBMP:
		return bmp.Encode(w, img)
	case utils.MimeTypeTIFF:
		return tiff.Encode(w, img, nil)
	default:
		return errors.Errorf("do not know how to encode %q", mimeType)
	}
}

// toRGBA returns img itself when it already uses the RGBA color model, otherwise an RGBA copy.
func toRGBA(img image.Image) image.Image {
	if img.ColorModel() == color.RGBAModel {
		return img
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

// DecodeImage reads an image in any of the registered formats.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

// ReadImageFromFile reads an image from disk; the format is sniffed from its content.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	img, err := DecodeImage(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return img, nil
}

// WriteImageToFile writes an image to disk in the format implied by the file extension, creating
// parent directories as needed.
func WriteImageToFile(path string, img image.Image) (err error) {
	mimeType := utils.MimeTypeFromPath(path)
	if mimeType == "" {
		return errors.Errorf("unknown image extension for %s", path)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := EncodeImage(w, img, mimeType); err != nil {
		return err
	}
	return w.Flush()
}
