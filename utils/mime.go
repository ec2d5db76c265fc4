package utils

import (
	"path/filepath"
	"strings"
)

const (
	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypePPM is for netpbm .ppm/.pgm frames.
	MimeTypePPM = "image/x-portable-pixmap"

	// MimeTypeBMP is for uncompressed .bmp frames.
	MimeTypeBMP = "image/bmp"

	// MimeTypeTIFF is for .tiff frames.
	MimeTypeTIFF = "image/tiff"
)

var extensionMimeTypes = map[string]string{
	".jpg":  MimeTypeJPEG,
	".jpeg": MimeTypeJPEG,
	".png":  MimeTypePNG,
	".qoi":  MimeTypeQOI,
	".ppm":  MimeTypePPM,
	".pgm":  MimeTypePPM,
	".bmp":  MimeTypeBMP,
	".tif":  MimeTypeTIFF,
	".tiff": MimeTypeTIFF,
}

// MimeTypeFromPath returns the image mime type implied by a file extension, or "" if it is unknown.
func MimeTypeFromPath(path string) string {
	return extensionMimeTypes[strings.ToLower(filepath.Ext(path))]
}
