package app

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func toImage(texels [][4]float32, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			t := texels[y*width+x]
			img.SetNRGBA(x, y, color.NRGBA{
				R: quantize(t[0]),
				G: quantize(t[1]),
				B: quantize(t[2]),
				A: quantize(t[3]),
			})
		}
	}
	return img
}

func quantize(v float32) uint8 {
	if math.IsNaN(float64(v)) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func encode(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		return bmp.Encode(w, img)
	}
	return fmt.Errorf("app: unsupported image format %q", format)
}

// WriteImage encodes img into path, creating parent directories.
func WriteImage(img image.Image, path, format string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err := encode(f, img, format); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
