// Package codec encodes, decodes, probes and resizes page images.
package codec

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif" // archive pages may be GIF
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/pdfcbz/internal/domain"
)

// NativeDPI is the resolution at which one PDF point maps to one pixel.
const NativeDPI = 72

// Image formats as reported by Format and image.DecodeConfig.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
)

// EncodeJPEG encodes img as baseline JPEG at quality 1..100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		return nil, domain.ValidationError("quality must be 1-100", nil)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, domain.EncodeError("encode jpeg", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img losslessly as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, domain.EncodeError("encode png", err)
	}
	return buf.Bytes(), nil
}

// Encode encodes img as PNG when lossless is set, JPEG at quality otherwise.
func Encode(img image.Image, lossless bool, quality int) ([]byte, error) {
	if lossless {
		return EncodePNG(img)
	}
	return EncodeJPEG(img, quality)
}

// Decode decodes any registered format (JPEG, PNG, GIF, WebP, TIFF, BMP).
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(err, "decode image")
	}
	return img, format, nil
}

// Format reports the image format from the header, or "" if unrecognised.
func Format(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return format
}

// ProbeDimensions returns the pixel size of encoded image data. It reads
// only the header and falls back to a full decode when the header cannot
// be parsed.
func ProbeDimensions(data []byte) (width, height int, err error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && cfg.Width > 0 && cfg.Height > 0 {
		return cfg.Width, cfg.Height, nil
	}
	img, _, err := Decode(data)
	if err != nil {
		return 0, 0, errors.Wrap(err, "probe dimensions")
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Resize scales img to exactly w x h with Catmull-Rom resampling.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return imaging.Resize(img, w, h, imaging.CatmullRom)
}

// ToRGB returns an opaque 8-bit RGB copy of img with any transparency
// composited over white.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// PixelsAt converts a length in points to pixels at dpi, rounded to the
// nearest pixel and never below one.
func PixelsAt(points float64, dpi int) int {
	px := int(math.Round(points * float64(dpi) / NativeDPI))
	if px < 1 {
		return 1
	}
	return px
}
