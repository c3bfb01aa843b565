// Package testutil builds PDF, image and archive fixtures for tests.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// PageSpec describes one page of a generated PDF. Coordinates are in
// points with the origin at the top-left corner.
type PageSpec struct {
	Text string
	// Image is JPEG or PNG data placed at X, Y with size W x H.
	Image      []byte
	ImageType  string // "JPG" or "PNG"
	X, Y, W, H float64
}

// BuildPDF renders pages of size wPt x hPt.
func BuildPDF(t testing.TB, wPt, hPt float64, pages ...PageSpec) []byte {
	t.Helper()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: wPt, Ht: hPt},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Helvetica", "", 14)

	for i, p := range pages {
		pdf.AddPage()
		if p.Image != nil {
			name := fmt.Sprintf("img%d", i)
			opts := gofpdf.ImageOptions{ImageType: p.ImageType}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(p.Image))
			pdf.ImageOptions(name, p.X, p.Y, p.W, p.H, false, opts, 0, "")
		}
		if p.Text != "" {
			pdf.Text(72, 72, p.Text)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// TextPDF returns a PDF of n text-only pages.
func TextPDF(t testing.TB, n int, wPt, hPt float64) []byte {
	t.Helper()
	pages := make([]PageSpec, n)
	for i := range pages {
		pages[i] = PageSpec{Text: fmt.Sprintf("Page %d", i+1)}
	}
	return BuildPDF(t, wPt, hPt, pages...)
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// JPEG encodes a solid w x h image.
func JPEG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, Solid(w, h, c), &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// PNG encodes a solid w x h image.
func PNG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, Solid(w, h, c)))
	return buf.Bytes()
}

// Decode decodes image data and fails the test on error.
func Decode(t testing.TB, data []byte) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// Entry is a named archive member.
type Entry struct {
	Name string
	Data []byte
}

// Zip builds a ZIP archive holding entries in the given order.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		require.NoError(t, err)
		_, err = w.Write(e.Data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
