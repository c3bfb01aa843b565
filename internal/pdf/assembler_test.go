package pdf

import (
	"bytes"
	"image/color"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/engine/mupdf"
	"github.com/spherical/pdfcbz/internal/testutil"
)

const ptPerMM = 72 / 25.4

func TestPlace(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		dpi        float64
		fullWidth  bool
		fullHeight bool
	}{
		{"A4 portrait at 300 DPI", 2481, 3507, 300, true, true},
		{"wide image is width bound", 2000, 1000, 2000 / PageWidthIn, true, false},
		{"tall image is height bound", 1000, 4000, 4000 / PageHeightIn, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := Place(tt.w, tt.h)
			assert.InDelta(t, tt.dpi, pl.DPI, 0.5)
			assert.Zero(t, pl.X)
			assert.Zero(t, pl.Y)
			assert.LessOrEqual(t, pl.Width, PageWidthMM+0.1)
			assert.LessOrEqual(t, pl.Height, PageHeightMM+0.1)
			if tt.fullWidth {
				assert.InDelta(t, PageWidthIn*25.4, pl.Width, 0.01)
			}
			if tt.fullHeight {
				assert.InDelta(t, PageHeightIn*25.4, pl.Height, 0.01)
			}
		})
	}
}

func TestAssemble_PagesAndPlacement(t *testing.T) {
	jpeg := testutil.JPEG(t, 827, 1169, color.White)
	png := testutil.PNG(t, 400, 200, color.RGBA{G: 255, A: 255})

	out, err := NewAssembler(nil).Assemble([]domain.ImageEntry{
		{Name: "a.jpg", Data: jpeg},
		{Name: "b.png", Data: png},
	}, Options{Lossless: true, Quality: 90})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out, jpeg), "JPEG bytes must be embedded untouched")

	doc, err := mupdf.New(nil).Load(out)
	require.NoError(t, err)
	defer doc.Close()
	require.Equal(t, 2, doc.PageCount())

	for i := 0; i < 2; i++ {
		page, err := doc.Page(i)
		require.NoError(t, err)
		w, h := page.Size()
		assert.InDelta(t, PageWidthMM*ptPerMM, w, 0.5)
		assert.InDelta(t, PageHeightMM*ptPerMM, h, 0.5)
	}

	// the wide PNG fills the width and sits on the bottom edge
	page, err := doc.Page(1)
	require.NoError(t, err)
	objs, err := page.Objects()
	require.NoError(t, err)
	var img *engine.Object
	for i := range objs {
		if objs[i].Kind == engine.KindImage {
			img = &objs[i]
		}
	}
	require.NotNil(t, img)
	assert.InDelta(t, 0, img.Bounds.Left, 0.5)
	assert.InDelta(t, 0, img.Bounds.Bottom, 0.5)
	assert.InDelta(t, PageWidthIn*72, img.Bounds.Width(), 0.5)
	assert.InDelta(t, PageWidthIn*72/2, img.Bounds.Height(), 0.5)
}

func TestAssemble_GIFIsConverted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testutil.Solid(20, 30, color.Black), nil))

	for _, lossless := range []bool{true, false} {
		out, err := NewAssembler(nil).Assemble([]domain.ImageEntry{{Name: "x.gif", Data: buf.Bytes()}}, Options{Lossless: lossless, Quality: 80})
		require.NoError(t, err)

		doc, err := mupdf.New(nil).Load(out)
		require.NoError(t, err)
		assert.Equal(t, 1, doc.PageCount())
		doc.Close()
	}
}

func TestAssemble_Errors(t *testing.T) {
	_, err := NewAssembler(nil).Assemble(nil, Options{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeNoImagesFound))

	_, err = NewAssembler(nil).Assemble([]domain.ImageEntry{{Name: "bad.png", Data: []byte("not a png")}}, Options{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeEncodeFailed))
}
