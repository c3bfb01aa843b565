package analysis

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/engine/enginetest"
	"github.com/spherical/pdfcbz/internal/engine/mupdf"
	"github.com/spherical/pdfcbz/internal/testutil"
)

func TestOptimalDPI(t *testing.T) {
	tests := []struct {
		widthPt float64
		want    int
	}{
		{612, 235},
		{100, MaxDPI},
		{3000, MinDPI},
		{0, MaxDPI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OptimalDPI(tt.widthPt), "width %v", tt.widthPt)
	}
}

func TestNativeDPI(t *testing.T) {
	tests := []struct {
		name  string
		size  int64
		pages int
		want  int
	}{
		{"mid weight page", 1_000_000, 1, 116},
		{"heavy page", 30_000_000, 1, 401},
		{"light page clamps to minimum", 100_000, 1, MinDPI},
		{"no pages", 1_000_000, 0, DefaultNativeDPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NativeDPI(tt.size, tt.pages, 612, 792))
		})
	}
	assert.Equal(t, DefaultNativeDPI, NativeDPI(1000, 1, 0, 792))
}

func TestAnalyzePDF(t *testing.T) {
	eng := enginetest.New(
		enginetest.PageSpec{
			WidthPt: 612, HeightPt: 792,
			Objects: []engine.Object{
				enginetest.ImageObject(engine.Rect{Right: 612, Top: 792}),
				{Kind: engine.KindText, Bounds: engine.Rect{Left: 72, Bottom: 700, Right: 200, Top: 720}, HasBounds: true},
			},
			Bitmaps: map[int]image.Image{0: enginetest.Solid(10, 10, color.Black)},
		},
		enginetest.PageSpec{
			WidthPt: 300, HeightPt: 600,
			Objects: []engine.Object{{Kind: engine.KindPath}},
		},
	)
	a := New(eng, nil, nil)

	report, err := a.AnalyzePDF(context.Background(), make([]byte, 1_000_000))
	require.NoError(t, err)

	assert.Equal(t, 2, report.PageCount)
	require.Len(t, report.Pages, 2)
	assert.Equal(t, OptimalDPI(612), report.RecommendedDPI)
	assert.Equal(t, NativeDPI(1_000_000, 2, 456, 696), report.NativeDPI)
	assert.InDelta(t, 0.954, report.SizeMB, 0.001)
	assert.Equal(t, 1, report.ExtractPages)
	assert.Equal(t, 1, report.RenderPages)

	first := report.Pages[0]
	assert.Equal(t, 1, first.PageNumber)
	assert.Equal(t, 1998, first.WidthPx)
	assert.Equal(t, map[string]int{"image": 1, "text": 1}, first.Objects)
	assert.InDelta(t, 1.0, first.Coverage, 1e-9)
	assert.Equal(t, domain.PathExtracted, first.Path)

	second := report.Pages[1]
	assert.Equal(t, OptimalDPI(300), second.WidthPx*72/300)
	assert.Equal(t, map[string]int{"path": 1}, second.Objects)
	assert.Equal(t, domain.PathRendered, second.Path)

	assert.Empty(t, eng.Renders(), "analysis never renders")
	assert.Equal(t, 1, eng.Closed())
}

func TestAnalyzePDF_LoadFailure(t *testing.T) {
	eng := enginetest.New()
	eng.FailLoad = true

	_, err := New(eng, nil, nil).AnalyzePDF(context.Background(), []byte("x"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeDocumentLoadFailed))
}

func TestAnalyzePDF_RealEngine(t *testing.T) {
	data := testutil.TextPDF(t, 2, 612, 792)

	report, err := New(mupdf.New(nil), nil, nil).AnalyzePDF(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 2, report.PageCount)
	assert.Equal(t, 235, report.RecommendedDPI)
	for _, p := range report.Pages {
		assert.InDelta(t, 612, p.WidthPt, 0.5)
		assert.Equal(t, domain.PathRendered, p.Path)
		assert.Positive(t, p.Objects["text"])
	}
}

func TestAnalyzeArchive(t *testing.T) {
	data := testutil.Zip(t,
		testutil.Entry{Name: "02.png", Data: testutil.PNG(t, 30, 40, color.White)},
		testutil.Entry{Name: "01.jpg", Data: testutil.JPEG(t, 20, 10, color.Black)},
		testutil.Entry{Name: "03.webp", Data: []byte("not really webp")},
		testutil.Entry{Name: "notes.txt", Data: []byte("skip")},
	)

	report, err := New(nil, nil, nil).AnalyzeArchive(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, 3, report.PageCount)
	require.Len(t, report.Pages, 3)
	assert.Equal(t, ArchivePage{
		PageNumber: 1, FileName: "01.jpg", Width: 20, Height: 10,
		Format: codec.FormatJPEG, SizeKB: report.Pages[0].SizeKB,
	}, report.Pages[0])
	assert.Equal(t, "02.png", report.Pages[1].FileName)
	assert.Equal(t, codec.FormatPNG, report.Pages[1].Format)
	assert.Equal(t, 30, report.Pages[1].Width)

	broken := report.Pages[2]
	assert.Equal(t, 3, broken.PageNumber)
	assert.Zero(t, broken.Width)
	assert.Equal(t, "webp", broken.Format)
}

func TestAnalyzeArchive_NotAnArchive(t *testing.T) {
	_, err := New(nil, nil, nil).AnalyzeArchive(context.Background(), []byte("plain text"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeArchiveOpenFailed))
}
