package convert

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfcbz/internal/cache"
	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/engine/enginetest"
	"github.com/spherical/pdfcbz/internal/engine/mupdf"
	"github.com/spherical/pdfcbz/internal/testutil"
)

type memLedger struct {
	mu   sync.Mutex
	recs []domain.ConversionRecord
}

func (l *memLedger) Record(_ context.Context, rec *domain.ConversionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, *rec)
	return nil
}

func (l *memLedger) Recent(_ context.Context, limit int) ([]domain.ConversionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConversionRecord(nil), l.recs...), nil
}

func (l *memLedger) Close() error { return nil }

func textPage() enginetest.PageSpec {
	return enginetest.PageSpec{WidthPt: 72, HeightPt: 72}
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var out []string
	for _, f := range zr.File {
		out = append(out, f.Name)
	}
	return out
}

func TestPdfToCbz_TextPages(t *testing.T) {
	svc := NewService(Deps{Engine: mupdf.New(nil)}, Settings{})
	pdf := testutil.TextPDF(t, 3, 612, 792)

	out, stats, err := svc.PdfToCbz(context.Background(), pdf, domain.PdfToCbzOptions{DPI: 150, Quality: 85})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 3, stats.RenderedPages)
	assert.Equal(t, int64(len(out)), stats.OutputBytes)

	images, err := svc.Archive().Unpack(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, images, 3)
	for i, img := range images {
		assert.Equal(t, domain.PageFilename(i+1, false), img.Name)
		w, _, err := codec.ProbeDimensions(img.Data)
		require.NoError(t, err)
		assert.Equal(t, 1275, w)
	}
}

func TestPdfToCbz_QualityRejectedBeforeEngine(t *testing.T) {
	for _, q := range []int{0, 101} {
		fake := enginetest.New(textPage())
		svc := NewService(Deps{Engine: fake}, Settings{})

		_, _, err := svc.PdfToCbz(context.Background(), []byte("%PDF"), domain.PdfToCbzOptions{Quality: q})
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), "quality %d", q)
		assert.Equal(t, "quality must be 1-100", domain.UserMessage(err))
		assert.Zero(t, fake.Loads())
		assert.False(t, svc.Gate().Busy())
	}

	svc := NewService(Deps{Engine: enginetest.New(textPage())}, Settings{})
	_, _, err := svc.CbzToPdf(context.Background(), testutil.Zip(t), domain.CbzToPdfOptions{Quality: 0})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestPdfToCbz_DefaultDPI(t *testing.T) {
	fake := enginetest.New(textPage())
	svc := NewService(Deps{Engine: fake}, Settings{DefaultDPI: 200})

	_, _, err := svc.PdfToCbz(context.Background(), nil, domain.PdfToCbzOptions{Quality: 85})
	require.NoError(t, err)
	require.Len(t, fake.Renders(), 1)
	assert.Equal(t, 200, fake.Renders()[0].Width)
}

func TestPdfToCbz_OrderedArchive(t *testing.T) {
	raw := testutil.Solid(8, 8, color.White)
	pages := []enginetest.PageSpec{textPage(), textPage(), textPage()}
	pages[1].Objects = []engine.Object{enginetest.ImageObject(engine.Rect{Right: 72, Top: 72})}
	pages[1].Bitmaps = map[int]image.Image{0: raw}

	svc := NewService(Deps{Engine: enginetest.New(pages...)}, Settings{Workers: 3})
	out, stats, err := svc.PdfToCbz(context.Background(), nil, domain.PdfToCbzOptions{DPI: 72, Lossless: true, Quality: 90})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExtractedPages)
	assert.Equal(t, []string{"page_0001.png", "page_0002.png", "page_0003.png"}, zipNames(t, out))
}

func TestCbzToPdf_SortsEntries(t *testing.T) {
	// distinct aspect ratios make the page order visible in the output
	archive := testutil.Zip(t,
		testutil.Entry{Name: "b.jpg", Data: testutil.JPEG(t, 200, 100, color.White)},
		testutil.Entry{Name: "a.jpg", Data: testutil.JPEG(t, 100, 100, color.White)},
		testutil.Entry{Name: "c.jpg", Data: testutil.JPEG(t, 300, 100, color.White)},
	)
	svc := NewService(Deps{Engine: mupdf.New(nil)}, Settings{})

	out, stats, err := svc.CbzToPdf(context.Background(), archive, domain.CbzToPdfOptions{Quality: 90})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)

	doc, err := mupdf.New(nil).Load(out)
	require.NoError(t, err)
	defer doc.Close()
	require.Equal(t, 3, doc.PageCount())

	wantAspect := []float64{1, 2, 3}
	for i, aspect := range wantAspect {
		page, err := doc.Page(i)
		require.NoError(t, err)
		objs, err := page.Objects()
		require.NoError(t, err)
		var found bool
		for _, o := range objs {
			if o.Kind == engine.KindImage {
				found = true
				assert.InDelta(t, aspect, o.Bounds.Width()/o.Bounds.Height(), 0.05, "page %d", i+1)
			}
		}
		assert.True(t, found, "page %d has no image", i+1)
	}
}

func TestCbzToPdfFile_EmptyArchive(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "empty.cbz")
	out := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(in, testutil.Zip(t), 0o644))

	ledger := &memLedger{}
	svc := NewService(Deps{Engine: mupdf.New(nil), Ledger: ledger}, Settings{})

	_, err := svc.CbzToPdfFile(context.Background(), in, out, domain.CbzToPdfOptions{Quality: 90})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeNoImagesFound))
	assert.Equal(t, "no images found in archive", domain.UserMessage(err))
	assert.NoFileExists(t, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary output left behind")

	require.Len(t, ledger.recs, 1)
	assert.Equal(t, domain.StatusFailed, ledger.recs[0].Status)
	assert.Equal(t, "empty.cbz", ledger.recs[0].InputName)
}

func TestPdfToCbzFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(in, testutil.TextPDF(t, 2, 300, 400), 0o644))
	out := DefaultOutputPath(in, filepath.Join(dir, "out"), domain.DirectionPDFToCBZ)
	assert.Equal(t, filepath.Join(dir, "out", "book.cbz"), out)

	ledger := &memLedger{}
	svc := NewService(Deps{Engine: mupdf.New(nil), Ledger: ledger}, Settings{})

	stats, err := svc.PdfToCbzFile(context.Background(), in, out, domain.PdfToCbzOptions{DPI: 72, Quality: 80})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"page_0001.jpg", "page_0002.jpg"}, zipNames(t, data))

	require.Len(t, ledger.recs, 1)
	rec := ledger.recs[0]
	assert.Equal(t, domain.StatusSucceeded, rec.Status)
	assert.Equal(t, domain.DirectionPDFToCBZ, rec.Direction)
	assert.Equal(t, 2, rec.Pages)
	assert.Equal(t, int64(len(data)), rec.OutputBytes)
}

func TestFile_InputErrors(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(Deps{Engine: enginetest.New(textPage())}, Settings{})

	_, err := svc.PdfToCbzFile(context.Background(), filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "x.cbz"), domain.PdfToCbzOptions{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeInputNotFound))
	assert.Equal(t, "file not found", domain.UserMessage(err))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = svc.CbzToPdfFile(context.Background(), txt, filepath.Join(dir, "x.pdf"), domain.CbzToPdfOptions{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = svc.PdfToCbzFile(context.Background(), dir, filepath.Join(dir, "x.cbz"), domain.PdfToCbzOptions{Quality: 90})
	assert.Error(t, err)
}

func TestGate_BusyAndReleased(t *testing.T) {
	fake := enginetest.New(textPage())
	svc := NewService(Deps{Engine: fake}, Settings{})

	release, ok := svc.Gate().TryAcquire()
	require.True(t, ok)
	_, _, err := svc.PdfToCbz(context.Background(), nil, domain.PdfToCbzOptions{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeBusy))
	assert.Equal(t, "another conversion is already running", domain.UserMessage(err))
	release()

	// released after a failed conversion too
	fake.FailLoad = true
	_, _, err = svc.PdfToCbz(context.Background(), nil, domain.PdfToCbzOptions{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeDocumentLoadFailed))
	assert.False(t, svc.Gate().Busy())

	fake.FailLoad = false
	_, _, err = svc.PdfToCbz(context.Background(), nil, domain.PdfToCbzOptions{Quality: 90})
	assert.NoError(t, err)
}

func TestGate_WaitHonoursContext(t *testing.T) {
	svc := NewService(Deps{Engine: enginetest.New(textPage())}, Settings{WaitForGate: true})
	release, ok := svc.Gate().TryAcquire()
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.PdfToCbz(ctx, nil, domain.PdfToCbzOptions{Quality: 90})
	assert.True(t, domain.IsType(err, domain.ErrorTypeCancelled))
}

func TestPdfToCbz_Cache(t *testing.T) {
	fake := enginetest.New(textPage(), textPage(), textPage())
	mem := cache.NewMemoryClient(4)
	defer mem.Close()
	svc := NewService(Deps{Engine: fake, Cache: mem}, Settings{})
	opts := domain.PdfToCbzOptions{DPI: 72, Quality: 90}

	first, missStats, err := svc.PdfToCbz(context.Background(), []byte("same input"), opts)
	require.NoError(t, err)
	assert.False(t, missStats.CacheHit)
	require.Equal(t, 3, missStats.Pages)

	second, stats, err := svc.PdfToCbz(context.Background(), []byte("same input"), opts)
	require.NoError(t, err)
	assert.True(t, stats.CacheHit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Loads())
	assert.Equal(t, missStats.Pages, stats.Pages)
	assert.Equal(t, missStats.ExtractedPages, stats.ExtractedPages)
	assert.Equal(t, missStats.RenderedPages, stats.RenderedPages)
	assert.Equal(t, int64(len(second)), stats.OutputBytes)

	opts.Quality = 70
	_, stats, err = svc.PdfToCbz(context.Background(), []byte("same input"), opts)
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	assert.Equal(t, 2, fake.Loads())
}

func TestCbzToPdf_CacheKeepsPageCount(t *testing.T) {
	mem := cache.NewMemoryClient(4)
	defer mem.Close()
	svc := NewService(Deps{Engine: enginetest.New(), Cache: mem}, Settings{})
	archive := testutil.Zip(t,
		testutil.Entry{Name: "01.jpg", Data: testutil.JPEG(t, 20, 30, color.White)},
		testutil.Entry{Name: "02.jpg", Data: testutil.JPEG(t, 20, 30, color.Black)},
	)
	opts := domain.CbzToPdfOptions{Quality: 90}

	first, missStats, err := svc.CbzToPdf(context.Background(), archive, opts)
	require.NoError(t, err)
	assert.False(t, missStats.CacheHit)

	second, stats, err := svc.CbzToPdf(context.Background(), archive, opts)
	require.NoError(t, err)
	assert.True(t, stats.CacheHit)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, stats.Pages)
}

func TestService_TruncatedCacheEntryIsMiss(t *testing.T) {
	mem := cache.NewMemoryClient(4)
	defer mem.Close()
	fake := enginetest.New(textPage())
	svc := NewService(Deps{Engine: fake, Cache: mem}, Settings{})
	opts := domain.PdfToCbzOptions{DPI: 72, Quality: 90}

	key := cache.Key(domain.DirectionPDFToCBZ, []byte("input"), "dpi=72,lossless=false,q=90,max=0,fast=false")
	require.NoError(t, mem.Set(context.Background(), key, []byte{1, 2}, time.Hour))

	_, stats, err := svc.PdfToCbz(context.Background(), []byte("input"), opts)
	require.NoError(t, err)
	assert.False(t, stats.CacheHit)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, fake.Loads())
}

func TestPdfToCbz_ProgressStages(t *testing.T) {
	svc := NewService(Deps{Engine: enginetest.New(textPage(), textPage())}, Settings{Workers: 1})

	var stages []domain.Stage
	var mu sync.Mutex
	opts := domain.PdfToCbzOptions{DPI: 72, Quality: 90, Progress: func(ev domain.ProgressEvent) {
		mu.Lock()
		stages = append(stages, ev.Stage)
		mu.Unlock()
	}}
	_, _, err := svc.PdfToCbz(context.Background(), nil, opts)
	require.NoError(t, err)

	require.NotEmpty(t, stages)
	assert.Equal(t, domain.StageLoad, stages[0])
	assert.Equal(t, domain.StageDone, stages[len(stages)-1])
	assert.Contains(t, stages, domain.StagePackage)
}

func TestDirectionFor(t *testing.T) {
	d, err := DirectionFor("x/Book.PDF")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionPDFToCBZ, d)

	for _, name := range []string{"a.cbz", "a.cbr", "a.zip"} {
		d, err = DirectionFor(name)
		require.NoError(t, err)
		assert.Equal(t, domain.DirectionCBZToPDF, d)
	}

	_, err = DirectionFor("a.epub")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}
