// Package pipeline turns a PDF into an ordered list of encoded page images.
//
// Work is split in two phases. Phase one walks the pages in order on the
// calling goroutine, extracting embedded images where possible and
// queueing the rest; every engine call happens here. Phase two renders the
// queued pages, still sequentially, and hands each bitmap to a bounded
// worker pool that resizes and encodes it. Entries are sorted by page
// number at the end, which is what restores reading order.
package pipeline

import (
	"context"
	"errors"
	"image"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/extract"
	"github.com/spherical/pdfcbz/internal/observability"
)

// Options controls one pipeline run.
type Options struct {
	// DPI of rendered pages; 0 means config.DefaultDPI.
	DPI      int
	Lossless bool
	// Quality of JPEG output, 1..100. Ignored when Lossless is set.
	Quality int
	// MaxPages limits the pages converted; 0 converts all pages.
	MaxPages int
	// Workers sizes the encode pool; 0 uses the number of CPUs.
	Workers int
	// FastRender renders queued pages at 72 DPI and resamples them to the
	// target size in the worker pool. Lossy mode only.
	FastRender bool
}

// Result is the outcome of a pipeline run.
type Result struct {
	// Entries in ascending page order.
	Entries   []domain.PageEntry
	Pages     int
	Extracted int
	Rendered  int
	Duration  time.Duration
}

// Pipeline converts PDF pages to images.
type Pipeline struct {
	engine   engine.Engine
	selector *extract.Selector
	log      *observability.Logger
}

// New creates a Pipeline on top of eng.
func New(eng engine.Engine, log *observability.Logger) *Pipeline {
	if log == nil {
		log = observability.Nop()
	}
	return &Pipeline{
		engine:   eng,
		selector: extract.NewSelector(log),
		log:      log.WithComponent("pipeline"),
	}
}

// pendingPage is a page queued for rendering.
type pendingPage struct {
	page     engine.Page
	number   int
	widthPt  float64
	heightPt float64
}

var errZeroSize = errors.New("page has zero size")

// Normalize fills defaults and validates opts.
func (o Options) Normalize() (Options, error) {
	if o.DPI == 0 {
		o.DPI = config.DefaultDPI
	}
	if o.DPI < 0 {
		return o, domain.ValidationError("dpi must not be negative", nil)
	}
	if err := config.ValidateQuality(o.Quality); err != nil {
		return o, domain.ValidationError("quality must be 1-100", err)
	}
	if o.MaxPages < 0 {
		return o, domain.ValidationError("max pages must not be negative", nil)
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o, nil
}

// Run converts pdf according to opts. progress may be nil; it is called
// from the worker pool as well as the calling goroutine.
func (p *Pipeline) Run(ctx context.Context, pdf []byte, opts Options, progress domain.ProgressFunc) (*Result, error) {
	start := time.Now()
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}

	progress.Emit(domain.ProgressEvent{Stage: domain.StageLoad})
	doc, err := p.engine.Load(pdf)
	if err != nil {
		return nil, domain.DocumentLoadError("cannot load document", err)
	}
	defer doc.Close()

	count := doc.PageCount()
	if count == 0 {
		return nil, domain.NoPagesError("document has no pages")
	}
	total := count
	if opts.MaxPages > 0 && opts.MaxPages < total {
		total = opts.MaxPages
	}

	p.log.Info().
		Int("pages", count).
		Int("processing", total).
		Int("dpi", opts.DPI).
		Bool("lossless", opts.Lossless).
		Int("quality", opts.Quality).
		Int("workers", opts.Workers).
		Msg("conversion started")

	extracted, pending, err := p.scan(doc, total, opts, progress)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}

	rendered, err := p.renderAndEncode(pending, total, opts, progress)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}

	entries := append(extracted, rendered...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PageNumber < entries[j].PageNumber
	})
	if len(entries) == 0 {
		return nil, domain.NoPagesError("no pages could be converted")
	}

	res := &Result{
		Entries:   entries,
		Pages:     total,
		Extracted: len(extracted),
		Rendered:  len(rendered),
		Duration:  time.Since(start),
	}
	p.log.Info().
		Int("extracted", res.Extracted).
		Int("rendered", res.Rendered).
		Dur("duration", res.Duration).
		Msg("conversion finished")
	return res, nil
}

// scan is phase one: pages in order, extract or queue.
func (p *Pipeline) scan(doc engine.Document, total int, opts Options, progress domain.ProgressFunc) ([]domain.PageEntry, []pendingPage, error) {
	var (
		extracted []domain.PageEntry
		pending   []pendingPage
	)

	for i := 0; i < total; i++ {
		number := i + 1
		page, err := doc.Page(i)
		if err != nil {
			return nil, nil, domain.PageAccessError(number, err)
		}
		w, h := page.Size()
		if w <= 0 || h <= 0 {
			return nil, nil, domain.PageAccessError(number, errZeroSize)
		}

		if data, ok := p.tryExtract(page, opts); ok {
			extracted = append(extracted, domain.PageEntry{
				PageNumber: number,
				Filename:   domain.PageFilename(number, opts.Lossless),
				Data:       data,
				Path:       domain.PathExtracted,
			})
			progress.Emit(domain.ProgressEvent{Stage: domain.StageScan, Page: number, Total: total, Path: domain.PathExtracted})
			continue
		}

		pending = append(pending, pendingPage{page: page, number: number, widthPt: w, heightPt: h})
		progress.Emit(domain.ProgressEvent{Stage: domain.StageScan, Page: number, Total: total, Path: domain.PathRendered})
	}

	p.log.Debug().Int("extracted", len(extracted)).Int("queued", len(pending)).Msg("scan finished")
	return extracted, pending, nil
}

// tryExtract attempts direct extraction. Any failure is logged and
// reported as not ok so the page falls back to rendering.
func (p *Pipeline) tryExtract(page engine.Page, opts Options) ([]byte, bool) {
	cand, _, err := p.selector.FindBestImageCandidate(page)
	if err != nil {
		p.log.Debug().Int("page", page.Number()).Err(err).Msg("candidate selection failed, rendering")
		return nil, false
	}
	if cand == nil {
		return nil, false
	}

	data, err := extract.Extract(page, cand.ObjectIndex, opts.Lossless, opts.Quality)
	if err != nil {
		p.log.Debug().
			Int("page", page.Number()).
			Int("object", cand.ObjectIndex).
			Err(err).
			Msg("extraction failed, rendering")
		return nil, false
	}
	return data, true
}

// renderAndEncode is phase two. Rendering stays on this goroutine; each
// bitmap is then resized and encoded on the pool. Go blocks while the pool
// is full, which bounds the number of bitmaps held in memory.
func (p *Pipeline) renderAndEncode(pending []pendingPage, total int, opts Options, progress domain.ProgressFunc) ([]domain.PageEntry, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	native := opts.FastRender && !opts.Lossless
	entries := make([]domain.PageEntry, len(pending))
	errs := make([]error, len(pending))

	var g errgroup.Group
	g.SetLimit(opts.Workers)

	var renderErr error
	for slot, pp := range pending {
		targetW := codec.PixelsAt(pp.widthPt, opts.DPI)
		targetH := codec.PixelsAt(pp.heightPt, opts.DPI)
		renderW, renderH := targetW, targetH
		if native {
			renderW = codec.PixelsAt(pp.widthPt, codec.NativeDPI)
			renderH = codec.PixelsAt(pp.heightPt, codec.NativeDPI)
		}

		bitmap, err := pp.page.Render(renderW, renderH)
		if err != nil {
			renderErr = domain.RenderError(pp.number, err)
			break
		}

		slot, number := slot, pp.number
		g.Go(func() error {
			data, err := encodePage(bitmap, targetW, targetH, opts)
			if err != nil {
				errs[slot] = domain.EncodeError("encode rendered page", err).OnPage(number)
				return nil
			}
			entries[slot] = domain.PageEntry{
				PageNumber: number,
				Filename:   domain.PageFilename(number, opts.Lossless),
				Data:       data,
				Path:       domain.PathRendered,
			}
			progress.Emit(domain.ProgressEvent{Stage: domain.StageEncode, Page: number, Total: total, Path: domain.PathRendered})
			return nil
		})
	}
	_ = g.Wait()

	// the failure on the lowest page wins, whichever finished first
	for _, err := range errs {
		if err != nil && (renderErr == nil || pageOf(err) < pageOf(renderErr)) {
			return nil, err
		}
	}
	if renderErr != nil {
		return nil, renderErr
	}
	return entries, nil
}

// encodePage resizes bitmap to the target size when needed and encodes it.
func encodePage(bitmap image.Image, w, h int, opts Options) ([]byte, error) {
	if opts.DPI != codec.NativeDPI {
		bitmap = codec.Resize(bitmap, w, h)
	}
	return codec.Encode(bitmap, opts.Lossless, opts.Quality)
}

func pageOf(err error) int {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Page
	}
	return 0
}
