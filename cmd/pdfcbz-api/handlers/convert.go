package handlers

import (
	"net/http"
	"strconv"

	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

const (
	contentTypeCBZ = "application/vnd.comicbook+zip"
	contentTypePDF = "application/pdf"
)

// ConvertHandler handles conversion requests.
type ConvertHandler struct {
	logger *observability.Logger
	app    *app.App
}

// NewConvertHandler creates a new conversion handler.
func NewConvertHandler(logger *observability.Logger, a *app.App) *ConvertHandler {
	return &ConvertHandler{
		logger: logger.WithComponent("api-convert"),
		app:    a,
	}
}

// PdfToCbz handles POST /v1/pdf-to-cbz.
// Query parameters: dpi, quality, lossless, max_pages, fast, name.
func (h *ConvertHandler) PdfToCbz(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	in, err := readUpload(r, "document.pdf")
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	opts, err := h.pdfOptions(r)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	out, stats, err := h.app.Service.PdfToCbz(r.Context(), in.Data, opts)
	h.app.Service.Record(r.Context(), domain.DirectionPDFToCBZ, in.Name, int64(len(in.Data)), stats, err)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	log.Info().
		Str("input", in.Name).
		Int("pages", stats.Pages).
		Int("extracted", stats.ExtractedPages).
		Int("rendered", stats.RenderedPages).
		Dur("duration", stats.Duration).
		Msg("pdf converted")

	setStatsHeaders(w, stats)
	writeFile(w, contentTypeCBZ, swapExt(in.Name, ".cbz"), out)
}

// CbzToPdf handles POST /v1/cbz-to-pdf.
// Query parameters: quality, lossless, name.
func (h *ConvertHandler) CbzToPdf(w http.ResponseWriter, r *http.Request) {
	log := h.logger.WithContext(r.Context())

	in, err := readUpload(r, "archive.cbz")
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	quality, err := queryInt(r, "quality", h.app.Quality(app.ModeInteractive))
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	lossless, err := queryBool(r, "lossless", h.app.Config.Conversion.Lossless)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	out, stats, err := h.app.Service.CbzToPdf(r.Context(), in.Data, domain.CbzToPdfOptions{
		Quality:  quality,
		Lossless: lossless,
	})
	h.app.Service.Record(r.Context(), domain.DirectionCBZToPDF, in.Name, int64(len(in.Data)), stats, err)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	log.Info().
		Str("input", in.Name).
		Int("pages", stats.Pages).
		Dur("duration", stats.Duration).
		Msg("archive converted")

	setStatsHeaders(w, stats)
	writeFile(w, contentTypePDF, swapExt(in.Name, ".pdf"), out)
}

func (h *ConvertHandler) pdfOptions(r *http.Request) (domain.PdfToCbzOptions, error) {
	conv := h.app.Config.Conversion
	opts := domain.PdfToCbzOptions{Workers: conv.EffectiveWorkers()}

	var err error
	// zero lets the service apply the interactive DPI
	if opts.DPI, err = queryInt(r, "dpi", 0); err != nil {
		return opts, err
	}
	if opts.Quality, err = queryInt(r, "quality", h.app.Quality(app.ModeInteractive)); err != nil {
		return opts, err
	}
	if opts.Lossless, err = queryBool(r, "lossless", conv.Lossless); err != nil {
		return opts, err
	}
	if opts.MaxPages, err = queryInt(r, "max_pages", conv.MaxPages); err != nil {
		return opts, err
	}
	if opts.FastRender, err = queryBool(r, "fast", false); err != nil {
		return opts, err
	}
	return opts, nil
}

func setStatsHeaders(w http.ResponseWriter, stats *domain.ConversionStats) {
	h := w.Header()
	h.Set("X-Pages", strconv.Itoa(stats.Pages))
	h.Set("X-Extracted-Pages", strconv.Itoa(stats.ExtractedPages))
	h.Set("X-Rendered-Pages", strconv.Itoa(stats.RenderedPages))
	if stats.CacheHit {
		h.Set("X-Cache", "hit")
	} else {
		h.Set("X-Cache", "miss")
	}
}
