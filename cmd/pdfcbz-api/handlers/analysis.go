package handlers

import (
	"net/http"
	"strconv"

	"github.com/spherical/pdfcbz/internal/analysis"
	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

// AnalysisHandler handles document inspection requests. Every request
// holds the conversion gate while it reads the document.
type AnalysisHandler struct {
	logger *observability.Logger
	app    *app.App
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(logger *observability.Logger, a *app.App) *AnalysisHandler {
	return &AnalysisHandler{
		logger: logger.WithComponent("api-analysis"),
		app:    a,
	}
}

// AnalyzePDF handles POST /v1/analyze/pdf.
func (h *AnalysisHandler) AnalyzePDF(w http.ResponseWriter, r *http.Request) {
	h.inspect(w, r, "document.pdf", func(in *upload) (interface{}, error) {
		return h.app.Analyzer.AnalyzePDF(r.Context(), in.Data)
	})
}

// AnalyzeArchive handles POST /v1/analyze/archive.
func (h *AnalysisHandler) AnalyzeArchive(w http.ResponseWriter, r *http.Request) {
	h.inspect(w, r, "archive.cbz", func(in *upload) (interface{}, error) {
		return h.app.Analyzer.AnalyzeArchive(r.Context(), in.Data)
	})
}

// PreviewPDF handles POST /v1/preview/pdf.
// Query parameters: page (1-based, default 1), format, quality, dpi.
func (h *AnalysisHandler) PreviewPDF(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, "document.pdf", 1, func(in *upload, page int, opts analysis.PreviewOptions) (*analysis.Preview, error) {
		return h.app.Analyzer.PreviewPDFPage(r.Context(), in.Data, page, opts)
	})
}

// PreviewArchive handles POST /v1/preview/archive.
// Query parameters: page (0-based image index, default 0), format, quality.
func (h *AnalysisHandler) PreviewArchive(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, "archive.cbz", 0, func(in *upload, page int, opts analysis.PreviewOptions) (*analysis.Preview, error) {
		return h.app.Analyzer.PreviewArchivePage(r.Context(), in.Data, page, opts)
	})
}

func (h *AnalysisHandler) inspect(w http.ResponseWriter, r *http.Request, fallbackName string, run func(*upload) (interface{}, error)) {
	log := h.logger.WithContext(r.Context())

	in, err := readUpload(r, fallbackName)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	release, ok := h.app.Service.Gate().TryAcquire()
	if !ok {
		writeDomainError(w, log, domain.BusyError())
		return
	}
	report, err := run(in)
	release()
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AnalysisHandler) preview(w http.ResponseWriter, r *http.Request, fallbackName string, defaultPage int,
	run func(*upload, int, analysis.PreviewOptions) (*analysis.Preview, error)) {
	log := h.logger.WithContext(r.Context())

	page, err := queryInt(r, "page", defaultPage)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	opts := analysis.PreviewOptions{Format: r.URL.Query().Get("format")}
	if opts.Quality, err = queryInt(r, "quality", h.app.Quality(app.ModeInteractive)); err != nil {
		writeDomainError(w, log, err)
		return
	}
	if opts.DPI, err = queryInt(r, "dpi", h.app.Config.Conversion.InteractiveDPI); err != nil {
		writeDomainError(w, log, err)
		return
	}

	in, err := readUpload(r, fallbackName)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	release, ok := h.app.Service.Gate().TryAcquire()
	if !ok {
		writeDomainError(w, log, domain.BusyError())
		return
	}
	p, err := run(in, page, opts)
	release()
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "image/"+p.Format)
	hdr.Set("Content-Length", strconv.Itoa(len(p.Data)))
	hdr.Set("X-Page", strconv.Itoa(p.Page))
	hdr.Set("X-Pages", strconv.Itoa(p.Pages))
	hdr.Set("X-Image-Width", strconv.Itoa(p.Width))
	hdr.Set("X-Image-Height", strconv.Itoa(p.Height))
	if p.Path != "" {
		hdr.Set("X-Page-Path", string(p.Path))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(p.Data)
}
