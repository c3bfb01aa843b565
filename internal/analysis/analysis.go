// Package analysis inspects PDFs and archives before a conversion, runs the
// single page smoke check and produces page previews.
//
// An Analyzer drives the same engine as the converter, so callers must hold
// the conversion gate while one of its methods runs.
package analysis

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	"github.com/spherical/pdfcbz/internal/archive"
	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
	"github.com/spherical/pdfcbz/internal/extract"
	"github.com/spherical/pdfcbz/internal/observability"
)

const (
	// TargetPixelWidth is the page width in pixels RecommendedDPI aims for.
	TargetPixelWidth = 2000.0
	MinDPI           = 72
	MaxDPI           = 1200
	// DefaultNativeDPI is reported for documents without pages.
	DefaultNativeDPI = 150
)

// PageInfo describes one PDF page.
type PageInfo struct {
	PageNumber int     `json:"page_number"`
	WidthPt    float64 `json:"width_pt"`
	HeightPt   float64 `json:"height_pt"`
	// WidthPx and HeightPx are the page size at the page's optimal DPI.
	WidthPx   int `json:"width_px"`
	HeightPx  int `json:"height_px"`
	NativeDPI int `json:"native_dpi"`
	// Objects counts top-level page objects by kind.
	Objects map[string]int `json:"objects"`
	// Coverage is the page box fraction covered by the best image candidate.
	Coverage float64         `json:"coverage"`
	Path     domain.PagePath `json:"path"`
}

// PDFReport is the result of AnalyzePDF.
type PDFReport struct {
	PageCount      int        `json:"page_count"`
	Pages          []PageInfo `json:"pages"`
	RecommendedDPI int        `json:"recommended_dpi"`
	NativeDPI      int        `json:"native_dpi"`
	SizeMB         float64    `json:"pdf_size_mb"`
	ExtractPages   int        `json:"extract_pages"`
	RenderPages    int        `json:"render_pages"`
}

// ArchivePage describes one archive image.
type ArchivePage struct {
	PageNumber int     `json:"page_number"`
	FileName   string  `json:"file_name"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Format     string  `json:"format"`
	SizeKB     float64 `json:"size_kb"`
}

// ArchiveReport is the result of AnalyzeArchive.
type ArchiveReport struct {
	PageCount int           `json:"page_count"`
	Pages     []ArchivePage `json:"pages"`
	SizeMB    float64       `json:"cbz_size_mb"`
}

// Analyzer inspects documents.
type Analyzer struct {
	engine   engine.Engine
	selector *extract.Selector
	archive  *archive.Packager
	log      *observability.Logger
}

// New creates an Analyzer. A nil packager uses the archive defaults.
func New(eng engine.Engine, pkg *archive.Packager, log *observability.Logger) *Analyzer {
	if log == nil {
		log = observability.Nop()
	}
	if pkg == nil {
		pkg = archive.New(config.ArchiveConfig{}, log)
	}
	return &Analyzer{
		engine:   eng,
		selector: extract.NewSelector(log),
		archive:  pkg,
		log:      log.WithComponent("analysis"),
	}
}

// OptimalDPI is the resolution that renders a page widthPt wide at
// TargetPixelWidth pixels, clamped to MinDPI..MaxDPI.
func OptimalDPI(widthPt float64) int {
	if widthPt <= 0 {
		return MaxDPI
	}
	return clampDPI(math.Round(TargetPixelWidth / (widthPt / 72)))
}

// NativeDPI estimates the resolution the document was produced at from its
// size. Each page is assumed to take an equal share of the file, and the
// bytes per pixel assumed shrink as pages get lighter: heavy pages are
// likely lossless scans, light ones compressed JPEG.
func NativeDPI(sizeBytes int64, pageCount int, widthPt, heightPt float64) int {
	if pageCount <= 0 || widthPt <= 0 || heightPt <= 0 {
		return DefaultNativeDPI
	}
	perPage := float64(sizeBytes) / float64(pageCount)

	bytesPerPixel := 0.25
	switch {
	case perPage > 2_000_000:
		bytesPerPixel = 2.0
	case perPage > 500_000:
		bytesPerPixel = 0.8
	}

	pixels := perPage / bytesPerPixel
	aspect := heightPt / widthPt
	widthPx := math.Sqrt(pixels / aspect)
	return clampDPI(math.Round(widthPx * 72 / widthPt))
}

func clampDPI(dpi float64) int {
	if dpi < MinDPI {
		return MinDPI
	}
	if dpi > MaxDPI {
		return MaxDPI
	}
	return int(dpi)
}

// AnalyzePDF reports page sizes, resolutions and the conversion path each
// page would take.
func (a *Analyzer) AnalyzePDF(ctx context.Context, data []byte) (*PDFReport, error) {
	doc, err := a.engine.Load(data)
	if err != nil {
		return nil, domain.DocumentLoadError("failed to load PDF document", err)
	}
	defer doc.Close()

	n := doc.PageCount()
	report := &PDFReport{
		PageCount: n,
		Pages:     make([]PageInfo, 0, n),
		SizeMB:    float64(len(data)) / (1024 * 1024),
	}

	var totalW, totalH, maxW float64
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.CancelledError(err)
		}
		page, err := doc.Page(i)
		if err != nil {
			return nil, domain.PageAccessError(i+1, err)
		}
		w, h := page.Size()
		totalW += w
		totalH += h
		maxW = math.Max(maxW, w)

		dpi := OptimalDPI(w)
		info := PageInfo{
			PageNumber: i + 1,
			WidthPt:    w,
			HeightPt:   h,
			WidthPx:    int(math.Round(w * float64(dpi) / 72)),
			HeightPx:   int(math.Round(h * float64(dpi) / 72)),
			NativeDPI:  NativeDPI(int64(len(data)), n, w, h),
		}
		a.inspect(page, &info)
		if info.Path == domain.PathExtracted {
			report.ExtractPages++
		} else {
			report.RenderPages++
		}
		report.Pages = append(report.Pages, info)
	}

	report.RecommendedDPI = OptimalDPI(maxW)
	report.NativeDPI = DefaultNativeDPI
	if n > 0 {
		report.NativeDPI = NativeDPI(int64(len(data)), n, totalW/float64(n), totalH/float64(n))
	}

	a.log.Info().
		Int("pages", n).
		Int("recommended_dpi", report.RecommendedDPI).
		Int("native_dpi", report.NativeDPI).
		Int("extract_pages", report.ExtractPages).
		Msg("pdf analysed")
	return report, nil
}

func (a *Analyzer) inspect(page engine.Page, info *PageInfo) {
	info.Path = domain.PathRendered
	info.Objects = map[string]int{}

	objects, err := page.Objects()
	if err != nil {
		a.log.Debug().Err(err).Int("page", info.PageNumber).Msg("objects unavailable")
		return
	}
	for _, obj := range objects {
		info.Objects[obj.Kind.String()]++
	}

	candidate, _, err := a.selector.FindBestImageCandidate(page)
	if err != nil || candidate == nil {
		return
	}
	info.Coverage = candidate.Coverage
	if candidate.CanExtractRaw {
		info.Path = domain.PathExtracted
	}
}

// AnalyzeArchive lists the images of a CBZ or CBR archive in page order.
// Images whose header cannot be read report zero dimensions.
func (a *Analyzer) AnalyzeArchive(ctx context.Context, data []byte) (*ArchiveReport, error) {
	images, err := a.archive.Unpack(ctx, data)
	if err != nil {
		return nil, err
	}

	report := &ArchiveReport{
		PageCount: len(images),
		Pages:     make([]ArchivePage, 0, len(images)),
		SizeMB:    float64(len(data)) / (1024 * 1024),
	}
	for i, img := range images {
		w, h, err := codec.ProbeDimensions(img.Data)
		if err != nil {
			a.log.Debug().Err(err).Str("name", img.Name).Msg("cannot read image dimensions")
			w, h = 0, 0
		}
		report.Pages = append(report.Pages, ArchivePage{
			PageNumber: i + 1,
			FileName:   img.Name,
			Width:      w,
			Height:     h,
			Format:     imageFormat(img),
			SizeKB:     float64(len(img.Data)) / 1024,
		})
	}
	return report, nil
}

// imageFormat prefers the format named by the data over the file extension.
func imageFormat(img domain.ImageEntry) string {
	if f := codec.Format(img.Data); f != "" {
		return f
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(img.Name)), ".")
	switch ext {
	case "jpg", "jpe":
		return codec.FormatJPEG
	case "":
		return "unknown"
	}
	return ext
}
