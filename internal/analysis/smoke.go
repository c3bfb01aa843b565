package analysis

import (
	"context"
	"image"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
)

const (
	SmokeDPI = 200
	// DefaultMaxWhiteRatio fails pages that render almost blank.
	DefaultMaxWhiteRatio = 0.95
	// DefaultMinBBoxCoverage fails pages whose content covers too little of
	// the page box.
	DefaultMinBBoxCoverage = 0.30
	// FullBleedCoverage marks content that fills the page box.
	FullBleedCoverage = 0.95

	thumbSize  = 64
	whiteLevel = 250
)

// SmokeOptions configure SmokeRender. Zero values take the defaults.
type SmokeOptions struct {
	// Page is 1-based.
	Page            int
	DPI             int
	MaxWhiteRatio   float64
	MinBBoxCoverage float64
}

func (o *SmokeOptions) normalize() {
	if o.Page == 0 {
		o.Page = 1
	}
	if o.DPI == 0 {
		o.DPI = SmokeDPI
	}
	if o.MaxWhiteRatio == 0 {
		o.MaxWhiteRatio = DefaultMaxWhiteRatio
	}
	if o.MinBBoxCoverage == 0 {
		o.MinBBoxCoverage = DefaultMinBBoxCoverage
	}
}

// SmokeReport is the result of a smoke render.
type SmokeReport struct {
	Page     int         `json:"page"`
	Pages    int         `json:"pages"`
	DPI      int         `json:"dpi"`
	WidthPx  int         `json:"width_px"`
	HeightPx int         `json:"height_px"`
	MediaBox engine.Rect `json:"media_box"`
	// CropBox is nil when the page does not define one.
	CropBox *engine.Rect   `json:"crop_box,omitempty"`
	Objects map[string]int `json:"objects"`
	// ContentBox is the union of all object bounds, nil for a page without
	// bounded objects.
	ContentBox   *engine.Rect `json:"content_box,omitempty"`
	BBoxCoverage float64      `json:"bbox_coverage"`
	Sparse       bool         `json:"sparse"`
	FullBleed    bool         `json:"full_bleed"`
	WhiteRatio   float64      `json:"white_ratio"`
	Passed       bool         `json:"passed"`
	// PNG is the rendered page.
	PNG []byte `json:"-"`
}

// SmokeRender renders one page and checks that the result is neither blank
// nor dominated by empty page area.
func (a *Analyzer) SmokeRender(ctx context.Context, data []byte, opts SmokeOptions) (*SmokeReport, error) {
	opts.normalize()
	if opts.DPI < 0 || opts.Page < 1 {
		return nil, domain.ValidationError("page must be at least 1 and dpi must not be negative", nil)
	}

	doc, err := a.engine.Load(data)
	if err != nil {
		return nil, domain.DocumentLoadError("failed to load PDF document", err)
	}
	defer doc.Close()

	if opts.Page > doc.PageCount() {
		return nil, domain.ValidationError("page out of range", engine.ErrPageIndex)
	}
	page, err := doc.Page(opts.Page - 1)
	if err != nil {
		return nil, domain.PageAccessError(opts.Page, err)
	}

	report := &SmokeReport{
		Page:     opts.Page,
		Pages:    doc.PageCount(),
		DPI:      opts.DPI,
		MediaBox: page.MediaBox(),
		Objects:  map[string]int{},
	}
	if crop, ok := page.CropBox(); ok {
		report.CropBox = &crop
	}

	objects, err := page.Objects()
	if err != nil {
		a.log.Warn().Err(err).Int("page", opts.Page).Msg("objects unavailable, coverage is zero")
	}
	var content engine.Rect
	bounded := 0
	for _, obj := range objects {
		report.Objects[obj.Kind.String()]++
		if !obj.HasBounds {
			continue
		}
		b := obj.Bounds.Normalize()
		if bounded == 0 {
			content = b
		} else {
			content = content.Union(b)
		}
		bounded++
	}
	if bounded > 0 {
		report.ContentBox = &content
		if area := engine.EffectiveBox(page).Area(); area > 0 {
			report.BBoxCoverage = content.Area() / area
		}
	}
	report.Sparse = report.BBoxCoverage < opts.MinBBoxCoverage
	report.FullBleed = report.BBoxCoverage > FullBleedCoverage

	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}
	w, h := page.Size()
	report.WidthPx, report.HeightPx = codec.PixelsAt(w, opts.DPI), codec.PixelsAt(h, opts.DPI)
	img, err := page.Render(report.WidthPx, report.HeightPx)
	if err != nil {
		return nil, domain.RenderError(opts.Page, err)
	}
	report.WhiteRatio = WhiteRatio(img)
	if report.PNG, err = codec.EncodePNG(img); err != nil {
		return nil, err
	}

	report.Passed = report.WhiteRatio <= opts.MaxWhiteRatio && report.BBoxCoverage >= opts.MinBBoxCoverage
	a.log.Info().
		Int("page", opts.Page).
		Float64("white_ratio", report.WhiteRatio).
		Float64("bbox_coverage", report.BBoxCoverage).
		Bool("passed", report.Passed).
		Msg("smoke render")
	return report, nil
}

// WhiteRatio is the share of white pixels in a 64x64 thumbnail of img. A
// pixel is white when none of its channels is below 250.
func WhiteRatio(img image.Image) float64 {
	thumb := codec.ToRGB(codec.Resize(img, thumbSize, thumbSize))
	nonWhite := 0
	for i := 0; i < len(thumb.Pix); i += 4 {
		if thumb.Pix[i] < whiteLevel || thumb.Pix[i+1] < whiteLevel || thumb.Pix[i+2] < whiteLevel {
			nonWhite++
		}
	}
	return 1 - float64(nonWhite)/float64(thumbSize*thumbSize)
}
