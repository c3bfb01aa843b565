package analysis

import (
	"context"
	"image"
	"strings"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
)

// Preview is one encoded page.
type Preview struct {
	Data   []byte          `json:"-"`
	Format string          `json:"format"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Page   int             `json:"page"`
	Pages  int             `json:"pages"`
	Path   domain.PagePath `json:"path,omitempty"`
}

// PreviewOptions configure a preview. Format is "png" or "jpeg"; Quality
// applies to JPEG output.
type PreviewOptions struct {
	Format  string
	Quality int
	// DPI applies to rendered PDF pages.
	DPI int
}

func (o *PreviewOptions) normalize() error {
	switch strings.ToLower(o.Format) {
	case "", "jpg", "jpeg":
		o.Format = codec.FormatJPEG
	case "png":
		o.Format = codec.FormatPNG
	default:
		return domain.ValidationError("preview format must be png or jpeg", nil)
	}
	if o.Quality == 0 {
		o.Quality = config.DefaultInteractiveQuality
	}
	if err := config.ValidateQuality(o.Quality); err != nil {
		return domain.ValidationError("quality must be 1-100", err)
	}
	if o.DPI < 0 {
		return domain.ValidationError("dpi must not be negative", nil)
	}
	if o.DPI == 0 {
		o.DPI = config.DefaultInteractiveDPI
	}
	return nil
}

// PreviewPDFPage produces one page the way a conversion would: the embedded
// image when the page has an extractable candidate, a render otherwise.
// page is 1-based.
func (a *Analyzer) PreviewPDFPage(ctx context.Context, data []byte, page int, opts PreviewOptions) (*Preview, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	doc, err := a.engine.Load(data)
	if err != nil {
		return nil, domain.DocumentLoadError("failed to load PDF document", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.PageCount() {
		return nil, domain.ValidationError("page out of range", nil)
	}
	p, err := doc.Page(page - 1)
	if err != nil {
		return nil, domain.PageAccessError(page, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.CancelledError(err)
	}

	var img image.Image
	path := domain.PathRendered
	if candidate, _, err := a.selector.FindBestImageCandidate(p); err == nil && candidate != nil && candidate.CanExtractRaw {
		if raw, err := p.RawBitmap(candidate.ObjectIndex); err == nil && !raw.Bounds().Empty() {
			img, path = raw, domain.PathExtracted
		} else {
			a.log.Debug().Err(err).Int("page", page).Msg("preview extraction failed, rendering")
		}
	}
	if img == nil {
		w, h := p.Size()
		if img, err = p.Render(codec.PixelsAt(w, opts.DPI), codec.PixelsAt(h, opts.DPI)); err != nil {
			return nil, domain.RenderError(page, err)
		}
	}

	out, err := codec.Encode(codec.ToRGB(img), opts.Format == codec.FormatPNG, opts.Quality)
	if err != nil {
		return nil, domain.EncodeError("encode preview", err).OnPage(page)
	}
	b := img.Bounds()
	return &Preview{
		Data:   out,
		Format: opts.Format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Page:   page,
		Pages:  doc.PageCount(),
		Path:   path,
	}, nil
}

// PreviewArchivePage returns the archive image at a zero-based index in
// page order. Data already in the requested format is returned unchanged.
func (a *Analyzer) PreviewArchivePage(ctx context.Context, data []byte, index int, opts PreviewOptions) (*Preview, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	entry, total, err := a.archive.PageAt(ctx, data, index)
	if err != nil {
		return nil, err
	}

	preview := &Preview{Format: opts.Format, Page: index + 1, Pages: total}
	if codec.Format(entry.Data) == opts.Format {
		w, h, err := codec.ProbeDimensions(entry.Data)
		if err != nil {
			return nil, domain.EncodeError("read "+entry.Name, err)
		}
		preview.Data, preview.Width, preview.Height = entry.Data, w, h
		return preview, nil
	}

	img, _, err := codec.Decode(entry.Data)
	if err != nil {
		return nil, domain.EncodeError("decode "+entry.Name, err)
	}
	if preview.Data, err = codec.Encode(codec.ToRGB(img), opts.Format == codec.FormatPNG, opts.Quality); err != nil {
		return nil, err
	}
	b := img.Bounds()
	preview.Width, preview.Height = b.Dx(), b.Dy()
	return preview, nil
}
