// Package pdf assembles image sequences into PDF documents.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

// A4 page size.
const (
	PageWidthMM  = 210.0
	PageHeightMM = 297.0

	PageWidthIn  = 8.27
	PageHeightIn = 11.69

	mmPerInch = 25.4
)

// Options controls how non-JPEG images are embedded. JPEG images are
// always embedded as they are.
type Options struct {
	// Lossless embeds non-JPEG images as RGB raster. Otherwise they are
	// re-encoded as JPEG at Quality.
	Lossless bool
	Quality  int
}

// Assembler builds one-image-per-page PDFs.
type Assembler struct {
	log *observability.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(log *observability.Logger) *Assembler {
	if log == nil {
		log = observability.Nop()
	}
	return &Assembler{log: log.WithComponent("assembler")}
}

// Placement is where an image lands on its page, in millimetres with the
// origin at the bottom-left corner.
type Placement struct {
	DPI    float64
	X, Y   float64
	Width  float64
	Height float64
}

// Place scales a w x h pixel image so it fits an A4 page. The DPI is the
// larger of the two per-axis DPIs, so the image never overflows. The image
// sits at the page origin and is not centred.
func Place(w, h int) Placement {
	dpi := float64(w) / PageWidthIn
	if dy := float64(h) / PageHeightIn; dy > dpi {
		dpi = dy
	}
	return Placement{
		DPI:    dpi,
		Width:  float64(w) / dpi * mmPerInch,
		Height: float64(h) / dpi * mmPerInch,
	}
}

// Assemble returns a PDF with one A4 page per image, in order.
func (a *Assembler) Assemble(images []domain.ImageEntry, opts Options) ([]byte, error) {
	if len(images) == 0 {
		return nil, domain.NoImagesFoundError("nothing to assemble")
	}

	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: PageWidthMM, Ht: PageHeightMM},
	})
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	doc.SetCreator("pdfcbz", true)
	doc.SetTitle("CBZ to PDF", true)

	passthrough := 0
	for i, img := range images {
		data, imageType, reencoded, err := prepare(img, opts)
		if err != nil {
			return nil, err
		}
		if !reencoded {
			passthrough++
		}

		w, h, err := codec.ProbeDimensions(data)
		if err != nil {
			return nil, domain.EncodeError("probe "+img.Name, err)
		}
		pl := Place(w, h)

		name := fmt.Sprintf("page%d", i+1)
		imgOpts := gofpdf.ImageOptions{ImageType: imageType}
		doc.AddPage()
		doc.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(data))
		// gofpdf measures y from the top edge
		doc.ImageOptions(name, pl.X, PageHeightMM-pl.Height-pl.Y, pl.Width, pl.Height, false, imgOpts, 0, "")
		if err := doc.Error(); err != nil {
			return nil, domain.EncodeError("embed "+img.Name, err)
		}

		a.log.Debug().
			Str("image", img.Name).
			Int("width", w).
			Int("height", h).
			Float64("dpi", pl.DPI).
			Bool("reencoded", reencoded).
			Msg("page added")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, domain.SerializationError("write PDF", err)
	}

	a.log.Info().
		Int("pages", len(images)).
		Int("passthrough", passthrough).
		Int("bytes", buf.Len()).
		Msg("PDF assembled")
	return buf.Bytes(), nil
}

// prepare returns the bytes to embed and their gofpdf image type. JPEG data
// is returned untouched.
func prepare(img domain.ImageEntry, opts Options) ([]byte, string, bool, error) {
	if codec.Format(img.Data) == codec.FormatJPEG {
		return img.Data, "JPG", false, nil
	}

	decoded, _, err := codec.Decode(img.Data)
	if err != nil {
		return nil, "", false, domain.EncodeError("decode "+img.Name, err)
	}
	rgb := codec.ToRGB(decoded)

	if opts.Lossless {
		data, err := codec.EncodePNG(rgb)
		if err != nil {
			return nil, "", false, err
		}
		return data, "PNG", true, nil
	}
	data, err := codec.EncodeJPEG(rgb, opts.Quality)
	if err != nil {
		return nil, "", false, err
	}
	return data, "JPG", true, nil
}
