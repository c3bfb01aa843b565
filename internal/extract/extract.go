package extract

import (
	"image"

	"github.com/spherical/pdfcbz/internal/codec"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/engine"
)

// ExtractAsPNG fetches the raw bitmap of the image object at objectIndex
// and encodes it losslessly as 8-bit RGB PNG.
func ExtractAsPNG(page engine.Page, objectIndex int) ([]byte, error) {
	img, err := rawBitmap(page, objectIndex)
	if err != nil {
		return nil, err
	}
	data, err := codec.EncodePNG(codec.ToRGB(img))
	if err != nil {
		return nil, domain.ExtractionError("encode extracted image", err).OnPage(page.Number())
	}
	return data, nil
}

// ExtractAsJPEG fetches the raw bitmap of the image object at objectIndex
// and encodes it straight to JPEG at quality, with no PNG intermediate.
func ExtractAsJPEG(page engine.Page, objectIndex, quality int) ([]byte, error) {
	img, err := rawBitmap(page, objectIndex)
	if err != nil {
		return nil, err
	}
	data, err := codec.EncodeJPEG(codec.ToRGB(img), quality)
	if err != nil {
		return nil, domain.ExtractionError("encode extracted image", err).OnPage(page.Number())
	}
	return data, nil
}

// Extract runs ExtractAsPNG or ExtractAsJPEG depending on lossless.
func Extract(page engine.Page, objectIndex int, lossless bool, quality int) ([]byte, error) {
	if lossless {
		return ExtractAsPNG(page, objectIndex)
	}
	return ExtractAsJPEG(page, objectIndex, quality)
}

func rawBitmap(page engine.Page, objectIndex int) (image.Image, error) {
	img, err := page.RawBitmap(objectIndex)
	if err != nil {
		return nil, domain.ExtractionError("raw bitmap", err).OnPage(page.Number())
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, domain.ExtractionError("raw bitmap is empty", engine.ErrRawUnavailable).OnPage(page.Number())
	}
	return img, nil
}
