package domain

import "context"

// Converter runs conversions in both directions
type Converter interface {
	// PdfToCbz turns a PDF into a CBZ archive of page images
	PdfToCbz(ctx context.Context, pdf []byte, opts PdfToCbzOptions) ([]byte, *ConversionStats, error)

	// CbzToPdf turns a CBZ or CBR archive into a PDF with one image per page
	CbzToPdf(ctx context.Context, archive []byte, opts CbzToPdfOptions) ([]byte, *ConversionStats, error)
}

// Ledger stores a history of conversions
type Ledger interface {
	Record(ctx context.Context, rec *ConversionRecord) error
	Recent(ctx context.Context, limit int) ([]ConversionRecord, error)
	Close() error
}
