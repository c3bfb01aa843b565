package domain

import (
	"fmt"
	"time"
)

// Direction of a conversion
type Direction string

const (
	DirectionPDFToCBZ Direction = "pdf_to_cbz"
	DirectionCBZToPDF Direction = "cbz_to_pdf"
)

// PagePath records how a page image was produced
type PagePath string

const (
	PathExtracted PagePath = "extract"
	PathRendered  PagePath = "render"
)

// PageEntry is one encoded output page of the PDF to CBZ pipeline.
// Entries are produced out of order and re-sorted by PageNumber.
type PageEntry struct {
	PageNumber int
	Filename   string
	Data       []byte
	Path       PagePath
}

// PageFilename returns the zero-padded archive name for a page.
func PageFilename(pageNumber int, lossless bool) string {
	ext := "jpg"
	if lossless {
		ext = "png"
	}
	return fmt.Sprintf("page_%04d.%s", pageNumber, ext)
}

// ImageEntry is an image stored in a CBZ/CBR archive.
type ImageEntry struct {
	Name string
	Data []byte
}

// PdfToCbzOptions controls a PDF to CBZ conversion
type PdfToCbzOptions struct {
	DPI      int
	Lossless bool
	Quality  int
	MaxPages int
	Workers  int
	// FastRender renders at 72 DPI and upscales in the worker pool.
	FastRender bool
	// Progress is optional.
	Progress ProgressFunc
}

// CbzToPdfOptions controls a CBZ to PDF conversion
type CbzToPdfOptions struct {
	Lossless bool
	Quality  int
	Progress ProgressFunc
}

// ConversionStats summarises a finished conversion
type ConversionStats struct {
	Pages          int           `json:"pages"`
	ExtractedPages int           `json:"extracted_pages"`
	RenderedPages  int           `json:"rendered_pages"`
	InputBytes     int64         `json:"input_bytes"`
	OutputBytes    int64         `json:"output_bytes"`
	Duration       time.Duration `json:"duration_ns"`
	CacheHit       bool          `json:"cache_hit"`
}

// ConversionRecord is a ledger row for one conversion
type ConversionRecord struct {
	ID             string    `json:"id"`
	Direction      Direction `json:"direction"`
	InputName      string    `json:"input_name"`
	InputBytes     int64     `json:"input_bytes"`
	OutputBytes    int64     `json:"output_bytes"`
	Pages          int       `json:"pages"`
	ExtractedPages int       `json:"extracted_pages"`
	RenderedPages  int       `json:"rendered_pages"`
	DurationMS     int64     `json:"duration_ms"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Stage of a running conversion, reported through ProgressEvent
type Stage string

const (
	StageLoad     Stage = "load"
	StageScan     Stage = "scan"
	StageEncode   Stage = "encode"
	StagePackage  Stage = "package"
	StageUnpack   Stage = "unpack"
	StageAssemble Stage = "assemble"
	StageDone     Stage = "done"
)

// ProgressEvent reports conversion progress to an observer
type ProgressEvent struct {
	Stage Stage
	Page  int
	Total int
	Path  PagePath
}

// ProgressFunc receives progress events. It may be called from several
// goroutines at once and must not block.
type ProgressFunc func(ProgressEvent)

// Emit calls f if it is set.
func (f ProgressFunc) Emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}
