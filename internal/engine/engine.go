// Package engine defines the PDF rendering engine the converters drive.
//
// Documents and pages are not safe for concurrent use. A Document must stay
// on the goroutine that loaded it, and only one Document should be open per
// process at a time; callers serialise conversions with a gate.
package engine

import (
	"errors"
	"image"
	"math"
)

var (
	// ErrObjectIndex is returned when an object index is outside the page's object list.
	ErrObjectIndex = errors.New("object index out of range")
	// ErrNotImage is returned when the addressed object is not an image.
	ErrNotImage = errors.New("object is not an image")
	// ErrRawUnavailable is returned when an image's bitmap cannot be decoded.
	ErrRawUnavailable = errors.New("raw bitmap unavailable")
	// ErrPageIndex is returned for page indices outside the document.
	ErrPageIndex = errors.New("page index out of range")
)

// Engine loads documents.
type Engine interface {
	Load(data []byte) (Document, error)
}

// Document is an open PDF.
type Document interface {
	PageCount() int
	// Page returns the page at a zero-based index.
	Page(index int) (Page, error)
	Close() error
}

// Page is a borrowed handle on one page of a Document.
type Page interface {
	// Number is the 1-based page number.
	Number() int
	// Size is the displayed page size in points, rotation applied.
	Size() (widthPt, heightPt float64)
	MediaBox() Rect
	// CropBox reports the crop box, false if the page does not define one.
	CropBox() (Rect, bool)
	// Objects enumerates the top-level page objects in content order.
	// Indices into the result are only meaningful for this page handle.
	Objects() ([]Object, error)
	// RawBitmap decodes the embedded image at objectIndex.
	RawBitmap(objectIndex int) (image.Image, error)
	// Render rasterises the whole page to exactly widthPx x heightPx.
	Render(widthPx, heightPx int) (image.Image, error)
}

// ObjectKind classifies a page object.
type ObjectKind int

const (
	KindOther ObjectKind = iota
	KindImage
	KindText
	KindPath
	KindForm
)

func (k ObjectKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindText:
		return "text"
	case KindPath:
		return "path"
	case KindForm:
		return "form"
	default:
		return "other"
	}
}

// Object is one page object.
type Object struct {
	Kind ObjectKind
	// Bounds in page space points; meaningful only when HasBounds is set.
	Bounds    Rect
	HasBounds bool
	// RawAvailable reports whether RawBitmap can be expected to succeed.
	RawAvailable bool
}

// Rect is an axis-aligned rectangle in points, PDF orientation (y up).
type Rect struct {
	Left, Bottom, Right, Top float64
}

// Width of r.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height of r.
func (r Rect) Height() float64 { return r.Top - r.Bottom }

// Area of r; zero for empty or inverted rectangles.
func (r Rect) Area() float64 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Area() == 0 }

// Normalize returns r with Left <= Right and Bottom <= Top.
func (r Rect) Normalize() Rect {
	return Rect{
		Left:   math.Min(r.Left, r.Right),
		Bottom: math.Min(r.Bottom, r.Top),
		Right:  math.Max(r.Left, r.Right),
		Top:    math.Max(r.Bottom, r.Top),
	}
}

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   math.Min(r.Left, o.Left),
		Bottom: math.Min(r.Bottom, o.Bottom),
		Right:  math.Max(r.Right, o.Right),
		Top:    math.Max(r.Top, o.Top),
	}
}

// Intersect returns the overlap of r and o, which may be empty.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		Left:   math.Max(r.Left, o.Left),
		Bottom: math.Max(r.Bottom, o.Bottom),
		Right:  math.Min(r.Right, o.Right),
		Top:    math.Min(r.Top, o.Top),
	}
}

// EffectiveBox returns the crop box, or the media box when there is none.
func EffectiveBox(p Page) Rect {
	if crop, ok := p.CropBox(); ok && !crop.Empty() {
		return crop
	}
	return p.MediaBox()
}
